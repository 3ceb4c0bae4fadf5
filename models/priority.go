package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Queue priority. Stored as an integer so that "ORDER BY priority DESC" is meaningful; serialized to JSON by name.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
	PriorityUrgent Priority = 3
)

var priorityNames = map[Priority]string{
	PriorityLow:    "LOW",
	PriorityNormal: "NORMAL",
	PriorityHigh:   "HIGH",
	PriorityUrgent: "URGENT",
}

func (p Priority) String() string {
	if n, ok := priorityNames[p]; ok {
		return n
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

// One level higher, capped at URGENT.
func (p Priority) Bump() Priority {
	if p >= PriorityUrgent {
		return PriorityUrgent
	}
	return p + 1
}

func MaxPriority(a, b Priority) Priority {
	if a > b {
		return a
	}
	return b
}

func ParsePriority(raw string) (Priority, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	for p, n := range priorityNames {
		if n == name {
			return p, nil
		}
	}
	return PriorityNormal, fmt.Errorf("unknown priority: %q", raw)
}

func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
