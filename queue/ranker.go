package queue

import (
	"fmt"
	"strings"
)

type OrderTerm struct {
	Column string
	Desc   bool
}

// Decides listing order. Kept pluggable: there is no agreed relevance formula yet, only orderings over stored columns.
type Ranker interface {
	Name() string
	Order() []OrderTerm
}

type columnRanker struct {
	name  string
	terms []OrderTerm
}

func (r columnRanker) Name() string {
	return r.name
}

func (r columnRanker) Order() []OrderTerm {
	return r.terms
}

// Highest priority first; within a priority, most recent first.
var PriorityNewest Ranker = columnRanker{
	name: "priority-newest",
	terms: []OrderTerm{
		{Column: "priority", Desc: true},
		{Column: "created_at", Desc: true},
		{Column: "id", Desc: true},
	},
}

// Highest priority first; within a priority, longest waiting first.
var PriorityOldest Ranker = columnRanker{
	name: "priority-oldest",
	terms: []OrderTerm{
		{Column: "priority", Desc: true},
		{Column: "created_at", Desc: false},
		{Column: "id", Desc: false},
	},
}

var rankers = map[string]Ranker{
	PriorityNewest.Name(): PriorityNewest,
	PriorityOldest.Name(): PriorityOldest,
}

func ParseRanker(name string) (Ranker, error) {
	r, ok := rankers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown queue ranking: %q", name)
	}
	return r, nil
}
