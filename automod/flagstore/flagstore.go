// Persistent sets of string flags, keyed by content reference (eg, "POST:123" -> ["keyword:scam", "classifier:harassment"]).
//
// Flags are attached by automated checks during submission and are informational for reviewers; they carry no state machine semantics.
package flagstore

import (
	"context"
	"sort"
)

type FlagStore interface {
	Get(ctx context.Context, key string) ([]string, error)
	Add(ctx context.Context, key string, flags []string) error
	Remove(ctx context.Context, key string, flags []string) error
}

func dedupeStrings(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		if !seen[v] {
			out = append(out, v)
			seen[v] = true
		}
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
