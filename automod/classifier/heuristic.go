package classifier

import (
	"github.com/bluesky-social/modqueue/automod/keyword"
)

// Keyword lists per category used when no upstream verdict is available. Deliberately small; operators are expected to lean on rule configs for site-specific terms.
var DefaultHeuristicCategories = map[string][]string{
	"spam": {
		"buy now", "click here", "free money", "limited time offer", "act now", "work from home", "guaranteed income",
	},
	"scam": {
		"wire transfer", "gift card", "send bitcoin", "western union", "advance fee", "verify your account",
	},
	"harassment": {
		"kill yourself", "kys", "nobody likes you", "you should die",
	},
	"violence": {
		"i will kill", "shoot you", "bomb threat",
	},
}

// Score for a category with a single matched term. Each additional term adds heuristicStep, up to 1.
const (
	heuristicBase = 0.6
	heuristicStep = 0.15
)

// Local classifier used as a fallback. Scores are coarse: a category with any matching term scores at least heuristicBase, which is also the flagging threshold.
type Heuristic struct {
	matchers map[string]*keyword.Matcher
}

func NewHeuristic(categories map[string][]string) *Heuristic {
	h := &Heuristic{matchers: make(map[string]*keyword.Matcher, len(categories))}
	for cat, terms := range categories {
		h.matchers[cat] = keyword.NewMatcher(terms)
	}
	return h
}

func (h *Heuristic) Evaluate(text string) *UpstreamResult {
	out := &UpstreamResult{
		Categories:     make(map[string]bool, len(h.matchers)),
		CategoryScores: make(map[string]float64, len(h.matchers)),
	}
	for cat, m := range h.matchers {
		n := len(m.MatchAll(text))
		score := 0.0
		if n > 0 {
			score = heuristicBase + heuristicStep*float64(n-1)
			if score > 1 {
				score = 1
			}
		}
		out.CategoryScores[cat] = score
		out.Categories[cat] = score >= heuristicBase
		if out.Categories[cat] {
			out.Flagged = true
		}
	}
	return out
}
