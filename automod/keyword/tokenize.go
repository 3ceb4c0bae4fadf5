package keyword

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var spaceRuns = regexp.MustCompile(`\s+`)

// Lower-cases text and folds away combining marks (so "Gdańsk" becomes "gdansk"), and collapses whitespace runs to a single space. Punctuation is kept, so that phrase matching on the result still respects word boundaries the way a reader would see them.
func NormalizeText(text string) string {
	// the transformer is stateful, so it can't be shared between goroutines
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	lower := strings.ToLower(text)
	out, _, err := transform.String(fold, lower)
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		out = lower
	}
	return strings.TrimSpace(spaceRuns.ReplaceAllString(out, " "))
}
