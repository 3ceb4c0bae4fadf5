package keyword

import (
	"regexp"
)

var nonSlugChars = regexp.MustCompile(`[^\pL\pN]+`)

// Normalizes text and then strips every non-letter, non-digit character. Catches simple obfuscation like "s.c.a.m" or "s c a m".
func Slugify(orig string) string {
	return nonSlugChars.ReplaceAllString(NormalizeText(orig), "")
}
