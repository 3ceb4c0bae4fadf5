package keyword

import (
	"strings"
)

// Terms whose slug is shorter than this are only matched in normalized text; short slugs collide with ordinary words run together.
const minSlugLen = 4

// Case- and diacritic-insensitive substring matcher over an ordered list of blocked terms. Terms are also matched against the slugified text, which catches spelled-out obfuscation like "s.c.a.m" or "f r a u d".
type Matcher struct {
	terms []string
	norms []string
	slugs []string
}

// Terms which normalize to the empty string are ignored; duplicates (after normalization) are kept once, in first-seen order.
func NewMatcher(terms []string) *Matcher {
	m := &Matcher{}
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		n := NormalizeText(t)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		slug := Slugify(t)
		if len([]rune(slug)) < minSlugLen {
			slug = ""
		}
		m.terms = append(m.terms, t)
		m.norms = append(m.norms, n)
		m.slugs = append(m.slugs, slug)
	}
	return m
}

// Returns each configured term found in text, in configuration order. Each term counts once no matter how often it occurs.
func (m *Matcher) MatchAll(text string) []string {
	if len(m.terms) == 0 {
		return nil
	}
	norm := NormalizeText(text)
	var slug string
	var out []string
	for i, n := range m.norms {
		if strings.Contains(norm, n) {
			out = append(out, m.terms[i])
			continue
		}
		if m.slugs[i] == "" {
			continue
		}
		if slug == "" {
			slug = Slugify(text)
		}
		if strings.Contains(slug, m.slugs[i]) {
			out = append(out, m.terms[i])
		}
	}
	return out
}
