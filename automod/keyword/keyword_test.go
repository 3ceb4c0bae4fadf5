package keyword

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatcher(t *testing.T) {
	assert := assert.New(t)

	m := NewMatcher([]string{"Free Money", "crypto", "", "CRYPTO", "wire transfer"})
	assert.Len(m.terms, 3)

	assert.Equal([]string{"Free Money", "crypto"}, m.MatchAll("FREE   money!! buy crypto, more crypto"))
	assert.Equal([]string{"wire transfer"}, m.MatchAll("pay by wire transfer only"))
	assert.Empty(m.MatchAll("a perfectly normal listing"))
	assert.Empty(NewMatcher(nil).MatchAll("anything"))

	// diacritics are folded on both sides
	assert.Equal([]string{"crème"}, NewMatcher([]string{"crème"}).MatchAll("CREME brulee"))
}

func TestMatcherObfuscated(t *testing.T) {
	assert := assert.New(t)

	m := NewMatcher([]string{"scam", "wire transfer", "bot"})

	assert.Equal([]string{"scam"}, m.MatchAll("total s.c.a.m, avoid"))
	assert.Equal([]string{"scam"}, m.MatchAll("S C A M"))
	assert.Equal([]string{"wire transfer"}, m.MatchAll("pay by wire-transfer"))
	assert.Equal([]string{"wire transfer"}, m.MatchAll("W.I.R.E T.R.A.N.S.F.E.R"))

	// short terms only match as written
	assert.Equal([]string{"bot"}, m.MatchAll("a bot account"))
	assert.Empty(m.MatchAll("b.o.t"))
	assert.Empty(m.MatchAll("a perfectly normal listing"))
}
