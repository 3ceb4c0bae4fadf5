package keyword

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	assert := assert.New(t)

	fixtures := []struct {
		text string
		out  string
	}{
		{text: "", out: ""},
		{text: "  Hello,\n\tWORLD ", out: "hello, world"},
		{text: "Gdańsk", out: "gdansk"},
		{text: "BUY now!!! cheap-meds", out: "buy now!!! cheap-meds"},
	}

	for _, fix := range fixtures {
		assert.Equal(fix.out, NormalizeText(fix.text))
	}
}

func TestSlugify(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("scam", Slugify("S.c.a.m"))
	assert.Equal("gdansk123", Slugify("Gdańsk 123"))
	assert.Equal("helloโลก", Slugify("Hello, โลก!"))
}
