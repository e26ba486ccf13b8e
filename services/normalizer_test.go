package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Deep\n  Learning  ", "Deep Learning"},
		{"self-super-\nvised learning", "self-supervised learning"},
		{"Graph Neural Net-\nWorks", "Graph Neural Net- Works"},
		{"e\u0301cole", "\u00e9cole"},
		{"eﬃcient", "efficient"},
		{"a\u00a0\u00a0b", "a b"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeText(tt.in), "input %q", tt.in)
	}
}

func TestNormalizeAuthorTruncatesOnRunes(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", NormalizeAuthor("  Ada\tLovelace ", 256))
	assert.Equal(t, "Jürg", NormalizeAuthor("Jürgen", 4))
	long := strings.Repeat("ä", 300)
	assert.Equal(t, strings.Repeat("ä", 256), NormalizeAuthor(long, 256))
}

func TestNormalizeCategory(t *testing.T) {
	assert.Equal(t, "cs.LG", NormalizeCategory(" cs.LG ", 32))
	assert.Equal(t, "cs", NormalizeCategory("cs.LG", 2))
}
