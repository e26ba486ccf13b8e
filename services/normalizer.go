package services

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	hyphenBreakRE = regexp.MustCompile(`([\p{L}\p{N}])-\r?\n[ \t]*(\p{Ll})`)
	whitespaceRE  = regexp.MustCompile(`[\s\x{00A0}]+`)

	ligatures = strings.NewReplacer(
		"ﬁ", "fi",
		"ﬂ", "fl",
		"ﬀ", "ff",
		"ﬃ", "ffi",
		"ﬄ", "ffl",
		"ﬆ", "st",
	)
)

// normalizeUnicode ersetzt Ligaturen und bringt den Text in NFC-Form.
func normalizeUnicode(s string) string {
	s = ligatures.Replace(s)
	normalized, _, err := transform.String(norm.NFC, s)
	if err != nil {
		return s
	}
	return normalized
}

// NormalizeText säubert Titel und Abstracts aus dem arXiv-Feed: Silbentrennung
// am Zeilenende wird entfernt, alle Whitespace-Folgen werden zu einem Space.
func NormalizeText(s string) string {
	s = normalizeUnicode(s)
	s = hyphenBreakRE.ReplaceAllString(s, "$1$2")
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
}

// NormalizeAuthor normalisiert einen Autorennamen und kürzt ihn auf die Spaltenbreite.
func NormalizeAuthor(s string, maxLen int) string {
	return truncateRunes(NormalizeText(s), maxLen)
}

// NormalizeCategory normalisiert eine arXiv-Kategorie wie "cs.LG".
func NormalizeCategory(s string, maxLen int) string {
	return truncateRunes(strings.TrimSpace(normalizeUnicode(s)), maxLen)
}

// truncateRunes kürzt s auf höchstens n Zeichen, ohne ein Zeichen zu zerteilen.
func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
