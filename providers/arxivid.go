package providers

import (
	"regexp"
	"strings"
)

// arXiv-IDs im neuen Schema (YYMM.NNNNN), optional mit Versionssuffix
var (
	arxivURLRE = regexp.MustCompile(`arxiv\.org/(?:abs|pdf)/([0-9]{4}\.[0-9]{4,5})(?:v[0-9]+)?`)
	arxivIDRE  = regexp.MustCompile(`^([0-9]{4}\.[0-9]{4,5})(?:v[0-9]+)?$`)
)

// ExtractIDs findet alle arXiv-IDs in Links innerhalb von text, ohne
// Versionssuffix und ohne Duplikate, in Reihenfolge des ersten Auftretens.
func ExtractIDs(text string) []string {
	matches := arxivURLRE.FindAllStringSubmatch(strings.ToLower(text), -1)
	seen := make(map[string]bool, len(matches))
	var ids []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			ids = append(ids, m[1])
		}
	}
	return ids
}

// URLToID liefert die ID eines arXiv-Links oder "" wenn keiner erkannt wird.
func URLToID(url string) string {
	if ids := ExtractIDs(url); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

// NormalizeID entfernt Leerzeichen und Versionssuffix; ungültige IDs ergeben "".
func NormalizeID(id string) string {
	m := arxivIDRE.FindStringSubmatch(strings.TrimSpace(id))
	if m == nil {
		return ""
	}
	return m[1]
}

// IDToURL baut den Abstract-Link einer ID.
func IDToURL(id string) string {
	if id = NormalizeID(id); id == "" {
		return ""
	}
	return "https://arxiv.org/abs/" + id
}
