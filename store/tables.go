// Package store enthält die Schreib- und Lesebausteine für PostgreSQL:
// Tabellenbeschreibungen, Spaltenkatalog, Staging-Merge, Lesepfad und Retry.
package store

import (
	"fmt"
	"regexp"
	"slices"
)

// Table beschreibt eine Tabelle. Columns ist das deklarierte Schema, die
// tatsächlichen Spalten kommen aus dem Catalog.
type Table struct {
	Name      string
	Key       []string
	Generated []string
	Columns   []string
}

// IsGenerated meldet, ob col von der Datenbank berechnet wird.
func (t Table) IsGenerated(col string) bool {
	return slices.Contains(t.Generated, col)
}

const (
	MaxAuthorLen   = 256
	MaxCategoryLen = 32
)

var (
	PaperTable = Table{
		Name:      "arxiv",
		Key:       []string{"arxiv_id"},
		Generated: []string{"text_search_vector"},
		Columns: []string{
			"arxiv_id", "title", "abstract", "published_ts", "embedding",
			"twitter_likes", "twitter_retweets", "twitter_replies", "twitter_quotes", "twitter_impressions",
			"hnews_points", "hnews_num_comments",
			"text_search_vector",
		},
	}
	AuthorTable = Table{
		Name:    "arxiv_author",
		Key:     []string{"arxiv_id", "author"},
		Columns: []string{"arxiv_id", "author"},
	}
	CategoryTable = Table{
		Name:    "arxiv_category",
		Key:     []string{"arxiv_id", "category"},
		Columns: []string{"arxiv_id", "category"},
	}
	TweetTable = Table{
		Name:    "tweet",
		Key:     []string{"tweet_id"},
		Columns: []string{"tweet_id", "created_at", "likes", "retweets", "replies", "quotes", "impressions"},
	}
	PaperTweetTable = Table{
		Name:    "arxiv_tweet",
		Key:     []string{"arxiv_id", "tweet_id"},
		Columns: []string{"arxiv_id", "tweet_id"},
	}
	HNewsTable = Table{
		Name:    "hnews",
		Key:     []string{"hnews_id"},
		Columns: []string{"hnews_id", "created_at", "points", "num_comments", "is_story", "is_comment"},
	}
	PaperHNewsTable = Table{
		Name:    "arxiv_hnews",
		Key:     []string{"arxiv_id", "hnews_id"},
		Columns: []string{"arxiv_id", "hnews_id"},
	}
)

// Tables: alle Tabellen, Eltern zuerst.
var Tables = []Table{PaperTable, AuthorTable, CategoryTable, TweetTable, PaperTweetTable, HNewsTable, PaperHNewsTable}

// Source beschreibt eine Quelle für Erwähnungen samt Verknüpfungstabelle zu
// den Papern und den Zählern, die in die Paper-Spalten aufsummiert werden.
type Source struct {
	Name      string
	Mentions  Table
	CrossRefs Table
	IDColumn  string
	Counters  []string
	Extras    []string
}

var (
	Twitter = Source{
		Name:      "twitter",
		Mentions:  TweetTable,
		CrossRefs: PaperTweetTable,
		IDColumn:  "tweet_id",
		Counters:  []string{"likes", "retweets", "replies", "quotes", "impressions"},
	}
	HNews = Source{
		Name:      "hnews",
		Mentions:  HNewsTable,
		CrossRefs: PaperHNewsTable,
		IDColumn:  "hnews_id",
		Counters:  []string{"points", "num_comments"},
		Extras:    []string{"is_story", "is_comment"},
	}
)

// Sources sind alle bekannten Quellen.
var Sources = []Source{Twitter, HNews}

// SourceByName löst einen konfigurierten Quellnamen auf.
func SourceByName(name string) (Source, error) {
	for _, s := range Sources {
		if s.Name == name {
			return s, nil
		}
	}
	return Source{}, validationErrorf("unknown mention source %q", name)
}

// CounterColumn liefert die Paper-Spalte für counter (z.B. twitter_likes).
func (s Source) CounterColumn(counter string) string {
	return s.Name + "_" + counter
}

// CounterColumns liefert die Paper-Spalten dieser Quelle.
func (s Source) CounterColumns() []string {
	cols := make([]string, len(s.Counters))
	for i, c := range s.Counters {
		cols[i] = s.CounterColumn(c)
	}
	return cols
}

// AllCounterColumns liefert die Zählerspalten aller Quellen.
func AllCounterColumns() []string {
	var cols []string
	for _, s := range Sources {
		cols = append(cols, s.CounterColumns()...)
	}
	return cols
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// known enthält alle oben deklarierten Tabellen- und Spaltennamen. Nur diese
// dürfen die Query-Builder in SQL-Text einsetzen.
var known = func() map[string]struct{} {
	m := map[string]struct{}{}
	for _, t := range Tables {
		m[t.Name] = struct{}{}
		for _, c := range t.Columns {
			m[c] = struct{}{}
		}
	}
	return m
}()

// identifier prüft, ob name in SQL-Text eingesetzt werden darf. Namen kommen
// aus den Deklarationen oder aus dem Catalog.
func identifier(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", validationErrorf("invalid identifier %q", name)
	}
	return name, nil
}

// declared ist die strengere Prüfung für den Lesepfad: name muss deklariert sein.
func declared(name string) (string, error) {
	if _, ok := known[name]; !ok {
		return "", validationErrorf("identifier %q is not part of the schema", name)
	}
	return identifier(name)
}

func mustDeclared(names ...string) error {
	for _, n := range names {
		if _, err := declared(n); err != nil {
			return fmt.Errorf("query builder: %w", err)
		}
	}
	return nil
}
