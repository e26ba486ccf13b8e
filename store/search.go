package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"arxiv-hype/metrics"
	"arxiv-hype/models"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

const (
	DefaultTopK = 10
	MaxTopK     = 500
)

// SearchOptions schränkt die Ähnlichkeitssuche ein. Datumsgrenzen gelten für
// den Kalendertag von published_ts, jeweils inklusive.
type SearchOptions struct {
	LexicalQuery  string
	StartDate     *time.Time
	EndDate       *time.Time
	RequireSocial bool
	TopK          int
}

// ClampTopK begrenzt k auf [1, MaxTopK]; 0 und negative Werte werden zu 1.
func ClampTopK(k int) int {
	switch {
	case k < 1:
		return 1
	case k > MaxTopK:
		return MaxTopK
	}
	return k
}

// Spalten eines Suchtreffers, ohne Embedding.
func resultColumns() []string {
	return append([]string{"arxiv_id", "title", "abstract", "published_ts"}, AllCounterColumns()...)
}

// BuildSimilarityQuery baut die Cosinus-Ähnlichkeitsabfrage. Filterwerte sind
// immer Parameter, nur deklarierte Bezeichner landen im SQL-Text.
func BuildSimilarityQuery(vec []float32, opts SearchOptions) (string, []any, error) {
	if len(vec) == 0 {
		return "", nil, validationErrorf("empty query vector")
	}
	if opts.StartDate != nil && opts.EndDate != nil && opts.EndDate.Before(*opts.StartDate) {
		return "", nil, validationErrorf("end date %s before start date %s",
			opts.EndDate.Format(time.DateOnly), opts.StartDate.Format(time.DateOnly))
	}
	cols := resultColumns()
	if err := mustDeclared(append(cols, PaperTable.Name, "embedding", "text_search_vector")...); err != nil {
		return "", nil, err
	}

	args := []any{pgvector.NewVector(vec)}
	where := []string{"embedding IS NOT NULL"}
	if opts.StartDate != nil {
		where = append(where, "DATE(published_ts) >= CAST(? AS date)")
		args = append(args, opts.StartDate.Format(time.DateOnly))
	}
	if opts.EndDate != nil {
		where = append(where, "DATE(published_ts) <= CAST(? AS date)")
		args = append(args, opts.EndDate.Format(time.DateOnly))
	}
	if opts.RequireSocial {
		var social []string
		for _, c := range AllCounterColumns() {
			social = append(social, c+" > 0")
		}
		where = append(where, "("+strings.Join(social, " OR ")+")")
	}
	if q := strings.TrimSpace(opts.LexicalQuery); q != "" {
		where = append(where, "text_search_vector @@ websearch_to_tsquery('english', ?)")
		args = append(args, q)
	}
	args = append(args, ClampTopK(opts.TopK))

	query := fmt.Sprintf("SELECT %s, 1 - (embedding <=> CAST(? AS vector)) AS similarity FROM %s WHERE %s ORDER BY similarity DESC LIMIT ?",
		strings.Join(cols, ", "), PaperTable.Name, strings.Join(where, " AND "))
	return query, args, nil
}

// Search liefert die ähnlichsten Paper zu vec. Sind die Versuche aufgebraucht,
// kommt eine leere Liste zusammen mit dem Fehler zurück.
func (r *Reader) Search(ctx context.Context, vec []float32, opts SearchOptions) ([]models.SimilarityResult, error) {
	query, args, err := BuildSimilarityQuery(vec, opts)
	if err != nil {
		metrics.SearchRequests.WithLabelValues("invalid").Inc()
		return nil, err
	}

	var results []models.SimilarityResult
	err = r.Retrier.Do(ctx, "similarity_search", func(ctx context.Context) error {
		results = results[:0]
		return r.DB.WithContext(ctx).Raw(query, args...).Scan(&results).Error
	})
	if err != nil {
		metrics.SearchRequests.WithLabelValues("error").Inc()
		r.Logger.Error("Ähnlichkeitssuche fehlgeschlagen", zap.Error(err))
		return []models.SimilarityResult{}, err
	}
	metrics.SearchRequests.WithLabelValues("ok").Inc()
	if results == nil {
		results = []models.SimilarityResult{}
	}
	return results, nil
}
