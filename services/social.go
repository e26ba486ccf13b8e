package services

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"arxiv-hype/store"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SocialMetrics summiert die Engagement-Zähler aller Erwähnungen je Paper und
// schreibt sie in die Präfix-Spalten der Paper-Tabelle (z.B. twitter_likes).
type SocialMetrics struct {
	DB           *gorm.DB
	Engine       *store.Engine
	Logger       *zap.Logger
	WriteTimeout time.Duration
}

func NewSocialMetrics(db *gorm.DB, engine *store.Engine, logger *zap.Logger, writeTimeout time.Duration) *SocialMetrics {
	return &SocialMetrics{DB: db, Engine: engine, Logger: logger, WriteTimeout: writeTimeout}
}

// AggregateQuery liefert die Summen je Paper für eine Quelle. Paper ohne
// Erwähnung tauchen nicht auf; ihre Spalten bleiben unverändert.
func AggregateQuery(src store.Source) string {
	sums := make([]string, len(src.Counters))
	for i, c := range src.Counters {
		sums[i] = fmt.Sprintf("CAST(COALESCE(SUM(m.%s), 0) AS bigint) AS %s", c, src.CounterColumn(c))
	}
	return fmt.Sprintf("SELECT x.arxiv_id, %s FROM %s x JOIN %s m ON m.%s = x.%s GROUP BY x.arxiv_id",
		strings.Join(sums, ", "), src.CrossRefs.Name, src.Mentions.Name, src.IDColumn, src.IDColumn)
}

// Recompute berechnet die Zähler der gegebenen Quellen neu, alle in einer
// Transaktion. Unbekannte Quellen werden vor jedem Datenbankzugriff abgelehnt.
func (s *SocialMetrics) Recompute(ctx context.Context, sources ...store.Source) error {
	// nur registrierte Quellen; ihre Bezeichner landen im SQL-Text
	resolved := make([]store.Source, 0, len(sources))
	for _, src := range sources {
		src, err := store.SourceByName(src.Name)
		if err != nil {
			return err
		}
		resolved = append(resolved, src)
	}
	if len(resolved) == 0 {
		return nil
	}

	ctx, cancel := withWriteTimeout(ctx, s.WriteTimeout)
	defer cancel()

	updated := make(map[string]int, len(resolved))
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, src := range resolved {
			n, err := s.recomputeSource(ctx, tx, src)
			if err != nil {
				return err
			}
			updated[src.Name] = n
		}
		return nil
	})
	if err != nil {
		s.Logger.Error("Social-Zähler konnten nicht aktualisiert werden", zap.Error(err))
		return err
	}
	for _, src := range resolved {
		s.Logger.Info("Social-Zähler aktualisiert", zap.String("source", src.Name), zap.Int("papers", updated[src.Name]))
	}
	return nil
}

func (s *SocialMetrics) recomputeSource(ctx context.Context, tx *gorm.DB, src store.Source) (int, error) {
	cols := src.CounterColumns()
	rows, err := readAggregates(ctx, tx, src, cols)
	if err != nil {
		return 0, fmt.Errorf("recompute %s counters: %w", src.Name, err)
	}
	err = s.Engine.Merge(ctx, tx, store.MergeSpec{
		Table:        store.PaperTable,
		Records:      slices.Values(rows),
		KeyColumns:   store.PaperTable.Key,
		WriteColumns: cols,
		Policy:       store.Overwrite,
	})
	if err != nil {
		return 0, fmt.Errorf("recompute %s counters: %w", src.Name, err)
	}
	return len(rows), nil
}

func readAggregates(ctx context.Context, tx *gorm.DB, src store.Source, cols []string) ([]store.Record, error) {
	rows, err := tx.WithContext(ctx).Raw(AggregateQuery(src)).Rows()
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", src.Name, store.Classify(err))
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var id string
		vals := make([]int64, len(cols))
		dest := []any{&id}
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s aggregate: %w", src.Name, err)
		}
		rec := store.Record{"arxiv_id": id}
		for i, c := range cols {
			rec[c] = vals[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", src.Name, store.Classify(err))
	}
	return out, nil
}
