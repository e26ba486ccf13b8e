package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"arxiv-hype/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Reader ist der Lesepfad. Jede Abfrage läuft über den Retrier.
type Reader struct {
	DB      *gorm.DB
	Retrier *Retrier
	Logger  *zap.Logger
}

func NewReader(db *gorm.DB, retrier *Retrier, logger *zap.Logger) *Reader {
	return &Reader{DB: db, Retrier: retrier, Logger: logger}
}

// Paper-Spalten, die ein Filter auf NULL prüfen darf.
var nullableColumns = []string{"title", "abstract", "published_ts", "embedding"}

// PaperFilter wählt Paper aus. IDsOnly und IncludeEmbeddings schließen sich aus.
type PaperFilter struct {
	IDs               []string
	RequiredNull      []string
	IDsOnly           bool
	IncludeEmbeddings bool
	Limit             int
}

func (f PaperFilter) validate() error {
	if f.IDsOnly && f.IncludeEmbeddings {
		return validationErrorf("ids_only and include_embeddings are mutually exclusive")
	}
	if f.Limit < 0 {
		return validationErrorf("negative limit %d", f.Limit)
	}
	for _, c := range f.RequiredNull {
		if !slices.Contains(nullableColumns, c) {
			return validationErrorf("column %q cannot be filtered for NULL", c)
		}
	}
	return nil
}

func (f PaperFilter) columns() []string {
	if f.IDsOnly {
		return []string{"arxiv_id"}
	}
	cols := append([]string{"arxiv_id", "title", "abstract", "published_ts"}, AllCounterColumns()...)
	if f.IncludeEmbeddings {
		cols = append(cols, "embedding")
	}
	return cols
}

// GetPapers liefert die Paper zu f, bei Limit die neuesten zuerst.
func (r *Reader) GetPapers(ctx context.Context, f PaperFilter) ([]models.Paper, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	cols := f.columns()
	if err := mustDeclared(cols...); err != nil {
		return nil, err
	}

	var papers []models.Paper
	err := r.Retrier.Do(ctx, "get_papers", func(ctx context.Context) error {
		q := r.DB.WithContext(ctx).Model(&models.Paper{}).Select(cols)
		for _, c := range f.RequiredNull {
			q = q.Where(c + " IS NULL")
		}
		if len(f.IDs) > 0 {
			q = q.Where("arxiv_id IN ?", f.IDs)
		}
		if f.Limit > 0 {
			q = q.Order("published_ts DESC NULLS LAST").Limit(f.Limit)
		} else {
			q = q.Order("arxiv_id")
		}
		papers = papers[:0]
		return q.Find(&papers).Error
	})
	if err != nil {
		return nil, fmt.Errorf("get papers: %w", err)
	}
	return papers, nil
}

// GetMentionIDs listet die Erwähnungen aus src, die auf paperID verweisen.
func (r *Reader) GetMentionIDs(ctx context.Context, src Source, paperID string) ([]string, error) {
	if err := mustDeclared(src.CrossRefs.Name, src.IDColumn); err != nil {
		return nil, err
	}
	var ids []string
	err := r.Retrier.Do(ctx, "get_mention_ids", func(ctx context.Context) error {
		ids = ids[:0]
		return r.DB.WithContext(ctx).
			Table(src.CrossRefs.Name).
			Where("arxiv_id = ?", paperID).
			Order(src.IDColumn).
			Pluck(src.IDColumn, &ids).Error
	})
	if err != nil {
		return nil, fmt.Errorf("get %s mentions of %s: %w", src.Name, paperID, err)
	}
	return ids, nil
}

// LatestMentionTime liefert den Zeitpunkt der neuesten gespeicherten Erwähnung
// aus src, nil wenn es keine gibt.
func (r *Reader) LatestMentionTime(ctx context.Context, src Source) (*time.Time, error) {
	if err := mustDeclared(src.Mentions.Name, "created_at"); err != nil {
		return nil, err
	}
	var latest sql.NullTime
	err := r.Retrier.Do(ctx, "latest_mention", func(ctx context.Context) error {
		return r.DB.WithContext(ctx).Raw("SELECT MAX(created_at) FROM " + src.Mentions.Name).Row().Scan(&latest)
	})
	if err != nil {
		return nil, fmt.Errorf("latest %s mention: %w", src.Name, err)
	}
	if !latest.Valid {
		return nil, nil
	}
	t := latest.Time
	return &t, nil
}

// Ping prüft, ob eine Pool-Verbindung nutzbar ist.
func Ping(db *gorm.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}
