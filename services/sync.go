package services

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"arxiv-hype/metrics"
	"arxiv-hype/models"
	"arxiv-hype/store"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SyncMode wählt, welche Paper-Spalten SyncPapers schreibt.
type SyncMode int

const (
	// ModeFull schreibt Metadaten und Embedding.
	ModeFull SyncMode = iota
	// ModeEmbeddingsOnly schreibt nur das Embedding; Metadaten bleiben unverändert.
	ModeEmbeddingsOnly
)

func (m SyncMode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeEmbeddingsOnly:
		return "embeddings_only"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

func (m SyncMode) paperColumns() []string {
	if m == ModeEmbeddingsOnly {
		return []string{"arxiv_id", "embedding"}
	}
	return []string{"arxiv_id", "title", "abstract", "published_ts", "embedding"}
}

// SyncService schreibt Erwähnungen und Paper atomar über die Merge-Engine.
// Jeder Aufruf ist genau eine Transaktion.
type SyncService struct {
	DB           *gorm.DB
	Engine       *store.Engine
	Logger       *zap.Logger
	WriteTimeout time.Duration
}

func NewSyncService(db *gorm.DB, engine *store.Engine, logger *zap.Logger, writeTimeout time.Duration) *SyncService {
	return &SyncService{DB: db, Engine: engine, Logger: logger, WriteTimeout: writeTimeout}
}

// SyncMentions schreibt die Erwähnungen einer Quelle, legt fehlende Paper als
// Stub an und verknüpft beide. Bestehende Paper bleiben unverändert.
func (s *SyncService) SyncMentions(ctx context.Context, src store.Source, mentions []models.Mention) error {
	if len(mentions) == 0 {
		return nil
	}
	if err := validateMentions(src, mentions); err != nil {
		return err
	}
	mentions = dedupeMentions(mentions)

	ctx, cancel := withWriteTimeout(ctx, s.WriteTimeout)
	defer cancel()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		steps := []store.MergeSpec{
			{Table: src.Mentions, Records: mentionRecords(src, mentions), Policy: store.Overwrite},
			{Table: store.PaperTable, Records: stubRecords(mentions), WriteColumns: store.PaperTable.Key, Policy: store.KeepExisting},
			{Table: src.CrossRefs, Records: crossRefRecords(src, mentions), Policy: store.KeepExisting},
		}
		for _, spec := range steps {
			if err := s.Engine.Merge(ctx, tx, spec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.Logger.Error("Erwähnungen konnten nicht geschrieben werden",
			zap.String("source", src.Name), zap.Int("mentions", len(mentions)), zap.Error(err))
		return fmt.Errorf("sync %s mentions: %w", src.Name, err)
	}
	metrics.IngestedMentions.WithLabelValues(src.Name).Add(float64(len(mentions)))
	s.Logger.Info("Erwähnungen synchronisiert", zap.String("source", src.Name), zap.Int("mentions", len(mentions)))
	return nil
}

// SyncPapers schreibt Paper-Metadaten bzw. Embeddings sowie Autoren und
// Kategorien in einer Transaktion.
func (s *SyncService) SyncPapers(ctx context.Context, papers []models.Paper, mode SyncMode) error {
	if mode != ModeFull && mode != ModeEmbeddingsOnly {
		return fmt.Errorf("sync papers: %w", validationErrorf("unknown sync mode %s", mode))
	}
	if len(papers) == 0 {
		return nil
	}
	for i := range papers {
		if strings.TrimSpace(papers[i].ArxivID) == "" {
			return fmt.Errorf("sync papers: %w", validationErrorf("paper %d has no id", i))
		}
	}
	papers = normalizePapers(dedupePapers(papers))

	ctx, cancel := withWriteTimeout(ctx, s.WriteTimeout)
	defer cancel()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		steps := []store.MergeSpec{
			{Table: store.PaperTable, Records: paperRecords(papers, mode), WriteColumns: mode.paperColumns(), Policy: store.Overwrite},
			{Table: store.AuthorTable, Records: authorRecords(papers), Policy: store.KeepExisting},
			{Table: store.CategoryTable, Records: categoryRecords(papers), Policy: store.KeepExisting},
		}
		for _, spec := range steps {
			if err := s.Engine.Merge(ctx, tx, spec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.Logger.Error("Paper konnten nicht geschrieben werden",
			zap.String("mode", mode.String()), zap.Int("papers", len(papers)), zap.Error(err))
		return fmt.Errorf("sync papers (%s): %w", mode, err)
	}
	s.Logger.Info("Paper synchronisiert", zap.String("mode", mode.String()), zap.Int("papers", len(papers)))
	return nil
}

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrValidation, fmt.Sprintf(format, args...))
}

func validateMentions(src store.Source, mentions []models.Mention) error {
	for _, m := range mentions {
		if strings.TrimSpace(m.ID) == "" {
			return validationErrorf("%s mention without id", src.Name)
		}
		for c := range m.Counters {
			if !slices.Contains(src.Counters, c) {
				return validationErrorf("%s mention %s: unknown counter %q", src.Name, m.ID, c)
			}
		}
		for c := range m.Extras {
			if !slices.Contains(src.Extras, c) {
				return validationErrorf("%s mention %s: unknown field %q", src.Name, m.ID, c)
			}
		}
		for _, id := range m.PaperIDs {
			if strings.TrimSpace(id) == "" {
				return validationErrorf("%s mention %s references an empty paper id", src.Name, m.ID)
			}
		}
	}
	return nil
}

// dedupeMentions behält je ID das letzte Vorkommen, an dessen Position.
func dedupeMentions(in []models.Mention) []models.Mention {
	last := make(map[string]int, len(in))
	for i, m := range in {
		last[m.ID] = i
	}
	out := make([]models.Mention, 0, len(last))
	for i, m := range in {
		if last[m.ID] == i {
			out = append(out, m)
		}
	}
	return out
}

func dedupePapers(in []models.Paper) []models.Paper {
	last := make(map[string]int, len(in))
	for i, p := range in {
		last[strings.TrimSpace(p.ArxivID)] = i
	}
	out := make([]models.Paper, 0, len(last))
	for i, p := range in {
		if last[strings.TrimSpace(p.ArxivID)] == i {
			out = append(out, p)
		}
	}
	return out
}

func normalizePapers(in []models.Paper) []models.Paper {
	out := make([]models.Paper, len(in))
	for i, p := range in {
		p.ArxivID = strings.TrimSpace(p.ArxivID)
		p.Title = NormalizeText(p.Title)
		p.Abstract = NormalizeText(p.Abstract)
		p.Authors = normalizeAll(p.Authors, func(a string) string { return NormalizeAuthor(a, store.MaxAuthorLen) })
		p.Categories = normalizeAll(p.Categories, func(c string) string { return NormalizeCategory(c, store.MaxCategoryLen) })
		out[i] = p
	}
	return out
}

func normalizeAll(in []string, f func(string) string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = f(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func mentionRecords(src store.Source, mentions []models.Mention) iter.Seq[store.Record] {
	return func(yield func(store.Record) bool) {
		for _, m := range mentions {
			rec := store.Record{src.IDColumn: m.ID, "created_at": m.CreatedAt}
			for _, c := range src.Counters {
				rec[c] = m.Counters[c]
			}
			for _, c := range src.Extras {
				v, ok := m.Extras[c]
				if !ok {
					v = nil
				}
				rec[c] = v
			}
			if !yield(rec) {
				return
			}
		}
	}
}

func stubRecords(mentions []models.Mention) iter.Seq[store.Record] {
	return func(yield func(store.Record) bool) {
		for _, m := range mentions {
			for _, id := range m.PaperIDs {
				if !yield(store.Record{"arxiv_id": strings.TrimSpace(id)}) {
					return
				}
			}
		}
	}
}

func crossRefRecords(src store.Source, mentions []models.Mention) iter.Seq[store.Record] {
	return func(yield func(store.Record) bool) {
		for _, m := range mentions {
			for _, id := range m.PaperIDs {
				if !yield(store.Record{"arxiv_id": strings.TrimSpace(id), src.IDColumn: m.ID}) {
					return
				}
			}
		}
	}
}

func paperRecords(papers []models.Paper, mode SyncMode) iter.Seq[store.Record] {
	return func(yield func(store.Record) bool) {
		for _, p := range papers {
			rec := store.Record{"arxiv_id": p.ArxivID, "embedding": nil}
			if p.Embedding != nil {
				rec["embedding"] = *p.Embedding
			}
			if mode == ModeFull {
				rec["title"] = nullIfEmpty(p.Title)
				rec["abstract"] = nullIfEmpty(p.Abstract)
				rec["published_ts"] = nil
				if p.PublishedTS != nil {
					rec["published_ts"] = *p.PublishedTS
				}
			}
			if !yield(rec) {
				return
			}
		}
	}
}

func authorRecords(papers []models.Paper) iter.Seq[store.Record] {
	return func(yield func(store.Record) bool) {
		for _, p := range papers {
			for _, a := range p.Authors {
				if !yield(store.Record{"arxiv_id": p.ArxivID, "author": a}) {
					return
				}
			}
		}
	}
}

func categoryRecords(papers []models.Paper) iter.Seq[store.Record] {
	return func(yield func(store.Record) bool) {
		for _, p := range papers {
			for _, c := range p.Categories {
				if !yield(store.Record{"arxiv_id": p.ArxivID, "category": c}) {
					return
				}
			}
		}
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// withWriteTimeout begrenzt eine Schreiboperation, ohne eine frühere Deadline
// des Aufrufers zu verlängern.
func withWriteTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < d {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
