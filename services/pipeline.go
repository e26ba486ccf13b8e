package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arxiv-hype/cache"
	"arxiv-hype/metrics"
	"arxiv-hype/models"
	"arxiv-hype/providers"
	"arxiv-hype/storage"
	"arxiv-hype/store"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

// PaperReader ist der Lesezugriff, den die Pipeline braucht (store.Reader).
type PaperReader interface {
	GetPapers(ctx context.Context, f store.PaperFilter) ([]models.Paper, error)
	LatestMentionTime(ctx context.Context, src store.Source) (*time.Time, error)
}

// PaperWriter ist der Schreibzugriff der Pipeline (SyncService).
type PaperWriter interface {
	SyncMentions(ctx context.Context, src store.Source, mentions []models.Mention) error
	SyncPapers(ctx context.Context, papers []models.Paper, mode SyncMode) error
}

// CounterUpdater berechnet Social-Zähler neu (SocialMetrics).
type CounterUpdater interface {
	Recompute(ctx context.Context, sources ...store.Source) error
}

// RunReport fasst einen Pipeline-Lauf zusammen.
type RunReport struct {
	Mentions      map[string]int `json:"mentions"`
	PapersFetched int            `json:"papers_fetched"`
	PapersFailed  int            `json:"papers_failed"`
	Embedded      int            `json:"embedded"`
}

// Pipeline verbindet Provider und Store: Erwähnungen einlesen, Zähler
// aktualisieren, fehlende Metadaten nachladen, Embeddings berechnen.
type Pipeline struct {
	Reader   PaperReader
	Writer   PaperWriter
	Counters CounterUpdater

	Papers   providers.PaperProvider
	Mentions []providers.MentionProvider
	Embedder providers.Embedder
	Fetcher  *ParallelFetcher

	Archive *storage.Archive   // optional
	Cache   *cache.SearchCache // optional

	EmbedBatchSize   int
	EmbedUploadEvery int
	PaperBatchSize   int
	Logger           *zap.Logger

	now func() time.Time
}

// Run führt alle Stufen nacheinander aus. Fehler einzelner Quellen oder
// Chunks brechen den Lauf nicht ab; zurückgegeben wird der erste Fehler.
func (p *Pipeline) Run(ctx context.Context) (RunReport, error) {
	report := RunReport{Mentions: map[string]int{}}
	var errs []error

	mentions, err := p.IngestMentions(ctx)
	report.Mentions = mentions
	errs = append(errs, p.record("mentions", err))

	fetched, failed, err := p.FillMetadata(ctx)
	report.PapersFetched, report.PapersFailed = fetched, failed
	errs = append(errs, p.record("metadata", err))

	embedded, err := p.FillEmbeddings(ctx)
	report.Embedded = embedded
	errs = append(errs, p.record("embeddings", err))

	if err := p.Cache.Flush(ctx); err != nil {
		p.Logger.Warn("Such-Cache konnte nicht geleert werden", zap.Error(err))
	}
	p.Logger.Info("Pipeline-Lauf abgeschlossen",
		zap.Any("mentions", report.Mentions),
		zap.Int("papers_fetched", report.PapersFetched),
		zap.Int("papers_failed", report.PapersFailed),
		zap.Int("embedded", report.Embedded))
	return report, errors.Join(errs...)
}

func (p *Pipeline) record(stage string, err error) error {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		p.Logger.Error("Pipeline-Stufe fehlgeschlagen", zap.String("stage", stage), zap.Error(err))
	}
	metrics.PipelineRuns.WithLabelValues(stage, outcome).Inc()
	return err
}

// IngestMentions liest je Quelle alle Erwähnungen seit der jüngsten
// gespeicherten und berechnet danach die Zähler der betroffenen Quellen neu.
func (p *Pipeline) IngestMentions(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{}
	var touched []store.Source
	var errs []error
	for _, prov := range p.Mentions {
		src, err := store.SourceByName(prov.Name())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		log := p.Logger.With(zap.String("source", src.Name))

		since, err := p.Reader.LatestMentionTime(ctx, src)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		mentions, err := prov.Search(ctx, since)
		if err != nil {
			log.Error("Provider-Suche fehlgeschlagen", zap.Error(err))
			errs = append(errs, err)
			continue
		}
		p.archive(ctx, src.Name, mentions)
		if err := p.Writer.SyncMentions(ctx, src, mentions); err != nil {
			errs = append(errs, err)
			continue
		}
		counts[src.Name] = len(mentions)
		touched = append(touched, src)
	}
	if len(touched) > 0 {
		if err := p.Counters.Recompute(ctx, touched...); err != nil {
			errs = append(errs, err)
		}
	}
	return counts, errors.Join(errs...)
}

// FillMetadata lädt die Metadaten aller Stub-Paper (Titel NULL) nach.
func (p *Pipeline) FillMetadata(ctx context.Context) (fetched, failed int, err error) {
	stubs, err := p.Reader.GetPapers(ctx, store.PaperFilter{IDsOnly: true, RequiredNull: []string{"title"}})
	if err != nil {
		return 0, 0, err
	}
	if len(stubs) == 0 {
		return 0, 0, nil
	}
	ids := make([]string, len(stubs))
	for i, s := range stubs {
		ids[i] = s.ArxivID
	}
	p.Logger.Info("Lade fehlende Paper-Metadaten", zap.Int("papers", len(ids)))

	res := FetchAll(ctx, p.Fetcher, ids, p.Papers.FetchPapers)
	p.archive(ctx, p.Papers.Name(), res.Results)

	batch := p.PaperBatchSize
	if batch <= 0 {
		batch = 500
	}
	for start := 0; start < len(res.Results); start += batch {
		chunk := res.Results[start:min(start+batch, len(res.Results))]
		if err := p.Writer.SyncPapers(ctx, chunk, ModeFull); err != nil {
			return fetched, len(res.Failed), err
		}
		fetched += len(chunk)
	}
	return fetched, len(res.Failed), nil
}

// FillEmbeddings berechnet Embeddings für alle Paper mit Abstract, aber ohne
// Embedding. Geschrieben wird alle EmbedUploadEvery Paper.
func (p *Pipeline) FillEmbeddings(ctx context.Context) (int, error) {
	papers, err := p.Reader.GetPapers(ctx, store.PaperFilter{RequiredNull: []string{"embedding"}})
	if err != nil {
		return 0, err
	}
	var todo []models.Paper
	for _, paper := range papers {
		if paper.Abstract != "" {
			todo = append(todo, paper)
		}
	}
	if len(todo) == 0 {
		return 0, nil
	}
	batchSize := max(p.EmbedBatchSize, 1)
	uploadEvery := max(p.EmbedUploadEvery, batchSize)

	var pending []models.Paper
	written := 0
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := p.Writer.SyncPapers(ctx, pending, ModeEmbeddingsOnly); err != nil {
			return err
		}
		written += len(pending)
		pending = nil
		return nil
	}

	var errs []error
	for start := 0; start < len(todo); start += batchSize {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		batch := todo[start:min(start+batchSize, len(todo))]
		texts := make([]string, len(batch))
		for i, paper := range batch {
			texts[i] = paper.Abstract
		}
		vectors, err := p.Embedder.Embed(ctx, texts)
		if err == nil && len(vectors) != len(batch) {
			err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(batch))
		}
		if err != nil {
			p.Logger.Warn("Embedding-Batch fehlgeschlagen", zap.Int("offset", start), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		for i, paper := range batch {
			v := pgvector.NewVector(vectors[i])
			pending = append(pending, models.Paper{ArxivID: paper.ArxivID, Embedding: &v})
		}
		if len(pending) >= uploadEvery {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
	if err := flush(); err != nil {
		return written, err
	}
	return written, errors.Join(errs...)
}

func (p *Pipeline) archive(ctx context.Context, kind string, v any) {
	if p.Archive == nil {
		return
	}
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	if _, err := p.Archive.PutJSON(ctx, storage.ArchiveKey(kind, now()), v); err != nil {
		p.Logger.Warn("Rohdaten konnten nicht archiviert werden", zap.String("kind", kind), zap.Error(err))
	}
}
