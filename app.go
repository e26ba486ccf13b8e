package main

import (
	"context"
	"sync"

	"arxiv-hype/cache"
	"arxiv-hype/config"
	"arxiv-hype/providers"
	"arxiv-hype/providers/arxiv"
	"arxiv-hype/providers/embedding"
	"arxiv-hype/providers/hnews"
	"arxiv-hype/providers/twitter"
	"arxiv-hype/services"
	"arxiv-hype/storage"
	"arxiv-hype/store"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app hält die verdrahteten Komponenten eines Prozesses.
type app struct {
	cfg *config.Config
	log *zap.Logger

	db       *gorm.DB
	engine   *store.Engine
	reader   *store.Reader
	embedder *embedding.Client
	cache    *cache.SearchCache
	archive  *storage.Archive
}

func newApp(ctx context.Context, cfg *config.Config, logging *zap.Logger) (*app, error) {
	db, err := store.Open(cfg)
	if err != nil {
		logging.Error("Failed to connect to database", zap.Error(err))
		return nil, err
	}
	logging.Info("Successfully connected to database.")

	a := &app{cfg: cfg, log: logging, db: db}
	a.engine = store.NewEngine(db, store.NewCatalog(db), logging, cfg.StageBatchSize)
	retrier := store.NewRetrier(cfg.SearchMaxAttempts, cfg.SearchRetryDelay, store.Ping(db), logging)
	a.reader = store.NewReader(db, retrier, logging)
	a.embedder = embedding.NewClient(cfg, logging)

	if cfg.RedisURL != "" {
		c, err := cache.Connect(ctx, cfg.RedisURL, cfg.SearchCacheTTL, logging)
		if err != nil {
			// ohne Cache weiter
			logging.Warn("Redis nicht erreichbar, Such-Cache deaktiviert", zap.Error(err))
		} else {
			a.cache = c
		}
	}
	if cfg.ArchiveEnabled() {
		client, err := storage.NewS3Client(cfg)
		if err != nil {
			logging.Error("S3 client creation failed", zap.Error(err))
			return nil, err
		}
		a.archive = storage.NewArchive(client, cfg, logging)
	}
	return a, nil
}

func (a *app) mentionProviders() []providers.MentionProvider {
	var out []providers.MentionProvider
	for _, name := range a.cfg.Sources() {
		switch name {
		case store.HNews.Name:
			out = append(out, hnews.NewFetcher(a.cfg, a.log))
		case store.Twitter.Name:
			if a.cfg.TwitterBearerToken == "" {
				a.log.Warn("TWITTER_BEARER_TOKEN fehlt, Quelle übersprungen")
				continue
			}
			out = append(out, twitter.NewFetcher(a.cfg, a.log))
		default:
			a.log.Warn("Unknown source in config", zap.String("source", name))
		}
	}
	return out
}

func (a *app) pipeline() *services.Pipeline {
	syncer := services.NewSyncService(a.db, a.engine, a.log, a.cfg.WriteTimeout)
	social := services.NewSocialMetrics(a.db, a.engine, a.log, a.cfg.WriteTimeout)
	return &services.Pipeline{
		Reader:   a.reader,
		Writer:   syncer,
		Counters: social,
		Papers:   arxiv.NewFetcher(a.cfg, a.log),
		Mentions: a.mentionProviders(),
		Embedder: a.embedder,
		Fetcher: services.NewParallelFetcher("arxiv", services.FetchOptions{
			ChunkSize:  a.cfg.ArxivChunkSize,
			MaxWorkers: a.cfg.ArxivMaxWorkers,
			BaseDelay:  a.cfg.ArxivBaseDelay,
		}, a.log),
		Archive:          a.archive,
		Cache:            a.cache,
		EmbedBatchSize:   a.cfg.EmbedBatchSize,
		EmbedUploadEvery: a.cfg.EmbedUploadEvery,
		PaperBatchSize:   a.cfg.StageBatchSize,
		Logger:           a.log,
	}
}

func (a *app) close() {
	if err := a.cache.Close(); err != nil {
		a.log.Warn("Redis close", zap.Error(err))
	}
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// pipelineRunner verhindert überlappende Läufe (Cron und manueller Trigger).
type pipelineRunner struct {
	pipeline *services.Pipeline
	log      *zap.Logger

	mu sync.Mutex
}

// Run führt einen Lauf synchron aus, falls gerade keiner läuft; false sonst.
func (r *pipelineRunner) Run(ctx context.Context) bool {
	if !r.mu.TryLock() {
		r.log.Warn("Pipeline läuft bereits, Lauf übersprungen")
		return false
	}
	defer r.mu.Unlock()
	r.run(ctx)
	return true
}

// Trigger startet einen Lauf im Hintergrund.
func (r *pipelineRunner) Trigger(ctx context.Context) bool {
	if !r.mu.TryLock() {
		return false
	}
	go func() {
		defer r.mu.Unlock()
		r.run(ctx)
	}()
	return true
}

func (r *pipelineRunner) run(ctx context.Context) {
	if _, err := r.pipeline.Run(ctx); err != nil {
		r.log.Error("Pipeline-Lauf mit Fehlern beendet", zap.Error(err))
	}
}
