package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arxiv-hype/config"
	"arxiv-hype/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	root := &cobra.Command{
		Use:          "arxiv-hype",
		Short:        "arXiv papers ranked by social attention",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(logging), pipelineCmd(logging), initDBCmd(logging))

	if err := root.Execute(); err != nil {
		logging.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

func loadConfig(logging *zap.Logger) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		logging.Error("Config load error", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}

func initDBCmd(logging *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create extension, tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(logging)
			if err != nil {
				return err
			}
			db, err := store.Open(cfg)
			if err != nil {
				return err
			}
			if err := store.EnsureSchema(cmd.Context(), db, cfg.EmbeddingDim); err != nil {
				return err
			}
			logging.Info("Schema ready", zap.Int("embedding_dim", cfg.EmbeddingDim))
			return nil
		},
	}
}

func pipelineCmd(logging *zap.Logger) *cobra.Command {
	var skipEmbeddings bool
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run one ingestion pass: mentions, counters, metadata, embeddings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(logging)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logging)
			if err != nil {
				return err
			}
			defer a.close()

			p := a.pipeline()
			if skipEmbeddings {
				mentions, err := p.IngestMentions(ctx)
				fetched, failed, metaErr := p.FillMetadata(ctx)
				logging.Info("Pipeline ohne Embeddings abgeschlossen",
					zap.Any("mentions", mentions), zap.Int("papers_fetched", fetched), zap.Int("papers_failed", failed))
				return errors.Join(err, metaErr)
			}
			report, err := p.Run(ctx)
			if err != nil {
				return fmt.Errorf("pipeline finished with errors (%+v): %w", report, err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipEmbeddings, "skip-embeddings", false, "do not compute missing embeddings")
	return cmd
}

func serveCmd(logging *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the search API and run the pipeline on the cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(logging)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logging)
			if err != nil {
				return err
			}
			defer a.close()

			logging.Info("Running schema check...")
			if err := store.EnsureSchema(ctx, a.db, cfg.EmbeddingDim); err != nil {
				return err
			}

			runner := &pipelineRunner{pipeline: a.pipeline(), log: logging}

			// Setup Router
			router := gin.Default()
			router.GET("/metrics", gin.WrapH(promhttp.Handler()))
			router.GET("/healthz", healthHandler(store.Ping(a.db)))

			setupSearchRoutes(router, a.embedder, a.reader, a.cache, logging)
			setupPaperRoutes(router, a.reader, logging)
			setupPipelineRoutes(router, runner)

			// Setup Cron
			cronScheduler := cron.New()
			if _, err := cronScheduler.AddFunc(cfg.CronSchedule, func() {
				logging.Info("Running scheduled pipeline...")
				runner.Run(ctx)
			}); err != nil {
				return fmt.Errorf("invalid cron schedule %q: %w", cfg.CronSchedule, err)
			}
			cronScheduler.Start()
			defer cronScheduler.Stop()

			logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
			srv := &http.Server{
				Addr:              ":" + cfg.HTTPPort,
				Handler:           router,
				ReadTimeout:       30 * time.Second,
				ReadHeaderTimeout: 15 * time.Second,
				WriteTimeout:      60 * time.Second,
				IdleTimeout:       120 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			logging.Info("Shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
