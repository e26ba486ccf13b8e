package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"arxiv-hype/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FetchOptions steuern das parallele, gedrosselte Abrufen per ID.
type FetchOptions struct {
	ChunkSize  int
	MaxWorkers int
	BaseDelay  time.Duration
}

// FetchResult enthält alle erfolgreich geholten Einträge (in
// Abschlussreihenfolge) und die IDs aller fehlgeschlagenen Chunks.
type FetchResult[T any] struct {
	Results []T
	Failed  []string
}

// ParallelFetcher verteilt ID-Chunks auf einen begrenzten Worker-Pool. Vor und
// nach jeder Anfrage wird BaseDelay*U(0.25,0.75) gewartet.
type ParallelFetcher struct {
	Name    string
	Options FetchOptions
	Logger  *zap.Logger

	sleep  func(ctx context.Context, d time.Duration)
	random func() float64
}

func NewParallelFetcher(name string, opts FetchOptions, logger *zap.Logger) *ParallelFetcher {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 100
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 1
	}
	return &ParallelFetcher{Name: name, Options: opts, Logger: logger}
}

// Chunk teilt ids in aufeinanderfolgende Stücke der Länge size.
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		out = append(out, ids[start:min(start+size, len(ids))])
	}
	return out
}

// jitter liefert base*(0.25 + 0.5*u) für u aus [0,1).
func jitter(base time.Duration, u float64) time.Duration {
	return time.Duration(float64(base) * (0.25 + 0.5*u))
}

type chunkOutcome[T any] struct {
	ids   []string
	items []T
	err   error
}

// FetchAll holt alle ids über fetch. Ein fehlerhafter Chunk (auch eine Panic)
// bricht den Lauf nicht ab, seine IDs landen in Failed.
func FetchAll[T any](ctx context.Context, f *ParallelFetcher, ids []string, fetch func(ctx context.Context, ids []string) ([]T, error)) FetchResult[T] {
	result := FetchResult[T]{Results: []T{}, Failed: []string{}}
	if len(ids) == 0 {
		return result
	}
	chunks := Chunk(ids, f.Options.ChunkSize)
	out := make(chan chunkOutcome[T])

	var g errgroup.Group
	g.SetLimit(f.Options.MaxWorkers)
	go func() {
		for _, chunk := range chunks {
			if err := ctx.Err(); err != nil {
				out <- chunkOutcome[T]{ids: chunk, err: err}
				continue
			}
			g.Go(func() error {
				out <- runChunk(ctx, f, chunk, fetch)
				return nil
			})
		}
		_ = g.Wait()
		close(out)
	}()

	for o := range out {
		if o.err != nil {
			f.Logger.Warn("Chunk konnte nicht geladen werden",
				zap.String("provider", f.Name), zap.Int("ids", len(o.ids)), zap.Error(o.err))
			result.Failed = append(result.Failed, o.ids...)
			metrics.FetchFailures.WithLabelValues(f.Name).Add(float64(len(o.ids)))
			continue
		}
		result.Results = append(result.Results, o.items...)
	}
	f.Logger.Info("Abruf abgeschlossen",
		zap.String("provider", f.Name),
		zap.Int("requested", len(ids)),
		zap.Int("results", len(result.Results)),
		zap.Int("failed", len(result.Failed)))
	return result
}

func runChunk[T any](ctx context.Context, f *ParallelFetcher, ids []string, fetch func(ctx context.Context, ids []string) ([]T, error)) (o chunkOutcome[T]) {
	o.ids = ids
	defer func() {
		if r := recover(); r != nil {
			o.items = nil
			o.err = fmt.Errorf("panic while fetching: %v", r)
		}
	}()

	f.pause(ctx)
	if err := ctx.Err(); err != nil {
		o.err = err
		return o
	}
	o.items, o.err = fetch(ctx, ids)
	f.pause(ctx)
	return o
}

func (f *ParallelFetcher) pause(ctx context.Context) {
	if f.Options.BaseDelay <= 0 {
		return
	}
	random, sleep := f.random, f.sleep
	if random == nil {
		random = rand.Float64
	}
	if sleep == nil {
		sleep = sleepContext
	}
	sleep(ctx, jitter(f.Options.BaseDelay, random()))
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
