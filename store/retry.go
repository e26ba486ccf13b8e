package store

import (
	"context"
	"fmt"
	"time"

	"arxiv-hype/metrics"

	"go.uber.org/zap"
)

// Retrier wiederholt Lesezugriffe nach transienten Verbindungsfehlern.
// Zwischen den Versuchen prüft Check den Pool, kaputte Verbindungen fliegen raus.
type Retrier struct {
	MaxAttempts int
	Delay       time.Duration
	Check       func(ctx context.Context) error
	Logger      *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetrier(maxAttempts int, delay time.Duration, check func(ctx context.Context) error, logger *zap.Logger) *Retrier {
	if maxAttempts <= 0 {
		maxAttempts = 6
	}
	return &Retrier{MaxAttempts: maxAttempts, Delay: delay, Check: check, Logger: logger}
}

// Do führt op aus, bis es klappt, ein nicht-transienter Fehler kommt, ctx
// endet oder keine Versuche mehr übrig sind.
func (r *Retrier) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := r.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if !IsTransient(err) || ctx.Err() != nil {
			return Classify(err)
		}
		if attempt == attempts {
			break
		}
		metrics.DBRetries.WithLabelValues(name).Inc()
		if r.Logger != nil {
			r.Logger.Warn("Transienter DB-Fehler, neuer Versuch",
				zap.String("operation", name),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		if r.Check != nil {
			if cerr := r.Check(ctx); cerr != nil && r.Logger != nil {
				r.Logger.Warn("Verbindungsprüfung fehlgeschlagen", zap.String("operation", name), zap.Error(cerr))
			}
		}
		if serr := sleep(ctx, r.Delay*time.Duration(attempt)); serr != nil {
			return serr
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", name, attempts, Classify(err))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
