package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// StaleFailer marks queued/processing evaluations older than the given age
// as failed and reports how many were swept.
type StaleFailer interface {
	FailStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// StaleSweeper periodically fails evaluations a crashed worker left behind,
// so pollers see a terminal status instead of waiting forever. The result
// endpoint applies the same cutoff on read; the sweeper keeps the store
// honest even when nobody polls.
type StaleSweeper struct {
	store     StaleFailer
	olderThan time.Duration
	interval  time.Duration
}

// NewStaleSweeper constructs a sweeper. Zero durations fall back to a 5m
// cutoff swept every minute.
func NewStaleSweeper(store StaleFailer, olderThan, interval time.Duration) *StaleSweeper {
	if store == nil {
		return nil
	}
	if olderThan <= 0 {
		olderThan = 5 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StaleSweeper{store: store, olderThan: olderThan, interval: interval}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (s *StaleSweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("stale evaluation sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StaleSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("evaluations.sweeper")
	ctx, span := tracer.Start(ctx, "StaleSweeper.sweepOnce")
	defer span.End()
	span.SetAttributes(attribute.Float64("evaluations.older_than_seconds", s.olderThan.Seconds()))

	swept, err := s.store.FailStale(ctx, s.olderThan)
	if err != nil {
		span.RecordError(err)
		slog.Error("stale evaluation sweep failed", slog.Any("error", err))
		return
	}
	span.SetAttributes(attribute.Int64("evaluations.swept", swept))
	if swept > 0 {
		slog.Warn("stale evaluations marked failed", slog.Int64("count", swept))
	}
}
