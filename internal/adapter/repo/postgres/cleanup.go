package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CleanupService deletes evaluation records past the retention window.
type CleanupService struct {
	Pool          PgxPool
	RetentionDays int
}

// NewCleanupService creates a cleanup service. Retention defaults to 90 days.
func NewCleanupService(pool PgxPool, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &CleanupService{Pool: pool, RetentionDays: retentionDays}
}

// CleanupOldData removes records created before the retention cutoff.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.RetentionDays)
	tag, err := s.Pool.Exec(ctx, `DELETE FROM evaluations WHERE created_at < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("op=evaluation.cleanup: %w", err)
	}
	slog.Info("retention sweep completed",
		slog.Int64("deleted", tag.RowsAffected()),
		slog.Time("cutoff", cutoff))
	return nil
}

// RunPeriodic runs a sweep immediately and then on every tick until the
// context ends.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial retention sweep failed", slog.Any("error", err))
	}
	for {
		select {
		case <-ctx.Done():
			slog.Info("retention sweeper stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("retention sweep failed", slog.Any("error", err))
			}
		}
	}
}
