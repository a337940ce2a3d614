package idempotency

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper is implemented by repositories that need expired records removed explicitly.
type Sweeper interface {
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// CleanupOldKeys removes records older than expiry.
func CleanupOldKeys(ctx context.Context, repo Sweeper, expiry time.Duration, logger *slog.Logger) (int64, error) {
	deleted, err := repo.DeleteOlderThan(ctx, expiry)
	if err != nil {
		logger.ErrorContext(ctx, "failed to cleanup old idempotency keys", slog.String("error", err.Error()))
		return 0, err
	}
	if deleted > 0 {
		logger.InfoContext(ctx, "cleaned up old idempotency keys",
			slog.Int64("deleted", deleted),
			slog.Duration("older_than", expiry))
	}
	return deleted, nil
}

// RunPeriodicCleanup sweeps every interval until ctx is cancelled.
func RunPeriodicCleanup(ctx context.Context, repo Sweeper, interval, expiry time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = CleanupOldKeys(ctx, repo, expiry, logger)
		case <-ctx.Done():
			logger.Debug("stopping idempotency cleanup")
			return
		}
	}
}
