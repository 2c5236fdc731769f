package quota

import (
	"context"
	"log/slog"
	"time"
)

const defaultSweepInterval = 10 * time.Minute

// StartSweeper runs Sweep on a ticker until ctx is done. It blocks, so callers
// normally run it in its own goroutine.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("Quota sweeper started", "interval", interval)

	for {
		select {
		case <-ticker.C:
			if removed := s.Sweep(s.now()); removed > 0 {
				slog.Debug("Quota sweeper evicted expired records", "count", removed)
			}
		case <-ctx.Done():
			slog.Info("Quota sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}
