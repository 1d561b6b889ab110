package registry

import (
	"context"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"github.com/streamforge/media_orchestrator/internal/logctx"
)

// RunSweeper runs the periodic sweep until the context is cancelled. The
// ticker is jittered so multiple timers in the process don't align their
// wakeups. This loop is independent of any one job's lifetime.
func (r *Registry) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := jitterbug.New(interval, &jitterbug.Norm{Stdev: interval / 10})
	defer ticker.Stop()

	logger.Info("registry sweeper started", "interval", interval.String(), "max_age", maxAge.String())

	for {
		select {
		case <-ctx.Done():
			logger.Info("registry sweeper shutting down")

			return
		case <-ticker.C:
			if released := r.Sweep(ctx, time.Now(), maxAge); released > 0 {
				logger.Info("sweep released stuck jobs", "count", released)
			}
		}
	}
}
