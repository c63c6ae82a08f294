package utils

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartPeriodic runs task every interval in a background goroutine until ctx is
// done. It is best-effort: failures are logged and the next tick runs as usual.
func StartPeriodic(ctx context.Context, name string, interval time.Duration, logger *zap.Logger, task func(context.Context) error) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	go func() {
		// tick first so startup does not race the first requests
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := task(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("periodic task failed", zap.String("task", name), zap.Error(err))
				}
			}
		}
	}()
}
