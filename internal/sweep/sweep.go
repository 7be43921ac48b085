package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"pagestore/pkg/cache"
	"pagestore/pkg/logger"
)

// Start starts the cache sweep scheduler. An empty cron expression
// disables sweeping; the returned cancel func stops the scheduler.
func Start(ctx context.Context, c *cache.Store, cronExpr string) (context.CancelFunc, error) {
	if cronExpr == "" {
		logger.Info("sweep_disabled")
		return func() {}, nil
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("sweep_invalid_cron", "cron", cronExpr)
		return nil, fmt.Errorf("invalid sweep cron expression: %s", cronExpr)
	}

	logger.Info("sweep_enabled", "cron", cronExpr)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, c, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time.
func runScheduler(ctx context.Context, c *cache.Store, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("sweep_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("sweep_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			runOnce(c)
			// small sleep to avoid a tight loop when the tick is due now
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(wait):
			runOnce(c)
		case <-ctx.Done():
			logger.Info("sweep_scheduler_stopping")
			return
		}
	}
}

func runOnce(c *cache.Store) {
	start := time.Now()
	removed, err := c.Sweep()
	if err != nil {
		logger.Error("sweep_run_error", "error", err)
		return
	}
	logger.Info("sweep_run_complete", "removed", removed, "remaining", c.Len(),
		"elapsed_ms", time.Since(start).Milliseconds())
}
