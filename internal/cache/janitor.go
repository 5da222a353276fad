package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor purges expired cache entries on a cron schedule.
type Janitor struct {
	cache    *Cache
	schedule string
	metrics  *Metrics
	logger   *slog.Logger
}

// NewJanitor creates a janitor running on schedule (standard 5-field cron
// or descriptors such as "@every 10m").
func NewJanitor(c *Cache, schedule string, metrics *Metrics, logger *slog.Logger) *Janitor {
	return &Janitor{cache: c, schedule: schedule, metrics: metrics, logger: logger}
}

// Start schedules purge runs. The returned function stops the schedule and
// waits for a running purge to finish.
func (j *Janitor) Start(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)

	c := cron.New()
	if _, err := c.AddFunc(j.schedule, func() { j.RunOnce(ctx) }); err != nil {
		cancel()
		return nil, fmt.Errorf("scheduling cache purge %q: %w", j.schedule, err)
	}
	c.Start()

	j.logger.InfoContext(ctx, "cache janitor started",
		slog.String("schedule", j.schedule),
	)

	return func() {
		cancel()
		<-c.Stop().Done()
		j.logger.Info("cache janitor stopped")
	}, nil
}

// RunOnce performs a single purge and returns the number of entries removed.
func (j *Janitor) RunOnce(ctx context.Context) int64 {
	start := time.Now()
	n, err := j.cache.PurgeExpired(ctx)

	if j.metrics != nil {
		j.metrics.PurgeRuns.Inc()
		j.metrics.PurgedEntries.Add(float64(n))
		j.metrics.PurgeDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if j.metrics != nil {
			j.metrics.PurgeFailures.Inc()
		}
		j.logger.WarnContext(ctx, "cache purge failed",
			slog.String("error", err.Error()),
		)
		return n
	}

	j.logger.DebugContext(ctx, "cache purge completed",
		slog.Int64("purged", n),
		slog.Duration("duration", time.Since(start)),
	)
	return n
}
