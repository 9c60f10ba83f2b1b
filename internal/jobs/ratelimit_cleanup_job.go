package jobs

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/example/taxi-dispatch/internal/observability"
)

// Cleaner is implemented by limiters that keep per-client state in process memory.
type Cleaner interface {
	Cleanup(ctx context.Context) (int, error)
}

// RateLimiterCleanupJob drops idle clients from the in-memory rate limiter.
type RateLimiterCleanupJob struct {
	cleaner  Cleaner
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
}

func NewRateLimiterCleanupJob(cleaner Cleaner, schedule string, logger *slog.Logger) *RateLimiterCleanupJob {
	return &RateLimiterCleanupJob{
		cleaner:  cleaner,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With("component", "ratelimit_cleanup_job"),
	}
}

func (j *RateLimiterCleanupJob) Name() string { return "ratelimit_cleanup" }

func (j *RateLimiterCleanupJob) Start() error {
	_, err := j.cron.AddFunc(j.schedule, func() { j.run(context.Background()) })
	if err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("rate limiter cleanup job started", "schedule", j.schedule)
	return nil
}

func (j *RateLimiterCleanupJob) run(ctx context.Context) {
	removed, err := j.cleaner.Cleanup(ctx)
	if err != nil {
		observability.JobRunsTotal.WithLabelValues(j.Name(), "error").Inc()
		j.logger.ErrorContext(ctx, "rate limiter cleanup failed", "error", err)
		return
	}
	observability.JobRunsTotal.WithLabelValues(j.Name(), "ok").Inc()
	j.logger.DebugContext(ctx, "rate limiter cleaned", "clients_removed", removed)
}

func (j *RateLimiterCleanupJob) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("rate limiter cleanup job stopped")
}
