package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
)

type OrderStore interface {
	ListStale(ctx context.Context, status models.Status, olderThan time.Time, limit int) ([]models.Order, error)
	UpdateStatus(ctx context.Context, id string, from, to models.Status, reason models.CancelReason) (bool, error)
	GetOrder(ctx context.Context, id string) (models.Order, error)
}

type Dispatcher interface {
	DispatchAsync(orderID string)
}

type EventPublisher interface {
	Publish(ctx context.Context, ev models.OrderEvent) error
}

const sweepBatch = 100

// StaleSearchJob repairs orders whose dispatch run was lost, for example when a process died
// mid-search. Searching orders past the search timeout are cancelled; new orders that never
// started dispatching are dispatched again.
type StaleSearchJob struct {
	orders        OrderStore
	dispatcher    Dispatcher
	events        EventPublisher
	searchTimeout time.Duration
	grace         time.Duration
	schedule      string
	cron          *cron.Cron
	logger        *slog.Logger
	now           func() time.Time
}

func NewStaleSearchJob(orders OrderStore, dispatcher Dispatcher, events EventPublisher, searchTimeout, grace time.Duration, schedule string, logger *slog.Logger) *StaleSearchJob {
	return &StaleSearchJob{
		orders:        orders,
		dispatcher:    dispatcher,
		events:        events,
		searchTimeout: searchTimeout,
		grace:         grace,
		schedule:      schedule,
		cron:          cron.New(),
		logger:        logger.With("component", "stale_search_job"),
		now:           time.Now,
	}
}

func (j *StaleSearchJob) Name() string { return "stale_search" }

func (j *StaleSearchJob) Start() error {
	_, err := j.cron.AddFunc(j.schedule, func() {
		ctx := context.Background()
		cancelled, redispatched, err := j.RunOnce(ctx)
		if err != nil {
			observability.JobRunsTotal.WithLabelValues(j.Name(), "error").Inc()
			j.logger.ErrorContext(ctx, "stale search sweep failed", "error", err)
			return
		}
		observability.JobRunsTotal.WithLabelValues(j.Name(), "ok").Inc()
		if cancelled+redispatched > 0 {
			j.logger.InfoContext(ctx, "stale orders repaired", "cancelled", cancelled, "redispatched", redispatched)
		}
	})
	if err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("stale search job started", "schedule", j.schedule)
	return nil
}

func (j *StaleSearchJob) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("stale search job stopped")
}

// RunOnce performs one sweep.
func (j *StaleSearchJob) RunOnce(ctx context.Context) (cancelled, redispatched int, err error) {
	now := j.now()
	var errList []error

	searching, err := j.orders.ListStale(ctx, models.StatusSearching, now.Add(-(j.searchTimeout + j.grace)), sweepBatch)
	if err != nil {
		errList = append(errList, err)
	}
	for _, o := range searching {
		ok, err := j.orders.UpdateStatus(ctx, o.ID, models.StatusSearching, models.StatusCancelled, models.ReasonSearchTimeout)
		if err != nil {
			errList = append(errList, err)
			continue
		}
		if !ok {
			continue
		}
		cancelled++
		j.logger.WarnContext(ctx, "orphaned search cancelled", "order_id", o.ID, "updated_at", o.UpdatedAt)
		if j.events != nil {
			if current, err := j.orders.GetOrder(ctx, o.ID); err == nil {
				if err := j.events.Publish(ctx, models.NewOrderEvent(models.EventOrderCancelled, current, now.UTC())); err != nil {
					j.logger.WarnContext(ctx, "publish order event failed", "order_id", o.ID, "error", err)
				}
			}
		}
	}

	fresh, err := j.orders.ListStale(ctx, models.StatusNew, now.Add(-j.grace), sweepBatch)
	if err != nil {
		errList = append(errList, err)
	}
	for _, o := range fresh {
		j.dispatcher.DispatchAsync(o.ID)
		redispatched++
	}
	return cancelled, redispatched, errors.Join(errList...)
}
