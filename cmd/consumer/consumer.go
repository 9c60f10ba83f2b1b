package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"

	"github.com/example/taxi-dispatch/internal/errs"
	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total driver location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	locationUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_location_updates_total",
		Help: "Location updates by result",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, locationUpdates)
}

// LocationUpdater is the part of the driver store the consumer writes to.
type LocationUpdater interface {
	UpdateLocation(ctx context.Context, id string, loc models.Coord, at time.Time) (bool, error)
}

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type consumer struct {
	reader     MessageReader
	store      LocationUpdater
	attempts   int
	retryDelay time.Duration
	logger     *slog.Logger
}

// run reads until ctx ends. Read errors back off exponentially up to maxBackoff.
func (c *consumer) run(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("kafka read failed", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second
		c.handle(ctx, m)
	}
}

func (c *consumer) handle(ctx context.Context, m kafka.Message) {
	msgsConsumed.Inc()
	report, err := decodeReport(m.Value)
	if err != nil {
		msgsInvalid.Inc()
		c.logger.Warn("invalid location message", "key", string(m.Key), "offset", m.Offset, "error", err)
		return
	}
	applied, err := updateLocationWithRetry(ctx, c.store, report, c.attempts, c.retryDelay)
	switch {
	case err != nil:
		locationUpdates.WithLabelValues("error").Inc()
		c.logger.Error("location update failed", "driver_id", report.DriverID, "error", err)
	case !applied:
		// stale report or unknown driver
		locationUpdates.WithLabelValues("skipped").Inc()
		c.logger.Debug("location update skipped", "driver_id", report.DriverID, "at", report.At)
	default:
		locationUpdates.WithLabelValues("applied").Inc()
	}
}

func decodeReport(b []byte) (models.LocationReport, error) {
	var r models.LocationReport
	if err := json.Unmarshal(b, &r); err != nil {
		return r, err
	}
	if r.DriverID == "" {
		return r, errs.NewValueIsInvalidError("driver_id")
	}
	if r.At.IsZero() {
		return r, errs.NewValueIsInvalidError("at")
	}
	if err := geo.Validate(r.Loc); err != nil {
		return r, err
	}
	return r, nil
}

// updateLocationWithRetry retries store outages with a doubling delay. Other errors are returned at once.
func updateLocationWithRetry(ctx context.Context, store LocationUpdater, r models.LocationReport, attempts int, delay time.Duration) (bool, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		applied, err := store.UpdateLocation(ctx, r.DriverID, r.Loc, r.At)
		if err == nil {
			return applied, nil
		}
		if !errors.Is(err, errs.ErrUnavailable) {
			return false, err
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return false, fmt.Errorf("update location after %d attempts: %w", attempts, lastErr)
}
