// Package trip drives an assigned order to completion and records the client's rating.
package trip

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/taxi-dispatch/internal/errs"
	"github.com/example/taxi-dispatch/internal/lifecycle"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/validate"
)

type OrderStore interface {
	GetOrder(ctx context.Context, id string) (models.Order, error)
	UpdateStatus(ctx context.Context, id string, from, to models.Status, reason models.CancelReason) (bool, error)
	SetRating(ctx context.Context, id string, rating int) (bool, error)
}

type DriverStore interface {
	RecordTrip(ctx context.Context, id string, fare int64) (bool, error)
	AddRating(ctx context.Context, id string, rating int) (bool, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, ev models.OrderEvent) error
}

// ClientNotifier is satisfied by *notify.Gateway.
type ClientNotifier interface {
	NotifyClient(ctx context.Context, ev models.OrderEvent)
}

type Deps struct {
	Orders   OrderStore
	Drivers  DriverStore
	Events   EventPublisher // optional
	Notifier ClientNotifier // optional
	Logger   *slog.Logger
}

type Service struct {
	orders   OrderStore
	drivers  DriverStore
	events   EventPublisher
	notifier ClientNotifier
	logger   *slog.Logger
}

func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{orders: d.Orders, drivers: d.Drivers, events: d.Events, notifier: d.Notifier, logger: logger.With("component", "trip")}
}

// Start moves an assigned order to in_progress. Only the assigned driver may start it.
func (s *Service) Start(ctx context.Context, orderID, driverID string) (models.Order, error) {
	o, err := s.transition(ctx, orderID, driverID, lifecycle.EventTripStarted, "start trip")
	if err != nil {
		return models.Order{}, err
	}
	s.emit(ctx, models.EventOrderStarted, o)
	return o, nil
}

// Complete finishes a running trip, frees the driver and adds the fare to the driver's totals.
func (s *Service) Complete(ctx context.Context, orderID, driverID string) (models.Order, error) {
	o, err := s.transition(ctx, orderID, driverID, lifecycle.EventTripCompleted, "complete trip")
	if err != nil {
		return models.Order{}, err
	}
	ok, err := s.drivers.RecordTrip(ctx, o.DriverID, o.Price)
	if err != nil || !ok {
		// the order stays completed even when the driver row was not updated
		s.logger.ErrorContext(ctx, "record trip failed", "order_id", o.ID, "driver_id", o.DriverID, "applied", ok, "error", err)
	}
	s.emit(ctx, models.EventOrderCompleted, o)
	return o, nil
}

// Rate stores the client's 1..5 rating of a completed trip and folds it into the driver's average.
// Each order can be rated once.
func (s *Service) Rate(ctx context.Context, orderID string, clientID int64, rating int) (models.Order, error) {
	if err := validate.Rating(rating); err != nil {
		return models.Order{}, err
	}
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	if o.ClientID != clientID {
		return models.Order{}, errs.NewNotFoundError("order", orderID)
	}
	if o.Status != models.StatusCompleted {
		return models.Order{}, errs.NewInvalidStateError("order", orderID, o.Status.String(), "rate")
	}
	ok, err := s.orders.SetRating(ctx, orderID, rating)
	if err != nil {
		return models.Order{}, fmt.Errorf("rate order %s: %w", orderID, err)
	}
	if !ok {
		return models.Order{}, errs.NewInvalidStateError("order", orderID, "rated", "rate")
	}
	if _, err := s.drivers.AddRating(ctx, o.DriverID, rating); err != nil {
		s.logger.ErrorContext(ctx, "add driver rating failed", "order_id", orderID, "driver_id", o.DriverID, "error", err)
	}
	o.Rating = rating
	s.logger.InfoContext(ctx, "trip rated", "order_id", orderID, "driver_id", o.DriverID, "rating", rating)
	return o, nil
}

func (s *Service) transition(ctx context.Context, orderID, driverID string, ev lifecycle.Event, action string) (models.Order, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	if o.DriverID == "" || o.DriverID != driverID {
		return models.Order{}, errs.NewNotFoundError("order", orderID)
	}
	to, err := lifecycle.Next(o.Status, ev)
	if err != nil {
		return models.Order{}, errs.NewInvalidStateError("order", orderID, o.Status.String(), action)
	}
	ok, err := s.orders.UpdateStatus(ctx, orderID, o.Status, to, "")
	if err != nil {
		return models.Order{}, fmt.Errorf("%s %s: %w", action, orderID, err)
	}
	if !ok {
		current, _ := s.orders.GetOrder(ctx, orderID)
		return models.Order{}, errs.NewInvalidStateError("order", orderID, current.Status.String(), action)
	}
	updated, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	s.logger.InfoContext(ctx, "order status changed", "order_id", orderID, "driver_id", driverID, "from", o.Status, "to", to)
	return updated, nil
}

func (s *Service) emit(ctx context.Context, t models.EventType, o models.Order) {
	ev := models.NewOrderEvent(t, o, time.Now().UTC())
	if s.events != nil {
		if err := s.events.Publish(ctx, ev); err != nil {
			s.logger.WarnContext(ctx, "publish order event failed", "order_id", o.ID, "event", t, "error", err)
		}
	}
	if s.notifier != nil {
		s.notifier.NotifyClient(ctx, ev)
	}
}
