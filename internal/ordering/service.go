// Package ordering accepts client orders: it validates and prices them, applies the client's
// rate limit, stores them and hands them to dispatch.
package ordering

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/taxi-dispatch/internal/errs"
	"github.com/example/taxi-dispatch/internal/eta"
	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/matcher"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
	"github.com/example/taxi-dispatch/internal/pricing"
	"github.com/example/taxi-dispatch/internal/ratelimit"
	"github.com/example/taxi-dispatch/internal/validate"
)

type OrderStore interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (models.Order, error)
	ListByClient(ctx context.Context, clientID int64, limit int) ([]models.Order, error)
	ListByDriver(ctx context.Context, driverID string, limit int) ([]models.Order, error)
	Stats(ctx context.Context) (models.OrderStats, error)
}

type DriverLister interface {
	ListAvailable(ctx context.Context) ([]models.Driver, error)
}

type Dispatcher interface {
	DispatchAsync(orderID string)
}

type EventPublisher interface {
	Publish(ctx context.Context, ev models.OrderEvent) error
}

type Deps struct {
	Orders     OrderStore
	Drivers    DriverLister // optional, used for waiting time estimates
	Pricing    *pricing.Engine
	Limiter    ratelimit.Limiter // optional
	Dispatcher Dispatcher
	Events     EventPublisher // optional
	Logger     *slog.Logger
}

type Service struct {
	orders     OrderStore
	drivers    DriverLister
	pricing    *pricing.Engine
	limiter    ratelimit.Limiter
	dispatcher Dispatcher
	events     EventPublisher
	traffic    eta.Traffic
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(d Deps, traffic eta.Traffic) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	engine := d.Pricing
	if engine == nil {
		engine = pricing.NewEngine(pricing.DefaultTariffs())
	}
	return &Service{
		orders:     d.Orders,
		drivers:    d.Drivers,
		pricing:    engine,
		limiter:    d.Limiter,
		dispatcher: d.Dispatcher,
		events:     d.Events,
		traffic:    traffic,
		logger:     logger.With("component", "ordering"),
		now:        time.Now,
	}
}

type CreateRequest struct {
	ClientID           int64            `json:"client_id"`
	Kind               models.OrderKind `json:"kind"`
	Pickup             models.Coord     `json:"pickup"`
	PickupAddress      string           `json:"pickup_address,omitempty"`
	Destination        *models.Coord    `json:"destination,omitempty"`
	DestinationAddress string           `json:"destination_address,omitempty"`
	Description        string           `json:"description,omitempty"`
	WeightKg           float64          `json:"weight_kg,omitempty"`
	Urgent             bool             `json:"urgent,omitempty"`
}

type Quote struct {
	DistanceKm float64 `json:"distance_km"`
	Price      int64   `json:"price"`
	// WaitMinutes estimates the nearest available driver's arrival; nil when none has a location.
	WaitMinutes      *int `json:"wait_minutes,omitempty"`
	DriversAvailable int  `json:"drivers_available"`
}

// Quote prices a request without storing it or touching the rate limit.
func (s *Service) Quote(ctx context.Context, req CreateRequest) (Quote, error) {
	o, err := s.build(req)
	if err != nil {
		return Quote{}, err
	}
	q := Quote{DistanceKm: o.DistanceKm, Price: o.Price}
	if s.drivers == nil {
		return q, nil
	}
	drivers, err := s.drivers.ListAvailable(ctx)
	if err != nil {
		// the estimate is optional
		s.logger.WarnContext(ctx, "list drivers for quote failed", "error", err)
		return q, nil
	}
	q.DriversAvailable = len(drivers)
	if cands := (&matcher.Ranker{MaxCandidates: 1}).Candidates(o, drivers); len(cands) > 0 && cands[0].HasLocation() {
		m := eta.WaitMinutes(cands[0].DistanceKm, s.traffic)
		q.WaitMinutes = &m
	}
	return q, nil
}

// Create stores a new order and starts dispatching it in the background.
func (s *Service) Create(ctx context.Context, req CreateRequest) (models.Order, error) {
	o, err := s.build(req)
	if err != nil {
		return models.Order{}, err
	}
	if err := s.allow(ctx, req.ClientID, actionFor(o.Kind)); err != nil {
		return models.Order{}, err
	}

	o.ID = uuid.NewString()
	o.Status = models.StatusNew
	o.CreatedAt = s.now().UTC()
	if err := s.orders.CreateOrder(ctx, &o); err != nil {
		return models.Order{}, fmt.Errorf("create order: %w", err)
	}
	observability.OrdersCreated.WithLabelValues(string(o.Kind)).Inc()
	s.logger.InfoContext(ctx, "order created", "order_id", o.ID, "client_id", o.ClientID, "kind", o.Kind, "price", o.Price, "distance_km", o.DistanceKm)

	if s.events != nil {
		if err := s.events.Publish(ctx, models.NewOrderEvent(models.EventOrderCreated, o, o.CreatedAt)); err != nil {
			s.logger.WarnContext(ctx, "publish order event failed", "order_id", o.ID, "error", err)
		}
	}
	if s.dispatcher != nil {
		s.dispatcher.DispatchAsync(o.ID)
	}
	return o, nil
}

func (s *Service) Get(ctx context.Context, id string) (models.Order, error) {
	return s.orders.GetOrder(ctx, id)
}

func (s *Service) ListByClient(ctx context.Context, clientID int64, limit int) ([]models.Order, error) {
	return s.orders.ListByClient(ctx, clientID, limit)
}

func (s *Service) ListByDriver(ctx context.Context, driverID string, limit int) ([]models.Order, error) {
	return s.orders.ListByDriver(ctx, driverID, limit)
}

func (s *Service) Stats(ctx context.Context) (models.OrderStats, error) {
	return s.orders.Stats(ctx)
}

// allow consults the rate limiter. A limiter outage lets the request through.
func (s *Service) allow(ctx context.Context, clientID int64, action ratelimit.Action) error {
	if s.limiter == nil {
		return nil
	}
	d, err := s.limiter.Allow(ctx, clientID, action)
	if err != nil {
		s.logger.WarnContext(ctx, "rate limiter unavailable, allowing request", "client_id", clientID, "action", action, "error", err)
		return nil
	}
	if !d.Allowed {
		observability.RateLimited.WithLabelValues(string(action)).Inc()
		return &errs.RateLimitedError{ClientID: clientID, Action: string(action), Reason: d.Reason}
	}
	return nil
}

func actionFor(k models.OrderKind) ratelimit.Action {
	if k == models.KindDelivery {
		return ratelimit.ActionDelivery
	}
	return ratelimit.ActionRide
}

// build validates req and returns the priced, not yet persisted order.
func (s *Service) build(req CreateRequest) (models.Order, error) {
	if req.ClientID <= 0 {
		return models.Order{}, errs.NewValueIsInvalidError("client_id")
	}
	if !req.Kind.Valid() {
		return models.Order{}, errs.NewValueIsInvalidErrorWithCause("kind", fmt.Errorf("unknown order kind %q", req.Kind))
	}
	if err := geo.Validate(req.Pickup); err != nil {
		return models.Order{}, fmt.Errorf("pickup: %w", err)
	}
	if req.Destination != nil {
		if err := geo.Validate(*req.Destination); err != nil {
			return models.Order{}, fmt.Errorf("destination: %w", err)
		}
	} else if req.Kind == models.KindRide {
		return models.Order{}, errs.NewValueIsInvalidError("destination")
	}

	o := models.Order{
		ClientID:    req.ClientID,
		Kind:        req.Kind,
		Pickup:      req.Pickup,
		Destination: req.Destination,
		Urgent:      req.Urgent,
	}
	var err error
	if o.PickupAddress, err = validate.Address("pickup_address", req.PickupAddress); err != nil {
		return models.Order{}, err
	}
	if o.DestinationAddress, err = validate.Address("destination_address", req.DestinationAddress); err != nil {
		return models.Order{}, err
	}

	switch req.Kind {
	case models.KindDelivery:
		if o.Description, err = validate.Description(req.Description); err != nil {
			return models.Order{}, err
		}
		if req.WeightKg < 0 {
			return models.Order{}, errs.NewValueIsInvalidError("weight_kg")
		}
		o.WeightKg = req.WeightKg
	default:
		if req.Description != "" {
			if o.Description, err = validate.Description(req.Description); err != nil {
				return models.Order{}, err
			}
		}
	}

	q := s.pricing.Quote(o)
	if err := validate.Distance(q.DistanceKm); err != nil {
		return models.Order{}, err
	}
	o.DistanceKm = q.DistanceKm
	o.Price = q.Price
	return o, nil
}
