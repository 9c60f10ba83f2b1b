// Package dispatch runs the sequential offer loop that finds a driver for an order.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/taxi-dispatch/internal/errs"
	"github.com/example/taxi-dispatch/internal/lifecycle"
	"github.com/example/taxi-dispatch/internal/lock"
	"github.com/example/taxi-dispatch/internal/matcher"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
)

type OrderStore interface {
	GetOrder(ctx context.Context, id string) (models.Order, error)
	UpdateStatus(ctx context.Context, id string, from, to models.Status, reason models.CancelReason) (bool, error)
	AssignDriver(ctx context.Context, id, driverID string, from models.Status) (bool, error)
}

type DriverStore interface {
	GetDriver(ctx context.Context, id string) (models.Driver, error)
	ListAvailable(ctx context.Context) ([]models.Driver, error)
	ClaimDriver(ctx context.Context, id string) (bool, error)
	SetAvailability(ctx context.Context, id string, available bool) (bool, error)
}

// Notifier is satisfied by *notify.Gateway.
type Notifier interface {
	SendOfferAndAwaitResponse(ctx context.Context, ep models.Endpoint, offer models.Offer, deadline time.Time) (models.Reply, error)
	NotifyClient(ctx context.Context, ev models.OrderEvent)
}

type EventPublisher interface {
	Publish(ctx context.Context, ev models.OrderEvent) error
}

type Config struct {
	// OfferTimeout is the acceptance window of a single offer.
	OfferTimeout time.Duration
	// SearchTimeout bounds a whole dispatch run.
	SearchTimeout time.Duration
	// LockTTL defaults to SearchTimeout + OfferTimeout.
	LockTTL       time.Duration
	MaxCandidates int

	StoreAttempts   int
	StoreRetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		OfferTimeout:    30 * time.Second,
		SearchTimeout:   120 * time.Second,
		StoreAttempts:   3,
		StoreRetryDelay: 100 * time.Millisecond,
	}
}

type Deps struct {
	Orders   OrderStore
	Drivers  DriverStore
	Notifier Notifier
	Locker   lock.Locker
	Events   EventPublisher // optional
	Logger   *slog.Logger
}

// Outcome is the result of a dispatch run. Cancelled outcomes carry a reason code.
type Outcome struct {
	OrderID  string                   `json:"order_id"`
	Status   models.Status            `json:"status"`
	DriverID string                   `json:"driver_id,omitempty"`
	Reason   models.CancelReason      `json:"reason,omitempty"`
	Attempts []models.DispatchAttempt `json:"attempts,omitempty"`
}

func (o Outcome) Assigned() bool { return o.Status == models.StatusDriverAssigned }

var (
	errSearchTimeout  = errors.New("driver search timed out")
	errOrderCancelled = errors.New("order cancelled")
)

// Coordinator owns dispatch runs. Runs for different orders are independent; a per-order lock
// keeps at most one run per order.
type Coordinator struct {
	orders   OrderStore
	drivers  DriverStore
	notifier Notifier
	locker   lock.Locker
	events   EventPublisher
	ranker   *matcher.Ranker
	cfg      Config
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]context.CancelCauseFunc

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup
}

func NewCoordinator(d Deps, cfg Config) *Coordinator {
	def := DefaultConfig()
	if cfg.OfferTimeout <= 0 {
		cfg.OfferTimeout = def.OfferTimeout
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = def.SearchTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.SearchTimeout + cfg.OfferTimeout
	}
	if cfg.StoreAttempts <= 0 {
		cfg.StoreAttempts = 1
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := d.Events
	if events == nil {
		events = nopPublisher{}
	}
	locker := d.Locker
	if locker == nil {
		locker = lock.NewLocal()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		orders:     d.Orders,
		drivers:    d.Drivers,
		notifier:   d.Notifier,
		locker:     locker,
		events:     events,
		ranker:     &matcher.Ranker{MaxCandidates: cfg.MaxCandidates},
		cfg:        cfg,
		logger:     logger.With("component", "dispatch"),
		inflight:   make(map[string]context.CancelCauseFunc),
		baseCtx:    base,
		cancelBase: cancel,
	}
}

func lockKey(orderID string) string { return "dispatch:" + orderID }

// Dispatch runs the offer loop for a new order until a driver is assigned or the order is cancelled.
// An order that is not new, or already being dispatched, yields an ErrInvalidState error and is
// left untouched. Normal terminal outcomes are returned as values.
func (c *Coordinator) Dispatch(ctx context.Context, orderID string) (Outcome, error) {
	lease, err := c.locker.TryLock(ctx, lockKey(orderID), c.cfg.LockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		return Outcome{}, errs.NewInvalidStateError("order", orderID, "dispatching", "dispatch")
	}
	if err != nil {
		return Outcome{}, errs.NewUnavailableError("acquire dispatch lock", err)
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := lease.Release(relCtx); err != nil {
			c.logger.Warn("release dispatch lock failed", "order_id", orderID, "error", err)
		}
	}()

	order, err := c.getOrder(ctx, orderID)
	if err != nil {
		return Outcome{}, err
	}
	if order.Status != models.StatusNew {
		return Outcome{}, errs.NewInvalidStateError("order", orderID, order.Status.String(), "dispatch")
	}
	to, _ := lifecycle.Next(order.Status, lifecycle.EventDispatchStarted)
	ok, err := c.orders.UpdateStatus(ctx, orderID, models.StatusNew, to, "")
	if err != nil {
		return Outcome{}, fmt.Errorf("start dispatch of %s: %w", orderID, err)
	}
	if !ok {
		current, err := c.getOrder(ctx, orderID)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{}, errs.NewInvalidStateError("order", orderID, current.Status.String(), "dispatch")
	}
	order.Status = to

	start := time.Now()
	c.logger.InfoContext(ctx, "dispatch started", "order_id", orderID, "kind", order.Kind)
	c.emit(ctx, models.EventOrderSearching, order)

	runCtx, cancelTimeout := context.WithTimeoutCause(ctx, c.cfg.SearchTimeout, errSearchTimeout)
	defer cancelTimeout()
	runCtx, cancelRun := context.WithCancelCause(runCtx)
	defer cancelRun(nil)
	c.track(orderID, cancelRun)
	defer c.untrack(orderID)

	out, err := c.search(ctx, runCtx, order)
	observability.DispatchDuration.Observe(time.Since(start).Seconds())
	result := resultLabel(out, err)
	observability.DispatchRunsTotal.WithLabelValues(result).Inc()
	if err != nil {
		c.logger.ErrorContext(ctx, "dispatch aborted", "order_id", orderID, "error", err)
		return out, err
	}
	c.logger.InfoContext(ctx, "dispatch finished", "order_id", orderID, "status", out.Status, "driver_id", out.DriverID, "reason", out.Reason, "attempts", len(out.Attempts))
	return out, nil
}

// search offers the order to ranked candidates one at a time. ctx is the caller's context and
// is used for the final writes; runCtx additionally carries the search timeout and cancellation.
func (c *Coordinator) search(ctx, runCtx context.Context, order models.Order) (Outcome, error) {
	out := Outcome{OrderID: order.ID, Status: order.Status}

	drivers, err := c.listAvailable(runCtx)
	if err != nil {
		if runCtx.Err() != nil {
			return c.interrupted(ctx, runCtx, out)
		}
		return out, err
	}
	observability.DriversAvailable.Set(float64(len(drivers)))
	candidates := c.ranker.Candidates(order, drivers)
	if len(candidates) == 0 {
		return c.finishCancelled(ctx, out, models.ReasonNoDriversAvailable)
	}

	for _, cand := range candidates {
		if runCtx.Err() != nil {
			return c.interrupted(ctx, runCtx, out)
		}
		current, err := c.getOrder(runCtx, order.ID)
		if err != nil {
			if runCtx.Err() != nil {
				return c.interrupted(ctx, runCtx, out)
			}
			return out, err
		}
		if current.Status != models.StatusSearching {
			return outcomeOf(current, out.Attempts), nil
		}

		// availability is re-read per offer so a driver taken by another order is skipped
		driver, err := c.drivers.GetDriver(runCtx, cand.Driver.ID)
		if err != nil {
			c.logger.WarnContext(ctx, "candidate lookup failed", "order_id", order.ID, "driver_id", cand.Driver.ID, "error", err)
			continue
		}
		if !driver.Available {
			c.logger.DebugContext(ctx, "candidate no longer available", "order_id", order.ID, "driver_id", driver.ID)
			continue
		}

		attempt, reply := c.offer(runCtx, current, driver, cand)
		out.Attempts = append(out.Attempts, attempt)

		if reply == models.ReplyAccepted {
			// the accept arrived inside the window, so it is honoured even if the run was just
			// interrupted; the conditional assignment decides
			assigned, err := c.assign(ctx, current, driver)
			if err != nil {
				c.logger.WarnContext(ctx, "assignment failed", "order_id", order.ID, "driver_id", driver.ID, "error", err)
				continue
			}
			if assigned {
				current.Status = models.StatusDriverAssigned
				current.DriverID = driver.ID
				c.emit(ctx, models.EventOrderAssigned, current)
				return outcomeOf(current, out.Attempts), nil
			}
		}
	}
	if runCtx.Err() != nil {
		return c.interrupted(ctx, runCtx, out)
	}
	return c.finishCancelled(ctx, out, models.ReasonNoDriverAccepted)
}

func (c *Coordinator) offer(ctx context.Context, order models.Order, driver models.Driver, cand matcher.Candidate) (models.DispatchAttempt, models.Reply) {
	now := time.Now()
	attempt := models.DispatchAttempt{
		OrderID:  order.ID,
		DriverID: driver.ID,
		OfferID:  uuid.NewString(),
		IssuedAt: now,
		Deadline: now.Add(c.cfg.OfferTimeout),
		Outcome:  models.AttemptPending,
	}
	offer := models.Offer{
		OfferID:            attempt.OfferID,
		OrderID:            order.ID,
		Kind:               order.Kind,
		Pickup:             order.Pickup,
		PickupAddress:      order.PickupAddress,
		Destination:        order.Destination,
		DestinationAddress: order.DestinationAddress,
		Description:        order.Description,
		DistanceKm:         order.DistanceKm,
		Price:              order.Price,
		ExpiresAt:          attempt.Deadline,
	}
	if cand.HasLocation() {
		d := cand.DistanceKm
		offer.DistanceToPickupKm = &d
	}

	reply, err := c.notifier.SendOfferAndAwaitResponse(ctx, driver.Endpoint(), offer, attempt.Deadline)
	attempt.Outcome = reply.Outcome()
	observability.OffersTotal.WithLabelValues(string(reply)).Inc()
	switch {
	case reply == models.ReplyDeliveryFailed:
		c.logger.WarnContext(ctx, "offer not delivered", "order_id", order.ID, "driver_id", driver.ID, "offer_id", offer.OfferID, "error", err)
	case err != nil:
		c.logger.DebugContext(ctx, "offer wait interrupted", "order_id", order.ID, "driver_id", driver.ID, "error", err)
	default:
		c.logger.InfoContext(ctx, "offer answered", "order_id", order.ID, "driver_id", driver.ID, "offer_id", offer.OfferID, "reply", reply)
	}
	return attempt, reply
}

// assign claims the driver, then moves the order searching -> driver_assigned in one
// conditional update. A lost update releases the driver again; after a store error the order is
// re-read and the driver is released only when it was not assigned.
func (c *Coordinator) assign(ctx context.Context, order models.Order, driver models.Driver) (bool, error) {
	claimed, err := c.drivers.ClaimDriver(ctx, driver.ID)
	if err != nil {
		return false, err
	}
	if !claimed {
		c.logger.InfoContext(ctx, "driver taken by another order", "order_id", order.ID, "driver_id", driver.ID)
		return false, nil
	}
	ok, err := c.orders.AssignDriver(ctx, order.ID, driver.ID, models.StatusSearching)
	if err == nil && ok {
		return true, nil
	}
	if err != nil {
		// the update may have committed before the error surfaced
		current, readErr := c.getOrder(ctx, order.ID)
		if readErr != nil {
			c.logger.ErrorContext(ctx, "assignment outcome unknown, driver kept busy", "order_id", order.ID, "driver_id", driver.ID, "error", readErr)
			return false, err
		}
		if current.Status == models.StatusDriverAssigned && current.DriverID == driver.ID {
			c.logger.WarnContext(ctx, "assignment applied despite store error", "order_id", order.ID, "driver_id", driver.ID, "error", err)
			return true, nil
		}
	} else {
		observability.AssignConflicts.Inc()
		c.logger.InfoContext(ctx, "assignment lost", "order_id", order.ID, "driver_id", driver.ID)
	}
	if _, relErr := c.drivers.SetAvailability(ctx, driver.ID, true); relErr != nil {
		c.logger.ErrorContext(ctx, "release driver failed", "driver_id", driver.ID, "error", relErr)
	}
	return false, err
}

// interrupted resolves a run whose context ended: search timeout cancels the order, an external
// cancellation reports the stored state, and a caller shutdown leaves the order for the sweeper.
func (c *Coordinator) interrupted(ctx, runCtx context.Context, out Outcome) (Outcome, error) {
	switch cause := context.Cause(runCtx); {
	case errors.Is(cause, errSearchTimeout):
		return c.finishCancelled(ctx, out, models.ReasonSearchTimeout)
	case errors.Is(cause, errOrderCancelled):
		current, err := c.getOrder(ctx, out.OrderID)
		if err != nil {
			return out, err
		}
		return outcomeOf(current, out.Attempts), nil
	default:
		return out, fmt.Errorf("dispatch %s interrupted: %w", out.OrderID, cause)
	}
}

func (c *Coordinator) finishCancelled(ctx context.Context, out Outcome, reason models.CancelReason) (Outcome, error) {
	ok, err := c.orders.UpdateStatus(ctx, out.OrderID, models.StatusSearching, models.StatusCancelled, reason)
	if err != nil {
		return out, fmt.Errorf("cancel %s: %w", out.OrderID, err)
	}
	current, err := c.getOrder(ctx, out.OrderID)
	if err != nil {
		return out, err
	}
	if ok {
		c.emit(ctx, models.EventOrderCancelled, current)
	}
	return outcomeOf(current, out.Attempts), nil
}

// Cancel cancels a new, searching or assigned order and stops its in-flight dispatch at once.
// A driver already assigned is made available again.
func (c *Coordinator) Cancel(ctx context.Context, orderID string, reason models.CancelReason) (models.Order, error) {
	if reason == "" {
		reason = models.ReasonClientCancelled
	}
	var first models.Status
	for i := 0; i < 3; i++ {
		o, err := c.getOrder(ctx, orderID)
		if err != nil {
			return models.Order{}, err
		}
		if i == 0 {
			first = o.Status
		}
		if !lifecycle.Cancellable(o.Status) {
			return o, errs.NewInvalidStateError("order", orderID, o.Status.String(), "cancel")
		}
		if o.Status == models.StatusDriverAssigned && first != models.StatusDriverAssigned {
			// a driver accepted while this request was in flight; the assignment wins
			return o, errs.NewInvalidStateError("order", orderID, o.Status.String(), "cancel")
		}
		ok, err := c.orders.UpdateStatus(ctx, orderID, o.Status, models.StatusCancelled, reason)
		if err != nil {
			return o, fmt.Errorf("cancel %s: %w", orderID, err)
		}
		if !ok {
			continue
		}
		c.interrupt(orderID)
		if o.Status == models.StatusDriverAssigned && o.DriverID != "" {
			if _, err := c.drivers.SetAvailability(ctx, o.DriverID, true); err != nil {
				c.logger.ErrorContext(ctx, "release driver failed", "order_id", orderID, "driver_id", o.DriverID, "error", err)
			}
		}
		cancelled, err := c.getOrder(ctx, orderID)
		if err != nil {
			return o, err
		}
		c.logger.InfoContext(ctx, "order cancelled", "order_id", orderID, "from", o.Status, "reason", reason)
		c.emit(ctx, models.EventOrderCancelled, cancelled)
		return cancelled, nil
	}
	current, err := c.getOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	return current, errs.NewInvalidStateError("order", orderID, current.Status.String(), "cancel")
}

// DispatchAsync starts a dispatch run in the background. Runs stop when Close is called.
func (c *Coordinator) DispatchAsync(orderID string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.Dispatch(c.baseCtx, orderID); err != nil && !errors.Is(err, errs.ErrInvalidState) {
			c.logger.Error("background dispatch failed", "order_id", orderID, "error", err)
		}
	}()
}

// Close stops background runs and waits for them to return or for ctx to end.
func (c *Coordinator) Close(ctx context.Context) error {
	c.cancelBase()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight reports how many dispatch runs are active in this process.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

func (c *Coordinator) track(orderID string, cancel context.CancelCauseFunc) {
	c.mu.Lock()
	c.inflight[orderID] = cancel
	c.mu.Unlock()
}

func (c *Coordinator) untrack(orderID string) {
	c.mu.Lock()
	delete(c.inflight, orderID)
	c.mu.Unlock()
}

func (c *Coordinator) interrupt(orderID string) {
	c.mu.Lock()
	cancel, ok := c.inflight[orderID]
	c.mu.Unlock()
	if ok {
		cancel(errOrderCancelled)
	}
}

func (c *Coordinator) emit(ctx context.Context, t models.EventType, o models.Order) {
	ev := models.NewOrderEvent(t, o, time.Now().UTC())
	// the run context may already be done; events still go out
	ctx = context.WithoutCancel(ctx)
	if err := c.events.Publish(ctx, ev); err != nil {
		c.logger.WarnContext(ctx, "publish order event failed", "order_id", o.ID, "event", t, "error", err)
	}
	c.notifier.NotifyClient(ctx, ev)
}

func (c *Coordinator) getOrder(ctx context.Context, id string) (models.Order, error) {
	var o models.Order
	err := c.retry(ctx, func() error {
		var err error
		o, err = c.orders.GetOrder(ctx, id)
		return err
	})
	return o, err
}

func (c *Coordinator) listAvailable(ctx context.Context) ([]models.Driver, error) {
	var ds []models.Driver
	err := c.retry(ctx, func() error {
		var err error
		ds, err = c.drivers.ListAvailable(ctx)
		return err
	})
	return ds, err
}

// retry repeats fn on ErrUnavailable with a doubling delay.
func (c *Coordinator) retry(ctx context.Context, fn func() error) error {
	delay := c.cfg.StoreRetryDelay
	var err error
	for i := 0; i < c.cfg.StoreAttempts; i++ {
		if err = fn(); err == nil || !errors.Is(err, errs.ErrUnavailable) {
			return err
		}
		if i == c.cfg.StoreAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return err
		}
		delay *= 2
	}
	return err
}

func outcomeOf(o models.Order, attempts []models.DispatchAttempt) Outcome {
	out := Outcome{OrderID: o.ID, Status: o.Status, Attempts: attempts}
	if o.Status.HasDriver() {
		out.DriverID = o.DriverID
	}
	if o.Status == models.StatusCancelled {
		out.Reason = o.CancelReason
	}
	return out
}

func resultLabel(out Outcome, err error) string {
	if err != nil {
		return "error"
	}
	switch out.Status {
	case models.StatusDriverAssigned:
		return "assigned"
	case models.StatusCancelled:
		return string(out.Reason)
	}
	return string(out.Status)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, models.OrderEvent) error { return nil }
