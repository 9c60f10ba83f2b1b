// Package fleet manages drivers: registration, shift availability and location reports.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/taxi-dispatch/internal/errs"
	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/lifecycle"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
	"github.com/example/taxi-dispatch/internal/ratelimit"
	"github.com/example/taxi-dispatch/internal/validate"
)

type DriverStore interface {
	CreateDriver(ctx context.Context, d *models.Driver) error
	GetDriver(ctx context.Context, id string) (models.Driver, error)
	GetDriverByAccount(ctx context.Context, accountID int64) (models.Driver, error)
	SetAvailability(ctx context.Context, id string, available bool) (bool, error)
	UpdateLocation(ctx context.Context, id string, loc models.Coord, at time.Time) (bool, error)
}

type OrderLister interface {
	ListByDriver(ctx context.Context, driverID string, limit int) ([]models.Order, error)
}

// LocationPublisher hands location reports to the consumer process instead of writing them here.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, r models.LocationReport) error
}

type Deps struct {
	Drivers   DriverStore
	Orders    OrderLister
	Limiter   ratelimit.Limiter // optional
	Locations LocationPublisher // optional; nil applies reports directly
	Logger    *slog.Logger
}

type Service struct {
	drivers   DriverStore
	orders    OrderLister
	limiter   ratelimit.Limiter
	locations LocationPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		drivers:   d.Drivers,
		orders:    d.Orders,
		limiter:   d.Limiter,
		locations: d.Locations,
		logger:    logger.With("component", "fleet"),
		now:       time.Now,
	}
}

type RegisterRequest struct {
	AccountID     int64  `json:"account_id"`
	CarModel      string `json:"car_model"`
	CarNumber     string `json:"car_number"`
	LicenseNumber string `json:"license_number"`
}

// Register creates an offline driver. An account can register once.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (models.Driver, error) {
	if req.AccountID <= 0 {
		return models.Driver{}, errs.NewValueIsInvalidError("account_id")
	}
	carModel, err := validate.Required("car_model", req.CarModel, 100)
	if err != nil {
		return models.Driver{}, err
	}
	carNumber, err := validate.CarNumber(req.CarNumber)
	if err != nil {
		return models.Driver{}, err
	}
	license, err := validate.Required("license_number", req.LicenseNumber, 50)
	if err != nil {
		return models.Driver{}, err
	}

	if _, err := s.drivers.GetDriverByAccount(ctx, req.AccountID); err == nil {
		return models.Driver{}, errs.NewValueIsInvalidErrorWithCause("account_id", errors.New("account already registered as driver"))
	} else if !errors.Is(err, errs.ErrNotFound) {
		return models.Driver{}, err
	}

	d := models.Driver{
		ID:            uuid.NewString(),
		AccountID:     req.AccountID,
		CarModel:      carModel,
		CarNumber:     carNumber,
		LicenseNumber: license,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.drivers.CreateDriver(ctx, &d); err != nil {
		return models.Driver{}, fmt.Errorf("register driver: %w", err)
	}
	s.logger.InfoContext(ctx, "driver registered", "driver_id", d.ID, "account_id", d.AccountID)
	return d, nil
}

func (s *Service) Get(ctx context.Context, id string) (models.Driver, error) {
	return s.drivers.GetDriver(ctx, id)
}

func (s *Service) GetByAccount(ctx context.Context, accountID int64) (models.Driver, error) {
	return s.drivers.GetDriverByAccount(ctx, accountID)
}

// SetOnline puts the driver into the candidate pool. A driver still holding an assigned or
// running order stays busy.
func (s *Service) SetOnline(ctx context.Context, id string) (models.Driver, error) {
	if _, err := s.drivers.GetDriver(ctx, id); err != nil {
		return models.Driver{}, err
	}
	if s.orders != nil {
		orders, err := s.orders.ListByDriver(ctx, id, 20)
		if err != nil {
			return models.Driver{}, err
		}
		for _, o := range orders {
			if lifecycle.Active(o.Status) {
				return models.Driver{}, errs.NewInvalidStateError("driver", id, "busy with order "+o.ID, "go online")
			}
		}
	}
	return s.setAvailability(ctx, id, true)
}

func (s *Service) SetOffline(ctx context.Context, id string) (models.Driver, error) {
	return s.setAvailability(ctx, id, false)
}

func (s *Service) setAvailability(ctx context.Context, id string, available bool) (models.Driver, error) {
	ok, err := s.drivers.SetAvailability(ctx, id, available)
	if err != nil {
		return models.Driver{}, err
	}
	if !ok {
		return models.Driver{}, errs.NewNotFoundError("driver", id)
	}
	s.logger.InfoContext(ctx, "driver availability changed", "driver_id", id, "available", available)
	return s.drivers.GetDriver(ctx, id)
}

// ReportLocation records a driver's position, through Kafka when a publisher is configured.
func (s *Service) ReportLocation(ctx context.Context, id string, loc models.Coord) error {
	if err := geo.Validate(loc); err != nil {
		return err
	}
	d, err := s.drivers.GetDriver(ctx, id)
	if err != nil {
		return err
	}
	if s.limiter != nil {
		dec, err := s.limiter.Allow(ctx, d.AccountID, ratelimit.ActionLocation)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "rate limiter unavailable, allowing request", "driver_id", id, "error", err)
		case !dec.Allowed:
			observability.RateLimited.WithLabelValues(string(ratelimit.ActionLocation)).Inc()
			return &errs.RateLimitedError{ClientID: d.AccountID, Action: string(ratelimit.ActionLocation), Reason: dec.Reason}
		}
	}

	report := models.LocationReport{DriverID: id, Loc: loc, At: s.now().UTC()}
	if s.locations != nil {
		if err := s.locations.PublishLocation(ctx, report); err != nil {
			return errs.NewUnavailableError("publish location", err)
		}
		return nil
	}
	// a stale report is dropped by the store
	_, err = s.drivers.UpdateLocation(ctx, id, report.Loc, report.At)
	return err
}
