package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/example/taxi-dispatch/internal/models"
)

// OrderStore persists orders. Every status change is a conditional update that applies only
// when the stored status still equals `from`; the bool result reports whether it applied.
type OrderStore interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (models.Order, error)
	UpdateStatus(ctx context.Context, id string, from, to models.Status, reason models.CancelReason) (bool, error)
	AssignDriver(ctx context.Context, id, driverID string, from models.Status) (bool, error)
	SetRating(ctx context.Context, id string, rating int) (bool, error)
	ListByClient(ctx context.Context, clientID int64, limit int) ([]models.Order, error)
	ListByDriver(ctx context.Context, driverID string, limit int) ([]models.Order, error)
	ListStale(ctx context.Context, status models.Status, olderThan time.Time, limit int) ([]models.Order, error)
	Stats(ctx context.Context) (models.OrderStats, error)
}

// DriverStore persists drivers.
type DriverStore interface {
	CreateDriver(ctx context.Context, d *models.Driver) error
	GetDriver(ctx context.Context, id string) (models.Driver, error)
	GetDriverByAccount(ctx context.Context, accountID int64) (models.Driver, error)
	ListAvailable(ctx context.Context) ([]models.Driver, error)
	SetAvailability(ctx context.Context, id string, available bool) (bool, error)
	// ClaimDriver flips an available driver to busy. It reports false when the driver was not available.
	ClaimDriver(ctx context.Context, id string) (bool, error)
	UpdateLocation(ctx context.Context, id string, loc models.Coord, at time.Time) (bool, error)
	// RecordTrip frees the driver and adds one trip and its fare to the counters.
	RecordTrip(ctx context.Context, id string, fare int64) (bool, error)
	AddRating(ctx context.Context, id string, rating int) (bool, error)
}

const defaultListLimit = 10

func listLimit(n int) int {
	if n <= 0 || n > 100 {
		return defaultListLimit
	}
	return n
}

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }

// applyStatus mutates o the way a successful UpdateStatus does.
func applyStatus(o *models.Order, to models.Status, reason models.CancelReason, now time.Time) {
	o.Status = to
	o.UpdatedAt = now
	switch to {
	case models.StatusInProgress:
		o.StartedAt = &now
	case models.StatusCompleted:
		o.CompletedAt = &now
	case models.StatusCancelled:
		o.CancelledAt = &now
		o.CancelReason = reason
	}
}
