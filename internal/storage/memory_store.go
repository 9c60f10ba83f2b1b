package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/taxi-dispatch/internal/errs"
	"github.com/example/taxi-dispatch/internal/models"
)

// MemoryStore keeps orders and drivers in process. It is used when no database is configured
// and by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	orders  map[string]models.Order
	drivers map[string]models.Driver
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:  make(map[string]models.Order),
		drivers: make(map[string]models.Driver),
		now:     time.Now,
	}
}

func (m *MemoryStore) CreateOrder(ctx context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return errs.NewValueIsInvalidError("order id already exists")
	}
	now := m.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = o.CreatedAt
	m.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, id string) (models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, errs.NewNotFoundError("order", id)
	}
	return cloneOrder(o), nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, from, to models.Status, reason models.CancelReason) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	applyStatus(&o, to, reason, m.now())
	m.orders[id] = o
	return true, nil
}

func (m *MemoryStore) AssignDriver(ctx context.Context, id, driverID string, from models.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != from || o.DriverID != "" {
		return false, nil
	}
	o.DriverID = driverID
	o.Status = models.StatusDriverAssigned
	o.UpdatedAt = m.now()
	m.orders[id] = o
	return true, nil
}

func (m *MemoryStore) SetRating(ctx context.Context, id string, rating int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != models.StatusCompleted || o.Rating != 0 {
		return false, nil
	}
	o.Rating = rating
	o.UpdatedAt = m.now()
	m.orders[id] = o
	return true, nil
}

func (m *MemoryStore) ListByClient(ctx context.Context, clientID int64, limit int) ([]models.Order, error) {
	return m.listOrders(limit, func(o models.Order) bool { return o.ClientID == clientID }), nil
}

func (m *MemoryStore) ListByDriver(ctx context.Context, driverID string, limit int) ([]models.Order, error) {
	return m.listOrders(limit, func(o models.Order) bool { return o.DriverID == driverID }), nil
}

func (m *MemoryStore) ListStale(ctx context.Context, status models.Status, olderThan time.Time, limit int) ([]models.Order, error) {
	out := m.listOrders(0, func(o models.Order) bool { return o.Status == status && o.UpdatedAt.Before(olderThan) })
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// listOrders returns matching orders newest first. limit <= 0 means all.
func (m *MemoryStore) listOrders(limit int, match func(models.Order) bool) []models.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Order, 0)
	for _, o := range m.orders {
		if match(o) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MemoryStore) Stats(ctx context.Context) (models.OrderStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s models.OrderStats
	for _, o := range m.orders {
		s.Total++
		switch o.Status {
		case models.StatusNew, models.StatusSearching:
			s.Pending++
		case models.StatusDriverAssigned, models.StatusInProgress:
			s.Active++
		case models.StatusCompleted:
			s.Completed++
		case models.StatusCancelled:
			s.Cancelled++
		}
	}
	return s, nil
}

func (m *MemoryStore) CreateDriver(ctx context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[d.ID]; ok {
		return errs.NewValueIsInvalidError("driver id already exists")
	}
	for _, existing := range m.drivers {
		if existing.AccountID == d.AccountID {
			return errs.NewValueIsInvalidError("account already registered as driver")
		}
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = m.now()
	}
	m.drivers[d.ID] = cloneDriver(*d)
	return nil
}

func (m *MemoryStore) GetDriver(ctx context.Context, id string) (models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return models.Driver{}, errs.NewNotFoundError("driver", id)
	}
	return cloneDriver(d), nil
}

func (m *MemoryStore) GetDriverByAccount(ctx context.Context, accountID int64) (models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.drivers {
		if d.AccountID == accountID {
			return cloneDriver(d), nil
		}
	}
	return models.Driver{}, errs.NewNotFoundError("driver account", formatInt(accountID))
}

func (m *MemoryStore) ListAvailable(ctx context.Context) ([]models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Driver, 0)
	for _, d := range m.drivers {
		if d.Available {
			out = append(out, cloneDriver(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SetAvailability(ctx context.Context, id string, available bool) (bool, error) {
	return m.updateDriver(id, func(d *models.Driver) bool {
		d.Available = available
		return true
	})
}

func (m *MemoryStore) ClaimDriver(ctx context.Context, id string) (bool, error) {
	return m.updateDriver(id, func(d *models.Driver) bool {
		if !d.Available {
			return false
		}
		d.Available = false
		return true
	})
}

func (m *MemoryStore) UpdateLocation(ctx context.Context, id string, loc models.Coord, at time.Time) (bool, error) {
	return m.updateDriver(id, func(d *models.Driver) bool {
		// out-of-order reports must not move the driver back in time
		if !d.LocUpdated.IsZero() && at.Before(d.LocUpdated) {
			return false
		}
		d.Loc = &models.Coord{Lat: loc.Lat, Lon: loc.Lon}
		d.LocUpdated = at
		return true
	})
}

func (m *MemoryStore) RecordTrip(ctx context.Context, id string, fare int64) (bool, error) {
	return m.updateDriver(id, func(d *models.Driver) bool {
		d.TotalTrips++
		d.TotalEarnings += fare
		d.Available = true
		return true
	})
}

func (m *MemoryStore) AddRating(ctx context.Context, id string, rating int) (bool, error) {
	return m.updateDriver(id, func(d *models.Driver) bool {
		d.Rating = (d.Rating*float64(d.RatingCount) + float64(rating)) / float64(d.RatingCount+1)
		d.RatingCount++
		return true
	})
}

func (m *MemoryStore) updateDriver(id string, fn func(d *models.Driver) bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return false, nil
	}
	if !fn(&d) {
		return false, nil
	}
	m.drivers[id] = d
	return true, nil
}

func cloneOrder(o models.Order) models.Order {
	if o.Destination != nil {
		dst := *o.Destination
		o.Destination = &dst
	}
	o.StartedAt = cloneTime(o.StartedAt)
	o.CompletedAt = cloneTime(o.CompletedAt)
	o.CancelledAt = cloneTime(o.CancelledAt)
	return o
}

func cloneDriver(d models.Driver) models.Driver {
	if d.Loc != nil {
		loc := *d.Loc
		d.Loc = &loc
	}
	return d
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
