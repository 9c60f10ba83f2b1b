package trip

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/taxi-dispatch/internal/errs"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/storage"
)

type recorder struct {
	published []models.EventType
	notified  []models.EventType
}

func (r *recorder) Publish(ctx context.Context, ev models.OrderEvent) error {
	r.published = append(r.published, ev.Type)
	return nil
}

func (r *recorder) NotifyClient(ctx context.Context, ev models.OrderEvent) {
	r.notified = append(r.notified, ev.Type)
}

// assignedOrder stores a driver and an order already assigned to that driver.
func assignedOrder(t *testing.T, store *storage.MemoryStore) models.Order {
	t.Helper()
	ctx := context.Background()
	d := models.Driver{ID: "d1", AccountID: 5, CarModel: "Lada", CarNumber: "А123ВС77"}
	require.NoError(t, store.CreateDriver(ctx, &d))
	o := models.Order{ID: "o1", ClientID: 9, Kind: models.KindRide, Price: 300, Status: models.StatusSearching}
	require.NoError(t, store.CreateOrder(ctx, &o))
	ok, err := store.AssignDriver(ctx, o.ID, d.ID, models.StatusSearching)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	return got
}

func TestTripLifecycle(t *testing.T) {
	store := storage.NewMemoryStore()
	rec := &recorder{}
	svc := NewService(Deps{Orders: store, Drivers: store, Events: rec, Notifier: rec})
	ctx := context.Background()
	o := assignedOrder(t, store)

	started, err := svc.Start(ctx, o.ID, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, started.Status)
	assert.NotNil(t, started.StartedAt)

	completed, err := svc.Complete(ctx, o.ID, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)

	d, err := store.GetDriver(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, d.Available, "driver is free again")
	assert.Equal(t, 1, d.TotalTrips)
	assert.Equal(t, int64(300), d.TotalEarnings)

	assert.Equal(t, []models.EventType{models.EventOrderStarted, models.EventOrderCompleted}, rec.published)
	assert.Equal(t, rec.published, rec.notified)
}

func TestTripTransitionsGuarded(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := NewService(Deps{Orders: store, Drivers: store})
	ctx := context.Background()
	o := assignedOrder(t, store)

	_, err := svc.Complete(ctx, o.ID, "d1")
	assert.ErrorIs(t, err, errs.ErrInvalidState, "cannot complete before starting")

	_, err = svc.Start(ctx, o.ID, "d2")
	assert.ErrorIs(t, err, errs.ErrNotFound, "only the assigned driver")

	_, err = svc.Start(ctx, o.ID, "d1")
	require.NoError(t, err)
	_, err = svc.Start(ctx, o.ID, "d1")
	assert.ErrorIs(t, err, errs.ErrInvalidState)

	_, err = svc.Start(ctx, "missing", "d1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRate(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := NewService(Deps{Orders: store, Drivers: store})
	ctx := context.Background()
	o := assignedOrder(t, store)

	_, err := svc.Rate(ctx, o.ID, 9, 5)
	assert.ErrorIs(t, err, errs.ErrInvalidState, "only completed trips")

	_, err = svc.Start(ctx, o.ID, "d1")
	require.NoError(t, err)
	_, err = svc.Complete(ctx, o.ID, "d1")
	require.NoError(t, err)

	_, err = svc.Rate(ctx, o.ID, 9, 6)
	assert.ErrorIs(t, err, errs.ErrValueIsInvalid)
	_, err = svc.Rate(ctx, o.ID, 10, 5)
	assert.ErrorIs(t, err, errs.ErrNotFound, "another client's order")

	rated, err := svc.Rate(ctx, o.ID, 9, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, rated.Rating)

	_, err = svc.Rate(ctx, o.ID, 9, 5)
	assert.ErrorIs(t, err, errs.ErrInvalidState, "rated once")

	d, err := store.GetDriver(ctx, "d1")
	require.NoError(t, err)
	assert.InDelta(t, 4.0, d.Rating, 1e-9)
	assert.Equal(t, 1, d.RatingCount)
}
