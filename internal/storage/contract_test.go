package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/taxi-dispatch/internal/errs"
	"github.com/example/taxi-dispatch/internal/models"
)

type store interface {
	OrderStore
	DriverStore
}

// runStoreContract exercises the behavior every store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) store) {
	t.Run("order not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetOrder(context.Background(), uuid.NewString())
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("create and get order", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		o := newOrder(1)
		o.Destination = &models.Coord{Lat: 55.8, Lon: 37.7}
		o.DestinationAddress = "Lenina 1"
		require.NoError(t, s.CreateOrder(ctx, &o))

		got, err := s.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, o.ID, got.ID)
		assert.Equal(t, models.StatusNew, got.Status)
		assert.Equal(t, int64(1), got.ClientID)
		require.NotNil(t, got.Destination)
		assert.InDelta(t, 55.8, got.Destination.Lat, 1e-9)
		assert.Equal(t, "Lenina 1", got.DestinationAddress)
		assert.Empty(t, got.DriverID)
		assert.Equal(t, int64(250), got.Price)
	})

	t.Run("conditional status update", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		o := newOrder(1)
		require.NoError(t, s.CreateOrder(ctx, &o))

		ok, err := s.UpdateStatus(ctx, o.ID, models.StatusSearching, models.StatusCancelled, models.ReasonClientCancelled)
		require.NoError(t, err)
		assert.False(t, ok, "precondition does not hold")

		ok, err = s.UpdateStatus(ctx, o.ID, models.StatusNew, models.StatusSearching, "")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.UpdateStatus(ctx, o.ID, models.StatusSearching, models.StatusCancelled, models.ReasonNoDriverAccepted)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := s.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, got.Status)
		assert.Equal(t, models.ReasonNoDriverAccepted, got.CancelReason)
		assert.NotNil(t, got.CancelledAt)

		ok, err = s.UpdateStatus(ctx, uuid.NewString(), models.StatusNew, models.StatusSearching, "")
		require.NoError(t, err)
		assert.False(t, ok, "unknown order")
	})

	t.Run("assign driver is a compare and swap", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		d1, d2 := newDriver(101), newDriver(102)
		require.NoError(t, s.CreateDriver(ctx, &d1))
		require.NoError(t, s.CreateDriver(ctx, &d2))
		o := newOrder(1)
		require.NoError(t, s.CreateOrder(ctx, &o))

		ok, err := s.AssignDriver(ctx, o.ID, d1.ID, models.StatusSearching)
		require.NoError(t, err)
		assert.False(t, ok, "order is still new")

		_, err = s.UpdateStatus(ctx, o.ID, models.StatusNew, models.StatusSearching, "")
		require.NoError(t, err)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for _, id := range []string{d1.ID, d2.ID, d1.ID, d2.ID} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				ok, err := s.AssignDriver(ctx, o.ID, id, models.StatusSearching)
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}(id)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())

		got, err := s.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusDriverAssigned, got.Status)
		assert.Contains(t, []string{d1.ID, d2.ID}, got.DriverID)
	})

	t.Run("driver availability and claim", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		d := newDriver(201)
		require.NoError(t, s.CreateDriver(ctx, &d))

		avail, err := s.ListAvailable(ctx)
		require.NoError(t, err)
		assert.Empty(t, avail)

		ok, err := s.ClaimDriver(ctx, d.ID)
		require.NoError(t, err)
		assert.False(t, ok, "offline driver cannot be claimed")

		ok, err = s.SetAvailability(ctx, d.ID, true)
		require.NoError(t, err)
		assert.True(t, ok)

		avail, err = s.ListAvailable(ctx)
		require.NoError(t, err)
		require.Len(t, avail, 1)
		assert.Equal(t, d.ID, avail[0].ID)

		ok, err = s.ClaimDriver(ctx, d.ID)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.ClaimDriver(ctx, d.ID)
		require.NoError(t, err)
		assert.False(t, ok, "second claim loses")

		ok, err = s.SetAvailability(ctx, uuid.NewString(), true)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("duplicate account is rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		d := newDriver(301)
		require.NoError(t, s.CreateDriver(ctx, &d))
		dup := newDriver(301)
		assert.ErrorIs(t, s.CreateDriver(ctx, &dup), errs.ErrValueIsInvalid)

		got, err := s.GetDriverByAccount(ctx, 301)
		require.NoError(t, err)
		assert.Equal(t, d.ID, got.ID)

		_, err = s.GetDriverByAccount(ctx, 999)
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("location updates ignore stale reports", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		d := newDriver(401)
		require.NoError(t, s.CreateDriver(ctx, &d))

		now := time.Now().UTC().Truncate(time.Millisecond)
		ok, err := s.UpdateLocation(ctx, d.ID, models.Coord{Lat: 1, Lon: 2}, now)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.UpdateLocation(ctx, d.ID, models.Coord{Lat: 9, Lon: 9}, now.Add(-time.Minute))
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.GetDriver(ctx, d.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Loc)
		assert.InDelta(t, 1, got.Loc.Lat, 1e-9)
		assert.InDelta(t, 2, got.Loc.Lon, 1e-9)
	})

	t.Run("trip counters and rating", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		d := newDriver(501)
		require.NoError(t, s.CreateDriver(ctx, &d))

		ok, err := s.RecordTrip(ctx, d.ID, 250)
		require.NoError(t, err)
		assert.True(t, ok)
		_, err = s.RecordTrip(ctx, d.ID, 100)
		require.NoError(t, err)
		_, err = s.AddRating(ctx, d.ID, 5)
		require.NoError(t, err)
		_, err = s.AddRating(ctx, d.ID, 4)
		require.NoError(t, err)

		got, err := s.GetDriver(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.TotalTrips)
		assert.Equal(t, int64(350), got.TotalEarnings)
		assert.True(t, got.Available)
		assert.InDelta(t, 4.5, got.Rating, 1e-9)
		assert.Equal(t, 2, got.RatingCount)
	})

	t.Run("rating an order only once after completion", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		d := newDriver(601)
		require.NoError(t, s.CreateDriver(ctx, &d))
		o := newOrder(6)
		require.NoError(t, s.CreateOrder(ctx, &o))

		ok, err := s.SetRating(ctx, o.ID, 5)
		require.NoError(t, err)
		assert.False(t, ok, "not completed")

		_, err = s.UpdateStatus(ctx, o.ID, models.StatusNew, models.StatusSearching, "")
		require.NoError(t, err)
		_, err = s.AssignDriver(ctx, o.ID, d.ID, models.StatusSearching)
		require.NoError(t, err)
		_, err = s.UpdateStatus(ctx, o.ID, models.StatusDriverAssigned, models.StatusInProgress, "")
		require.NoError(t, err)
		_, err = s.UpdateStatus(ctx, o.ID, models.StatusInProgress, models.StatusCompleted, "")
		require.NoError(t, err)

		ok, err = s.SetRating(ctx, o.ID, 5)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.SetRating(ctx, o.ID, 1)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.Rating)
		assert.NotNil(t, got.StartedAt)
		assert.NotNil(t, got.CompletedAt)

		byDriver, err := s.ListByDriver(ctx, d.ID, 10)
		require.NoError(t, err)
		require.Len(t, byDriver, 1)
		assert.Equal(t, o.ID, byDriver[0].ID)
	})

	t.Run("client history is newest first", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Now().UTC().Truncate(time.Second)
		var ids []string
		for i := 0; i < 3; i++ {
			o := newOrder(7)
			o.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			require.NoError(t, s.CreateOrder(ctx, &o))
			ids = append(ids, o.ID)
		}
		other := newOrder(8)
		require.NoError(t, s.CreateOrder(ctx, &other))

		got, err := s.ListByClient(ctx, 7, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, ids[2], got[0].ID)
		assert.Equal(t, ids[1], got[1].ID)
	})

	t.Run("stale orders and stats", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		old := newOrder(9)
		old.CreatedAt = time.Now().Add(-time.Hour)
		require.NoError(t, s.CreateOrder(ctx, &old))
		fresh := newOrder(9)
		require.NoError(t, s.CreateOrder(ctx, &fresh))

		stale, err := s.ListStale(ctx, models.StatusNew, time.Now().Add(-10*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, old.ID, stale[0].ID)

		_, err = s.UpdateStatus(ctx, fresh.ID, models.StatusNew, models.StatusCancelled, models.ReasonClientCancelled)
		require.NoError(t, err)

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, stats.Total, 2)
		assert.GreaterOrEqual(t, stats.Pending, 1)
		assert.GreaterOrEqual(t, stats.Cancelled, 1)
	})
}

func newOrder(clientID int64) models.Order {
	return models.Order{
		ID:            uuid.NewString(),
		ClientID:      clientID,
		Kind:          models.KindRide,
		Pickup:        models.Coord{Lat: 55.75, Lon: 37.61},
		PickupAddress: "Tverskaya 7",
		DistanceKm:    10,
		Price:         250,
		Status:        models.StatusNew,
	}
}

func newDriver(accountID int64) models.Driver {
	return models.Driver{
		ID:            uuid.NewString(),
		AccountID:     accountID,
		CarModel:      "Lada Vesta",
		CarNumber:     "А123ВС77",
		LicenseNumber: "7700123456",
	}
}
