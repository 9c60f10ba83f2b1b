package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/taxi-dispatch/internal/models"
)

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) store { return NewMemoryStore() })
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	o := newOrder(1)
	o.Destination = &models.Coord{Lat: 1, Lon: 1}
	require.NoError(t, s.CreateOrder(ctx, &o))

	o.Destination.Lat = 42
	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Destination.Lat)

	got.Destination.Lat = 7
	again, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, again.Destination.Lat)
}
