package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/taxi-dispatch/internal/models"
)

func TestHubResolvesOnce(t *testing.T) {
	h := NewHub()
	ep := models.Endpoint{DriverID: "d1", AccountID: 10}
	replies, closeOffer := h.Register("o1", ep)
	defer closeOffer()
	assert.Equal(t, 1, h.Open())

	require.NoError(t, h.Resolve(models.OfferResponse{OfferID: "o1", DriverID: "d1", Accept: true}))
	assert.True(t, <-replies)
	assert.Equal(t, 0, h.Open())

	err := h.Resolve(models.OfferResponse{OfferID: "o1", DriverID: "d1", Accept: false})
	assert.ErrorIs(t, err, ErrOfferClosed)
}

func TestHubRejectsOtherDriver(t *testing.T) {
	h := NewHub()
	_, closeOffer := h.Register("o1", models.Endpoint{DriverID: "d1", AccountID: 10})
	defer closeOffer()

	assert.ErrorIs(t, h.Resolve(models.OfferResponse{OfferID: "o1", DriverID: "d2", Accept: true}), ErrWrongDriver)
	assert.ErrorIs(t, h.ResolveAccount("o1", 11, true), ErrWrongDriver)
	assert.Equal(t, 1, h.Open(), "a foreign reply leaves the offer open")

	require.NoError(t, h.ResolveAccount("o1", 10, false))
}

func TestHubClosedOfferDiscardsLateReply(t *testing.T) {
	h := NewHub()
	_, closeOffer := h.Register("o1", models.Endpoint{DriverID: "d1"})
	closeOffer()

	assert.ErrorIs(t, h.Resolve(models.OfferResponse{OfferID: "o1", DriverID: "d1", Accept: true}), ErrOfferClosed)
	assert.ErrorIs(t, h.Resolve(models.OfferResponse{OfferID: "unknown", DriverID: "d1"}), ErrOfferClosed)
}
