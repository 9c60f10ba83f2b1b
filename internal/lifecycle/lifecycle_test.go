package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/taxi-dispatch/internal/errs"
	"github.com/example/taxi-dispatch/internal/models"
)

func TestNext(t *testing.T) {
	tests := []struct {
		from models.Status
		ev   Event
		want models.Status
	}{
		{models.StatusNew, EventDispatchStarted, models.StatusSearching},
		{models.StatusSearching, EventAccepted, models.StatusDriverAssigned},
		{models.StatusSearching, EventExhausted, models.StatusCancelled},
		{models.StatusDriverAssigned, EventTripStarted, models.StatusInProgress},
		{models.StatusInProgress, EventTripCompleted, models.StatusCompleted},
		{models.StatusNew, EventCancel, models.StatusCancelled},
		{models.StatusSearching, EventCancel, models.StatusCancelled},
		{models.StatusDriverAssigned, EventCancel, models.StatusCancelled},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.ev), func(t *testing.T) {
			got, err := Next(tt.from, tt.ev)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextRejectsIllegalTransitions(t *testing.T) {
	illegal := []struct {
		from models.Status
		ev   Event
	}{
		{models.StatusNew, EventAccepted},
		{models.StatusSearching, EventDispatchStarted},
		{models.StatusInProgress, EventCancel},
		{models.StatusCompleted, EventCancel},
		{models.StatusCancelled, EventCancel},
		{models.StatusCancelled, EventDispatchStarted},
		{models.StatusDriverAssigned, EventAccepted},
	}
	for _, tt := range illegal {
		_, err := Next(tt.from, tt.ev)
		assert.ErrorIs(t, err, errs.ErrInvalidState, "%s on %s", tt.ev, tt.from)
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, s := range []models.Status{models.StatusCompleted, models.StatusCancelled} {
		assert.True(t, IsTerminal(s))
		assert.False(t, Cancellable(s))
		for _, to := range []models.Status{models.StatusNew, models.StatusSearching, models.StatusDriverAssigned, models.StatusInProgress, models.StatusCompleted, models.StatusCancelled} {
			assert.False(t, CanTransition(s, to), "%s -> %s", s, to)
		}
	}
}

func TestCancellable(t *testing.T) {
	assert.True(t, Cancellable(models.StatusNew))
	assert.True(t, Cancellable(models.StatusSearching))
	assert.True(t, Cancellable(models.StatusDriverAssigned))
	assert.False(t, Cancellable(models.StatusInProgress))
}

func TestDriverInvariantMatchesTable(t *testing.T) {
	// every transition into a driver-carrying status starts from searching or a driver-carrying status
	for from, edges := range transitions {
		for _, to := range edges {
			if to.HasDriver() && !from.HasDriver() {
				assert.Equal(t, models.StatusSearching, from)
			}
		}
	}
}
