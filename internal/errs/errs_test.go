package errs_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/taxi-dispatch/internal/errs"
)

func TestNotFoundError(t *testing.T) {
	err := errs.NewNotFoundError("order", "o-1")

	assert.Equal(t, "order o-1: not found", err.Error())
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.ErrorIs(t, fmt.Errorf("load: %w", err), errs.ErrNotFound)
	assert.NotErrorIs(t, err, errs.ErrInvalidState)
}

func TestInvalidStateError(t *testing.T) {
	err := errs.NewInvalidStateError("order", "o-1", "searching", "dispatch")

	assert.Equal(t, `order o-1: cannot dispatch from status "searching": invalid state transition`, err.Error())
	assert.ErrorIs(t, err, errs.ErrInvalidState)

	var target *errs.InvalidStateError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &target))
	assert.Equal(t, "searching", target.Status)
}

func TestValueIsInvalidError(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := errs.NewValueIsInvalidError("lat")
		assert.Equal(t, "value is invalid: lat", err.Error())
		assert.ErrorIs(t, err, errs.ErrValueIsInvalid)
	})

	t.Run("with cause", func(t *testing.T) {
		err := errs.NewValueIsInvalidErrorWithCause("lat", errors.New("must be within [-90, 90]"))
		assert.Equal(t, "value is invalid: lat (cause: must be within [-90, 90])", err.Error())
		assert.ErrorIs(t, err, errs.ErrValueIsInvalid)
	})
}

func TestUnavailableErrorKeepsCause(t *testing.T) {
	err := errs.NewUnavailableError("get order", context.DeadlineExceeded)

	assert.ErrorIs(t, err, errs.ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "get order")
}

func TestRateLimitedError(t *testing.T) {
	err := &errs.RateLimitedError{ClientID: 42, Action: "ride", Reason: "5 per 5m0s"}

	assert.ErrorIs(t, err, errs.ErrRateLimited)
	assert.Equal(t, "client 42 action ride: rate limited (5 per 5m0s)", err.Error())
}
