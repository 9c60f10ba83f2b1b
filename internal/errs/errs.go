// Package errs holds the error taxonomy shared by stores, services and the HTTP layer.
// Typed errors unwrap to a sentinel so callers branch with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidState   = errors.New("invalid state transition")
	ErrValueIsInvalid = errors.New("value is invalid")
	ErrUnavailable    = errors.New("collaborator unavailable")
	ErrRateLimited    = errors.New("rate limited")
)

type NotFoundError struct {
	Entity string
	ID     string
}

func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidStateError signals that the record is already being handled or already resolved.
// Callers must not retry it blindly.
type InvalidStateError struct {
	Entity string
	ID     string
	Status string
	Action string
}

func NewInvalidStateError(entity, id, status, action string) *InvalidStateError {
	return &InvalidStateError{Entity: entity, ID: id, Status: status, Action: action}
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s: cannot %s from status %q: %s", e.Entity, e.ID, e.Action, e.Status, ErrInvalidState)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

type ValueIsInvalidError struct {
	Param string
	Cause error
}

func NewValueIsInvalidError(param string) *ValueIsInvalidError {
	return &ValueIsInvalidError{Param: param}
}

func NewValueIsInvalidErrorWithCause(param string, cause error) *ValueIsInvalidError {
	return &ValueIsInvalidError{Param: param, Cause: cause}
}

func (e *ValueIsInvalidError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", ErrValueIsInvalid, e.Param, e.Cause)
	}
	return fmt.Sprintf("%s: %s", ErrValueIsInvalid, e.Param)
}

func (e *ValueIsInvalidError) Unwrap() error { return ErrValueIsInvalid }

// UnavailableError wraps an infrastructure failure (database, broker, transport).
type UnavailableError struct {
	Op    string
	Cause error
}

func NewUnavailableError(op string, cause error) *UnavailableError {
	return &UnavailableError{Op: op, Cause: cause}
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrUnavailable, e.Cause)
}

func (e *UnavailableError) Unwrap() []error { return []error{ErrUnavailable, e.Cause} }

type RateLimitedError struct {
	ClientID int64
	Action   string
	Reason   string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("client %d action %s: %s (%s)", e.ClientID, e.Action, ErrRateLimited, e.Reason)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }
