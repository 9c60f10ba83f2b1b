// Package lifecycle defines the legal order state transitions.
//
//	new -> searching -> driver_assigned -> in_progress -> completed
//	cancelled is reachable from new, searching and driver_assigned.
package lifecycle

import (
	"fmt"

	"github.com/example/taxi-dispatch/internal/errs"
	"github.com/example/taxi-dispatch/internal/models"
)

type Event string

const (
	EventDispatchStarted Event = "dispatch_started"
	EventAccepted        Event = "candidate_accepted"
	EventExhausted       Event = "candidates_exhausted"
	EventTripStarted     Event = "trip_started"
	EventTripCompleted   Event = "trip_completed"
	EventCancel          Event = "cancel"
)

var transitions = map[models.Status]map[Event]models.Status{
	models.StatusNew: {
		EventDispatchStarted: models.StatusSearching,
		EventCancel:          models.StatusCancelled,
	},
	models.StatusSearching: {
		EventAccepted:  models.StatusDriverAssigned,
		EventExhausted: models.StatusCancelled,
		EventCancel:    models.StatusCancelled,
	},
	models.StatusDriverAssigned: {
		EventTripStarted: models.StatusInProgress,
		EventCancel:      models.StatusCancelled,
	},
	models.StatusInProgress: {
		EventTripCompleted: models.StatusCompleted,
	},
}

// Next returns the state reached from `from` on ev, or an ErrInvalidState error.
func Next(from models.Status, ev Event) (models.Status, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return "", fmt.Errorf("%s on %q: %w", ev, from, errs.ErrInvalidState)
}

func CanTransition(from, to models.Status) bool {
	for _, target := range transitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

func IsTerminal(s models.Status) bool {
	return s == models.StatusCompleted || s == models.StatusCancelled
}

func Cancellable(s models.Status) bool {
	_, ok := transitions[s][EventCancel]
	return ok
}

// Active reports whether an order in s still occupies its driver.
func Active(s models.Status) bool {
	return s == models.StatusDriverAssigned || s == models.StatusInProgress
}
