// Package ratelimit throttles client requests with sliding windows: a global per-client budget
// per minute and per hour, plus a tighter budget per action.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

type Action string

const (
	ActionDefault  Action = "default"
	ActionRide     Action = "ride"
	ActionDelivery Action = "delivery"
	ActionLocation Action = "location"
)

type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) String() string { return fmt.Sprintf("%d per %s", p.Limit, p.Window) }

type Config struct {
	PerMinute int
	PerHour   int
	Actions   map[Action]Policy
}

func DefaultConfig() Config {
	return Config{
		PerMinute: 30,
		PerHour:   300,
		Actions: map[Action]Policy{
			ActionRide:     {Limit: 5, Window: 5 * time.Minute},
			ActionDelivery: {Limit: 3, Window: 5 * time.Minute},
			ActionLocation: {Limit: 10, Window: time.Minute},
		},
	}
}

// Decision is the result of one Allow call. RetryAfter is set when an action budget is exhausted.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

type Stats struct {
	LastMinute     int  `json:"requests_last_minute"`
	LastHour       int  `json:"requests_last_hour"`
	LimitPerMinute int  `json:"limit_per_minute"`
	LimitPerHour   int  `json:"limit_per_hour"`
	CanRequest     bool `json:"can_make_request"`
}

type Limiter interface {
	// Allow checks the budgets and, when allowed, records the request.
	Allow(ctx context.Context, clientID int64, action Action) (Decision, error)
	Stats(ctx context.Context, clientID int64) (Stats, error)
	Reset(ctx context.Context, clientID int64) error
}

const (
	reasonPerMinute = "too many requests per minute"
	reasonPerHour   = "too many requests per hour"
)

func actionReason(a Action, p Policy) string {
	return fmt.Sprintf("too many %s requests: limit %s", a, p)
}

func (c Config) stats(lastMinute, lastHour int) Stats {
	return Stats{
		LastMinute:     lastMinute,
		LastHour:       lastHour,
		LimitPerMinute: c.PerMinute,
		LimitPerHour:   c.PerHour,
		CanRequest:     (c.PerMinute <= 0 || lastMinute < c.PerMinute) && (c.PerHour <= 0 || lastHour < c.PerHour),
	}
}
