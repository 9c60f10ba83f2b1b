// Package lock provides the per-order mutual exclusion used by dispatch.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotAcquired is returned when the key is already held.
var ErrNotAcquired = errors.New("lock not acquired")

type Locker interface {
	// TryLock acquires key without waiting. The lease expires after ttl if never released.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

type Lease interface {
	Release(ctx context.Context) error
}

// Local is an in-process Locker for single-instance deployments.
type Local struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocal() *Local {
	return &Local{held: make(map[string]time.Time), now: time.Now}
}

func (l *Local) TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, ErrNotAcquired
	}
	exp := now.Add(ttl)
	l.held[key] = exp
	return &localLease{l: l, key: key, exp: exp}, nil
}

type localLease struct {
	l   *Local
	key string
	exp time.Time
}

func (ll *localLease) Release(ctx context.Context) error {
	ll.l.mu.Lock()
	defer ll.l.mu.Unlock()
	// an expired lease may already belong to someone else
	if exp, ok := ll.l.held[ll.key]; ok && exp.Equal(ll.exp) {
		delete(ll.l.held, ll.key)
	}
	return nil
}
