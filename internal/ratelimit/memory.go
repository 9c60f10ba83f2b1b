package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory keeps request timestamps in process.
type Memory struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	clients map[int64]*history
}

type history struct {
	global  []time.Time
	actions map[Action][]time.Time
}

func NewMemory(cfg Config) *Memory {
	return &Memory{cfg: cfg, now: time.Now, clients: make(map[int64]*history)}
}

func (m *Memory) Allow(ctx context.Context, clientID int64, action Action) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	h := m.clients[clientID]
	if h == nil {
		h = &history{actions: make(map[Action][]time.Time)}
		m.clients[clientID] = h
	}

	h.global = keepAfter(h.global, now.Add(-time.Hour))
	if m.cfg.PerMinute > 0 && countAfter(h.global, now.Add(-time.Minute)) >= m.cfg.PerMinute {
		return Decision{Reason: reasonPerMinute}, nil
	}
	if m.cfg.PerHour > 0 && len(h.global) >= m.cfg.PerHour {
		return Decision{Reason: reasonPerHour}, nil
	}

	if p, ok := m.cfg.Actions[action]; ok && p.Limit > 0 {
		reqs := keepAfter(h.actions[action], now.Add(-p.Window))
		h.actions[action] = reqs
		if len(reqs) >= p.Limit {
			return Decision{Reason: actionReason(action, p), RetryAfter: p.Window - now.Sub(reqs[0])}, nil
		}
		h.actions[action] = append(reqs, now)
	}
	h.global = append(h.global, now)
	return Decision{Allowed: true}, nil
}

func (m *Memory) Stats(ctx context.Context, clientID int64) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	h := m.clients[clientID]
	if h == nil {
		return m.cfg.stats(0, 0), nil
	}
	return m.cfg.stats(countAfter(h.global, now.Add(-time.Minute)), countAfter(h.global, now.Add(-time.Hour))), nil
}

func (m *Memory) Reset(ctx context.Context, clientID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, clientID)
	return nil
}

// Cleanup drops expired timestamps and forgets idle clients. It returns the number of clients removed.
func (m *Memory) Cleanup(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for id, h := range m.clients {
		h.global = keepAfter(h.global, now.Add(-time.Hour))
		for a, reqs := range h.actions {
			window := time.Hour
			if p, ok := m.cfg.Actions[a]; ok {
				window = p.Window
			}
			if reqs = keepAfter(reqs, now.Add(-window)); len(reqs) == 0 {
				delete(h.actions, a)
			} else {
				h.actions[a] = reqs
			}
		}
		if len(h.global) == 0 && len(h.actions) == 0 {
			delete(m.clients, id)
			removed++
		}
	}
	return removed, nil
}

// keepAfter drops timestamps at or before cutoff. ts is sorted ascending.
func keepAfter(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

func countAfter(ts []time.Time, cutoff time.Time) int {
	n := 0
	for j := len(ts) - 1; j >= 0 && ts[j].After(cutoff); j-- {
		n++
	}
	return n
}
