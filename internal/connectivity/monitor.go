// Package connectivity observes online/offline transitions and triggers
// queue flushes when the server becomes reachable again.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Probe reports whether the server is currently reachable.
type Probe func(ctx context.Context) bool

// Monitor tracks connectivity as a boolean plus an event stream of
// transitions. On a transition to online it invokes the configured flush
// hook exactly once, not once per subscriber. While offline its only side
// effect is updating the boolean.
type Monitor struct {
	mu       sync.Mutex
	online   bool
	probe    Probe
	onOnline func()
	subs     map[int]func(bool)
	nextSub  int
}

// New creates a Monitor. The initial state is offline until the first probe
// or explicit Set.
func New(probe Probe) *Monitor {
	return &Monitor{
		probe: probe,
		subs:  make(map[int]func(bool)),
	}
}

// Online returns the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnOnline registers the single hook fired on each offline-to-online
// transition. In practice this is the sync engine's automatic flush.
func (m *Monitor) SetOnOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = fn
}

// Subscribe registers a transition observer and returns its cancel func.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Set records a connectivity transition. No-op when the state is unchanged.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	hook := m.onOnline
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	slog.Debug("connectivity transition", "online", online)
	for _, fn := range subs {
		fn(online)
	}
	if online && hook != nil {
		hook()
	}
}

// Run polls the probe at the given interval until ctx is cancelled,
// feeding transitions into Set. An initial probe runs immediately.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if m.probe == nil {
		return
	}
	m.Set(m.probe(ctx))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Set(m.probe(ctx))
		}
	}
}
