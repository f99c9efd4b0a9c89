package offline

import (
	"sync"
	"time"

	"fitsync/internal/domain/connectivity"
)

// Monitor owns the connectivity state. It reflects transitions reported by
// the runtime and never probes the network itself; a false "online" report
// surfaces later as an ordinary replay failure.
type Monitor struct {
	mu     sync.RWMutex
	state  connectivity.State
	subs   []subscription
	nextID uint64
	now    func() time.Time
}

type subscription struct {
	id uint64
	fn func(connectivity.Transition)
}

// NewMonitor creates a monitor in the given initial state.
func NewMonitor(online bool, now func() time.Time) *Monitor {
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		state: connectivity.State{IsOnline: online, LastTransitionAt: now()},
		now:   now,
	}
}

// IsOnline reports the last reported connectivity.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.IsOnline
}

// State returns a copy of the current state.
func (m *Monitor) State() connectivity.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Set records a reported connectivity value.
// PRE: none
// POST: When online differs from the current state, the state changes,
// LastTransitionAt is stamped and subscribers are called in subscription
// order before Set returns. Returns whether a transition happened.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	if m.state.IsOnline == online {
		m.mu.Unlock()
		return false
	}
	t := connectivity.Transition{
		From: m.state,
		To:   connectivity.State{IsOnline: online, LastTransitionAt: m.now()},
	}
	m.state = t.To
	subs := make([]subscription, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, s := range subs {
		s.fn(t)
	}
	return true
}

// Subscribe registers fn for transitions and returns a func that removes it.
// The returned func is safe to call more than once.
func (m *Monitor) Subscribe(fn func(connectivity.Transition)) (unsubscribe func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscription{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}
