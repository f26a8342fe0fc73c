// Package platform abstracts the host environment: durable key/value
// persistence, connectivity state, and time. The rest of the module reaches
// the outside world only through these interfaces, so everything above them
// is testable without a real store or network.
package platform

import (
	"sync"
	"time"
)

// KeyValue is the local persistence surface. Implementations must be safe
// for concurrent use.
type KeyValue interface {
	// Get returns the stored bytes for key. The second return is false if
	// the key is absent.
	Get(key string) ([]byte, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
	// Keys lists every stored key.
	Keys() ([]string, error)
}

// Connectivity reports whether the backend is reachable and notifies
// subscribers on transitions.
type Connectivity interface {
	Online() bool
	// Subscribe registers fn to be called on every online/offline
	// transition. The returned cancel func removes the subscription and is
	// safe to call more than once.
	Subscribe(fn func(online bool)) (cancel func())
}

// Clock supplies the current time. Production code uses SystemClock;
// tests substitute a fake to drive TTL and watchdog behavior.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// Monitor is a manually driven Connectivity implementation. The agent flips
// it from backend health probes; tests flip it directly.
type Monitor struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]func(online bool)
}

var _ Connectivity = (*Monitor)(nil)

// NewMonitor creates a Monitor with the given initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online: online,
		subs:   make(map[int]func(online bool)),
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// SetOnline updates the state and, on a transition, notifies subscribers.
// Subscribers are invoked synchronously in subscription order.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	fns := make([]func(bool), 0, len(m.subs))
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	// Stable order keeps notification behavior deterministic.
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
	for _, id := range ids {
		fns = append(fns, m.subs[id])
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}
