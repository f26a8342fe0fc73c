// Package ratelimit provides the local fixed-window limiter that guards
// expensive or abusable calls, activation-code verification in particular,
// before they ever reach the backend.
package ratelimit

import (
	"sync"
	"time"

	"github.com/cognirehab/securekit/platform"
)

const (
	// DefaultMaxAttempts is the number of attempts allowed per key
	// within one window.
	DefaultMaxAttempts = 5
	// DefaultWindow is the fixed window length.
	DefaultWindow = 5 * time.Minute
)

type record struct {
	attempts []time.Time
}

// Limiter tracks attempts per key within a rolling window. Keys are
// typically client IPs or user ids.
type Limiter struct {
	max    int
	window time.Duration
	clock  platform.Clock

	mu      sync.Mutex
	records map[string]*record
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLimits overrides the attempt budget and window.
func WithLimits(max int, window time.Duration) Option {
	return func(l *Limiter) {
		l.max = max
		l.window = window
	}
}

// WithClock substitutes the time source.
func WithClock(c platform.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// NewLimiter creates a Limiter with the default budget of five attempts
// per five minutes.
func NewLimiter(opts ...Option) *Limiter {
	l := &Limiter{
		max:     DefaultMaxAttempts,
		window:  DefaultWindow,
		clock:   platform.SystemClock(),
		records: make(map[string]*record),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records an attempt for key and reports whether it fits the
// budget. Attempts older than the window are discarded first, so a
// blocked key recovers on its own once the window slides past.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	rec, ok := l.records[key]
	if !ok {
		rec = &record{}
		l.records[key] = rec
	}

	cutoff := now.Add(-l.window)
	kept := rec.attempts[:0]
	for _, at := range rec.attempts {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	rec.attempts = kept

	if len(rec.attempts) >= l.max {
		return false
	}
	rec.attempts = append(rec.attempts, now)
	return true
}

// RetryAfter returns how long the key must wait before Allow can
// succeed again. Zero means the key is not blocked.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok || len(rec.attempts) < l.max {
		return 0
	}
	oldest := rec.attempts[len(rec.attempts)-l.max]
	wait := oldest.Add(l.window).Sub(l.clock.Now())
	if wait < 0 {
		return 0
	}
	return wait
}

// Reset clears recorded attempts for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, key)
}

// Sweep drops records with no attempts inside the window. Call
// periodically from a background goroutine.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.clock.Now().Add(-l.window)
	for key, rec := range l.records {
		live := false
		for _, at := range rec.attempts {
			if at.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.records, key)
		}
	}
}
