// Package cache is a thin TTL cache over securestore with versioned keys
// and hit/miss statistics.
package cache

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cognirehab/securekit/securestore"
)

const (
	prefix = "cache:"
	// defaultVersion addresses entries written without an explicit version.
	defaultVersion = "v1"
	// DefaultMaxEntries caps the cache before eviction kicks in.
	DefaultMaxEntries = 50
	// evictFraction of the oldest entries removed when the cap is hit.
	evictFraction = 0.2
)

// Config addresses one cache entry. A stale version never satisfies a
// lookup for a newer version string because the version is part of the key.
type Config struct {
	Key        string
	TTLMinutes int
	Version    string
}

func (c Config) cacheKey() string {
	v := c.Version
	if v == "" {
		v = defaultVersion
	}
	return prefix + c.Key + ":" + v
}

// Stats reports cache usage counters.
type Stats struct {
	Hits        int
	Misses      int
	Size        int
	LastCleared time.Time
}

// Service is the cache facade. Safe for concurrent use.
type Service struct {
	store      *securestore.Store
	logger     *slog.Logger
	maxEntries int

	mu    sync.Mutex
	stats Stats
}

// Option configures a Service.
type Option func(*Service)

// WithMaxEntries overrides the eviction cap.
func WithMaxEntries(n int) Option {
	return func(s *Service) { s.maxEntries = n }
}

// WithLogger sets the slog logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a cache service over the given secure store.
func New(store *securestore.Store, opts ...Option) *Service {
	s := &Service{
		store:      store,
		logger:     slog.Default(),
		maxEntries: DefaultMaxEntries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get reads the cached value into dest, counting a hit or a miss.
func (s *Service) Get(cfg Config, dest any) bool {
	ok := s.store.Get(cfg.cacheKey(), dest)

	s.mu.Lock()
	if ok {
		s.stats.Hits++
	} else {
		s.stats.Misses++
	}
	s.mu.Unlock()
	return ok
}

// Set stores data under the config's versioned key, evicting the oldest
// entries first when the cache is at capacity. Write failures are logged
// and swallowed; a failed cache write must never break the caller.
func (s *Service) Set(cfg Config, data any) {
	s.evictIfFull()

	if err := s.store.Set(cfg.cacheKey(), data, securestore.WithTTL(cfg.TTLMinutes)); err != nil {
		s.logger.Warn("cache write failed", "key", cfg.Key, "error", err)
		return
	}
	s.mu.Lock()
	s.stats.Size++
	s.mu.Unlock()
}

// Invalidate removes one entry and decrements the size counter, flooring
// at zero.
func (s *Service) Invalidate(cfg Config) {
	s.store.Remove(cfg.cacheKey())
	s.mu.Lock()
	if s.stats.Size > 0 {
		s.stats.Size--
	}
	s.mu.Unlock()
}

// ClearAll removes every cache entry and stamps LastCleared.
func (s *Service) ClearAll() {
	for _, key := range s.cacheKeys() {
		s.store.Remove(key)
	}
	s.mu.Lock()
	s.stats.Size = 0
	s.stats.LastCleared = time.Now()
	s.mu.Unlock()
}

// GetStats returns a copy of the usage counters.
func (s *Service) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Service) cacheKeys() []string {
	var keys []string
	for _, key := range s.store.Keys() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

// evictIfFull drops the oldest ~20% of entries by write timestamp once the
// entry count reaches the cap.
func (s *Service) evictIfFull() {
	keys := s.cacheKeys()

	s.mu.Lock()
	if s.stats.Size < s.maxEntries {
		s.mu.Unlock()
		return
	}
	if len(keys) < s.maxEntries {
		// Counter drifted from reality (entries expired underneath us);
		// resync instead of evicting.
		s.stats.Size = len(keys)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	type aged struct {
		key       string
		timestamp int64
	}
	entries := make([]aged, 0, len(keys))
	for _, key := range keys {
		meta, ok := s.store.Metadata(key)
		if !ok {
			continue
		}
		entries = append(entries, aged{key: key, timestamp: meta.Timestamp})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].timestamp < entries[j].timestamp
	})

	n := int(float64(s.maxEntries)*evictFraction + 0.999)
	if n > len(entries) {
		n = len(entries)
	}
	for _, e := range entries[:n] {
		s.store.Remove(e.key)
	}

	s.mu.Lock()
	s.stats.Size -= n
	if s.stats.Size < 0 {
		s.stats.Size = 0
	}
	s.mu.Unlock()
	s.logger.Debug("cache eviction", "removed", n)
}
