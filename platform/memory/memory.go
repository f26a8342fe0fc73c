// Package memory provides a thread-safe in-memory implementation of
// platform.KeyValue. Suitable for tests and single-process use.
package memory

import (
	"sync"

	"github.com/cognirehab/securekit/internal/util"
	"github.com/cognirehab/securekit/platform"
)

// Store is a thread-safe in-memory platform.KeyValue.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ platform.KeyValue = (*Store)(nil)

// NewStore creates a new empty in-memory Store.
func NewStore() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return util.CopyBytes(v), true, nil
}

func (s *Store) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = util.CopyBytes(value)
	return nil
}

func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *Store) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys, nil
}
