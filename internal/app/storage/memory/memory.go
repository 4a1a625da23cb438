// Package memory provides the in-memory object store used by tests and
// single-process deployments.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/r3e-network/neo-service-layer-sub007/internal/app/storage"
)

// Store is a mutex-guarded map implementation of storage.ObjectStore. It is
// safe for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ storage.ObjectStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Get returns the record stored at key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// Put stores value at key, overwriting any existing record.
func (s *Store) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes the record at key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// ListByPrefix returns all keys beginning with prefix, sorted.
func (s *Store) ListByPrefix(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0)
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
