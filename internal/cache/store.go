// Package cache implements the optimistic booking cache: a set of mutually
// consistent keyed collections (all bookings, per-user, per-lab, per
// reservation key) over a generic Store. The engine never proves a write
// final; when a precise patch fails the caller degrades to coarse
// invalidation, because a stale display is preferable to breaking the
// user-visible outcome of a mutation that already succeeded.
package cache

import (
	"context"
	"sync"
)

// Store is the generic keyed store the booking cache is built on. A
// collection is a named bag of field→value pairs; Invalidate drops a whole
// collection. The Redis implementation maps collections onto hashes; the
// in-memory one backs tests and brokerless development.
type Store interface {
	Put(ctx context.Context, collection, field string, value []byte) error
	Get(ctx context.Context, collection, field string) ([]byte, bool, error)
	Delete(ctx context.Context, collection, field string) error
	List(ctx context.Context, collection string) (map[string][]byte, error)
	Invalidate(ctx context.Context, collection string) error
}

// MemoryStore is a Store held in process memory. Safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string][]byte)}
}

// Put stores value under collection/field.
func (s *MemoryStore) Put(_ context.Context, collection, field string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[collection] == nil {
		s.data[collection] = make(map[string][]byte)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[collection][field] = cp
	return nil
}

// Get returns the value under collection/field and whether it exists.
func (s *MemoryStore) Get(_ context.Context, collection, field string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[collection][field]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

// Delete removes collection/field. Deleting a missing field is not an error.
func (s *MemoryStore) Delete(_ context.Context, collection, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[collection], field)
	return nil
}

// List returns a copy of every field in the collection.
func (s *MemoryStore) List(_ context.Context, collection string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(s.data[collection]))
	for f, v := range s.data[collection] {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[f] = cp
	}
	return out, nil
}

// Invalidate drops the whole collection.
func (s *MemoryStore) Invalidate(_ context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, collection)
	return nil
}
