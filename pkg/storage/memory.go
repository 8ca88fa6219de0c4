package storage

import (
	"context"
	"fmt"
	"sync"
)

// KeyValueStore is the persistence medium for every collection. Values are
// serialized documents; implementations must copy on Put and Get so callers
// never share buffers with the store.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

var ErrKeyNotFound = fmt.Errorf("key not found")

type memoryStore struct {
	values map[string][]byte
	mu     sync.RWMutex
}

func NewMemoryStore() KeyValueStore {
	return &memoryStore{
		values: make(map[string][]byte),
	}
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, exists := s.values[key]
	if !exists {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *memoryStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = append([]byte(nil), value...)
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

func (s *memoryStore) Close() error { return nil }
