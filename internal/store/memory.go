package store

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryStore keeps the most recently written keys in memory. Once full,
// the least recently used key is evicted.
type MemoryStore struct {
	cache *lru.Cache[string, string]
}

// NewMemoryStore creates a store holding at most size keys
func NewMemoryStore(size int) (*MemoryStore, error) {
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory store: %w", err)
	}
	return &MemoryStore{cache: cache}, nil
}

func (m *MemoryStore) Get(key string) (string, error) {
	value, ok := m.cache.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.cache.Add(key, value)
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.cache.Remove(key)
	return nil
}

// Len returns the number of stored keys
func (m *MemoryStore) Len() int {
	return m.cache.Len()
}

func (m *MemoryStore) Close() error {
	m.cache.Purge()
	return nil
}
