// Package store provides the key/value backends that service handlers read
// from. Every backend is safe for concurrent use by a worker pool.
package store

import (
	"errors"
	"fmt"

	"github.com/MnAnX/Infra/internal/config"
)

// ErrNotFound is returned by Get for a key that is not stored
var ErrNotFound = errors.New("key not found")

// KeyStore is a string key/value store
type KeyStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
	Close() error
}

// DefaultMemorySize is the capacity of a memory store configured without one
const DefaultMemorySize = 10000

// Open creates the store selected by cfg
func Open(cfg config.StoreConfig) (KeyStore, error) {
	switch cfg.Driver {
	case "", config.StoreMemory:
		size := cfg.Size
		if size <= 0 {
			size = DefaultMemorySize
		}
		return NewMemoryStore(size)
	case config.StoreSQLite:
		return NewSQLiteStore(cfg.Path)
	case config.StoreRedis:
		return NewRedisStore(cfg.Addr)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
