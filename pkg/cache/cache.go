// Package cache provides generic, thread-safe in-memory cache implementations.
//
// Two eviction policies are offered:
//   - Simple: no eviction, items stay until deleted or cleared
//   - LRU: least-recently-used eviction bounded by size
//
// All implementations are thread-safe with built-in statistics and optional
// Prometheus metrics integration via functional options. These caches are the
// in-memory layer only; durable proposition storage lives in the storage
// package.
package cache

import (
	"time"

	"github.com/c360/messagekit/errors"
)

// Cache represents a generic cache interface that all implementations satisfy.
// The cache is parameterized by value type V for type safety.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true if found.
	Get(key string) (V, bool)

	// Set stores a value with the given key. Returns true if a new entry was
	// created, false if an existing entry was updated.
	Set(key string, value V) (bool, error)

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) (bool, error)

	// Clear removes all entries from the cache.
	Clear() error

	// Size returns the current number of entries in the cache.
	Size() int

	// Keys returns a slice of all keys currently in the cache.
	Keys() []string

	// Stats returns cache statistics.
	Stats() *Statistics

	// Close shuts down the cache and releases any resources.
	Close() error
}

// EvictCallback is called when an entry is evicted from the cache.
type EvictCallback[V any] func(key string, value V)

// Entry represents an entry in the cache with metadata.
type Entry[V any] struct {
	Key        string
	Value      V
	CreatedAt  time.Time
	AccessedAt time.Time
}

// Touch updates the last accessed time of the entry.
func (e *Entry[V]) Touch() {
	e.AccessedAt = time.Now()
}

// validateKey validates a cache key for basic requirements.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrMissingField, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
