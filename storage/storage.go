// Package storage provides pluggable backend interfaces for the proposition
// and asset caches.
package storage

import "context"

// Store is the pluggable backend interface for cache persistence.
//
// Keys are strings with hierarchical "/" separators (for example
// "propositions/<surface-hash>" or "images/<url-hash>"); values are binary
// data, so the same backend holds JSON snapshots and downloaded image assets.
// Operations are context-aware for cancellation and timeouts.
//
// Implementations:
//   - filestore.Store: local filesystem with atomic temp-file-then-rename writes
//   - kvstore.Store: NATS JetStream KeyValue bucket for shared deployments
//
// All Store implementations must be safe for concurrent use from multiple
// goroutines. Writers for the same key must not interleave; callers serialize
// those through the handler's event queue.
type Store interface {
	// Put stores binary data at the specified key, overwriting any existing
	// value. The write is atomic from the reader's perspective: a concurrent
	// Get observes either the previous value or the new one, never a partial
	// write.
	Put(ctx context.Context, key string, data []byte) error

	// Get retrieves the data stored at key. Returns an error wrapping
	// errors.ErrKeyNotFound when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns all keys matching the prefix, in lexicographic order.
	// An empty prefix lists every key. Returns an empty slice when nothing
	// matches.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the data at key. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error

	// DeleteNotIn removes every key under prefix that is not in keep and
	// returns how many were removed. This is the full-replace primitive:
	// writing a new snapshot set and calling DeleteNotIn with that set's
	// keys evicts entries revoked upstream. A nil keep set clears the
	// prefix entirely.
	DeleteNotIn(ctx context.Context, prefix string, keep map[string]struct{}) (int, error)
}
