// Package kvstore implements storage.Store on a NATS JetStream KeyValue
// bucket, for deployments that share cache state across instances instead of
// keeping it on local disk.
package kvstore

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/messagekit/errors"
	"github.com/c360/messagekit/storage"
)

// Store persists entries in a JetStream KeyValue bucket. Storage keys use
// "/" separators; KV keys use "."; the store translates between the two.
// Keys containing "." are rejected since they would not round-trip.
type Store struct {
	kv     jetstream.KeyValue
	logger *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// New connects a store to bucket, creating the bucket if needed.
func New(ctx context.Context, nc *nats.Conn, bucket string, logger *slog.Logger) (*Store, error) {
	if nc == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"kvstore.Store", "New", "read NATS connection")
	}
	if bucket == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"kvstore.Store", "New", "read bucket name")
	}
	if logger == nil {
		logger = slog.Default()
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, errors.WrapTransient(errors.ErrStorageUnavailable,
			"kvstore.Store", "New", "create JetStream context")
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
	})
	if err != nil {
		return nil, errors.WrapTransient(errors.ErrStorageUnavailable,
			"kvstore.Store", "New", "open KeyValue bucket")
	}

	return &Store{
		kv:     kv,
		logger: logger.With("component", "kvstore.Store", "bucket", bucket),
	}, nil
}

// Put stores data at key. JetStream KV puts are atomic per key.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	kvKey, err := toKVKey(key)
	if err != nil {
		return err
	}
	if _, err := s.kv.Put(ctx, kvKey, data); err != nil {
		return errors.WrapTransient(errors.ErrStorageUnavailable,
			"kvstore.Store", "Put", "write entry")
	}
	return nil
}

// Get retrieves the data stored at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	kvKey, err := toKVKey(key)
	if err != nil {
		return nil, err
	}

	entry, err := s.kv.Get(ctx, kvKey)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, errors.WrapInvalid(errors.ErrKeyNotFound,
				"kvstore.Store", "Get", "read entry")
		}
		return nil, errors.WrapTransient(errors.ErrStorageUnavailable,
			"kvstore.Store", "Get", "read entry")
	}
	return entry.Value(), nil
}

// List returns all keys under prefix in lexicographic order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []string{}, nil
		}
		return nil, errors.WrapTransient(errors.ErrStorageUnavailable,
			"kvstore.Store", "List", "list bucket keys")
	}
	defer lister.Stop() //nolint:errcheck

	keys := []string{}
	for kvKey := range lister.Keys() {
		key := fromKVKey(kvKey)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)
	return keys, nil
}

// Delete removes the entry at key. Missing keys are a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	kvKey, err := toKVKey(key)
	if err != nil {
		return err
	}

	if err := s.kv.Delete(ctx, kvKey); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil
		}
		return errors.WrapTransient(errors.ErrStorageUnavailable,
			"kvstore.Store", "Delete", "remove entry")
	}
	return nil
}

// DeleteNotIn removes every key under prefix absent from keep.
func (s *Store) DeleteNotIn(ctx context.Context, prefix string, keep map[string]struct{}) (int, error) {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range keys {
		if _, ok := keep[key]; ok {
			continue
		}
		if err := s.Delete(ctx, key); err != nil {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		s.logger.Debug("evicted stale entries", "prefix", prefix, "count", removed)
	}
	return removed, nil
}

// toKVKey validates a storage key and translates it to KV key syntax.
func toKVKey(key string) (string, error) {
	if key == "" || strings.Contains(key, ".") ||
		strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return "", errors.WrapInvalid(errors.ErrMissingField,
			"kvstore.Store", "toKVKey", "validate key")
	}
	return strings.ReplaceAll(key, "/", "."), nil
}

func fromKVKey(kvKey string) string {
	return strings.ReplaceAll(kvKey, ".", "/")
}
