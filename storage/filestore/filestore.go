// Package filestore implements storage.Store on the local filesystem.
//
// Every write goes to a temporary file in the target directory and is then
// renamed into place, so a crash mid-write leaves the previous value intact.
package filestore

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/c360/messagekit/errors"
	"github.com/c360/messagekit/storage"
)

const tempPrefix = ".tmp-"

// Store persists entries as files under a root directory. Keys map to
// relative paths, so "propositions/<hash>" becomes a file in the
// propositions subdirectory.
type Store struct {
	root   string
	logger *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// New creates a filesystem store rooted at dir, creating it if needed.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"filestore.Store", "New", "read root directory")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WrapTransient(errors.ErrStorageUnavailable,
			"filestore.Store", "New", "create root directory")
	}
	return &Store{
		root:   dir,
		logger: logger.With("component", "filestore.Store"),
	}, nil
}

// Put writes data to key via a temp file in the destination directory
// followed by a rename, which is atomic on POSIX filesystems.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapTransient(errors.ErrStorageUnavailable,
			"filestore.Store", "Put", "create entry directory")
	}

	// Temp file lives in the destination directory so the rename never
	// crosses filesystems.
	tmp, err := os.CreateTemp(dir, tempPrefix+filepath.Base(path)+"-*")
	if err != nil {
		return errors.WrapTransient(errors.ErrStorageUnavailable,
			"filestore.Store", "Put", "create temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.WrapTransient(errors.ErrStorageUnavailable,
			"filestore.Store", "Put", "write temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.WrapTransient(errors.ErrStorageUnavailable,
			"filestore.Store", "Put", "close temp file")
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.WrapTransient(errors.ErrStorageUnavailable,
			"filestore.Store", "Put", "replace entry")
	}

	return nil
}

// Get reads the data stored at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapInvalid(errors.ErrKeyNotFound,
				"filestore.Store", "Get", "read entry")
		}
		return nil, errors.WrapTransient(errors.ErrStorageUnavailable,
			"filestore.Store", "Get", "read entry")
	}
	return data, nil
}

// List returns all keys under prefix in lexicographic order. In-flight temp
// files are never listed.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keys := []string{}
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.WrapTransient(errors.ErrStorageUnavailable,
			"filestore.Store", "List", "walk entries")
	}

	sort.Strings(keys)
	return keys, nil
}

// Delete removes the entry at key. Missing keys are a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.WrapTransient(errors.ErrStorageUnavailable,
			"filestore.Store", "Delete", "remove entry")
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

// keyPath validates a key and resolves it to an absolute path under root.
func (s *Store) keyPath(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return "", errors.WrapInvalid(errors.ErrMissingField,
			"filestore.Store", "keyPath", "validate key")
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}
