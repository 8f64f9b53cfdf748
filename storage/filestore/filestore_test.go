package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/messagekit/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "propositions/abcd1234", []byte(`{"id":"p1"}`)))

	data, err := store.Get(ctx, "propositions/abcd1234")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"p1"}`, string(data))
}

func TestPutOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", []byte("old")))
	require.NoError(t, store.Put(ctx, "k", []byte("new")))

	data, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestGetMissingKey(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "propositions/missing")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)
}

func TestKeyValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"", "/absolute", "../escape", "a/../../b"} {
		t.Run(key, func(t *testing.T) {
			err := store.Put(ctx, key, []byte("x"))
			assert.ErrorIs(t, err, errors.ErrMissingField)
		})
	}
}

func TestListByPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "propositions/b", []byte("1")))
	require.NoError(t, store.Put(ctx, "propositions/a", []byte("2")))
	require.NoError(t, store.Put(ctx, "images/x", []byte("3")))

	keys, err := store.List(ctx, "propositions/")
	require.NoError(t, err)
	assert.Equal(t, []string{"propositions/a", "propositions/b"}, keys)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := store.List(ctx, "videos/")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListSkipsTempFiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "propositions/a", []byte("1")))
	require.NoError(t, os.WriteFile(
		filepath.Join(store.root, "propositions", tempPrefix+"a-123"), []byte("partial"), 0o644))

	keys, err := store.List(ctx, "propositions/")
	require.NoError(t, err)
	assert.Equal(t, []string{"propositions/a"}, keys)
}

func TestDeleteIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", []byte("x")))
	require.NoError(t, store.Delete(ctx, "k"))
	require.NoError(t, store.Delete(ctx, "k"), "deleting a missing key is a no-op")

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)
}

func TestDeleteNotIn(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "propositions/keep", []byte("1")))
	require.NoError(t, store.Put(ctx, "propositions/evict-1", []byte("2")))
	require.NoError(t, store.Put(ctx, "propositions/evict-2", []byte("3")))
	require.NoError(t, store.Put(ctx, "images/unrelated", []byte("4")))

	removed, err := store.DeleteNotIn(ctx, "propositions/",
		map[string]struct{}{"propositions/keep": {}})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	keys, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"images/unrelated", "propositions/keep"}, keys)
}

func TestDeleteNotInNilKeepClearsPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "images/a", []byte("1")))
	require.NoError(t, store.Put(ctx, "images/b", []byte("2")))

	removed, err := store.DeleteNotIn(ctx, "images/", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	keys, err := store.List(ctx, "images/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCancelledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, store.Put(ctx, "k", []byte("x")))
	_, err := store.Get(ctx, "k")
	assert.Error(t, err)
	_, err = store.List(ctx, "")
	assert.Error(t, err)
}
