package propcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/messagekit/proposition"
	"github.com/c360/messagekit/storage/filestore"
	"github.com/c360/messagekit/surface"
)

func newTestCache(t *testing.T) (*PropositionCache, *filestore.Store) {
	t.Helper()
	store, err := filestore.New(t.TempDir(), nil)
	require.NoError(t, err)
	return NewPropositionCache(store, nil, nil), store
}

func testProposition(id, scope string) proposition.Proposition {
	return proposition.Proposition{
		ID:           id,
		Scope:        scope,
		ScopeDetails: map[string]any{"decisionProvider": "AJO"},
		Items: []proposition.Item{
			{
				ID:            id + "-item",
				Content:       `{"version":1,"rules":[]}`,
				SurfaceURI:    scope,
				PropositionID: id,
			},
		},
	}
}

func TestCacheAndRehydrate(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	s := surface.New("com.app.appname")
	original := testProposition("prop-1", s.URI())

	err := cache.CachePropositions(ctx, map[surface.Surface][]proposition.Proposition{
		s: {original},
	})
	require.NoError(t, err)

	props, ok := cache.GetCachedPropositions(ctx, s)
	require.True(t, ok)
	require.Len(t, props, 1)
	assert.True(t, original.Equal(props[0]))
}

func TestFullReplaceEvictsRevokedSurfaces(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	kept := surface.New("com.app.appname", "kept")
	revoked := surface.New("com.app.appname", "revoked")

	err := cache.CachePropositions(ctx, map[surface.Surface][]proposition.Proposition{
		kept:    {testProposition("prop-1", kept.URI())},
		revoked: {testProposition("prop-2", revoked.URI())},
	})
	require.NoError(t, err)

	// New batch no longer carries the revoked surface.
	err = cache.CachePropositions(ctx, map[surface.Surface][]proposition.Proposition{
		kept: {testProposition("prop-1", kept.URI())},
	})
	require.NoError(t, err)

	_, ok := cache.GetCachedPropositions(ctx, revoked)
	assert.False(t, ok, "revoked surface snapshot is evicted")

	props, ok := cache.GetCachedPropositions(ctx, kept)
	require.True(t, ok)
	assert.Len(t, props, 1)
}

func TestGetCachedMiss(t *testing.T) {
	cache, _ := newTestCache(t)

	props, ok := cache.GetCachedPropositions(context.Background(), surface.New("com.app.appname"))
	assert.False(t, ok)
	assert.Nil(t, props)
}

func TestGetCachedCorruptSnapshot(t *testing.T) {
	cache, store := newTestCache(t)
	ctx := context.Background()

	s := surface.New("com.app.appname")
	key := NamespacePropositions + s.Hash()
	require.NoError(t, store.Put(ctx, key, []byte("{not json")))

	_, ok := cache.GetCachedPropositions(ctx, s)
	assert.False(t, ok, "corrupt snapshot is a miss, not an error")
}

func TestGetCachedSchemaInvalidSnapshot(t *testing.T) {
	cache, store := newTestCache(t)
	ctx := context.Background()

	s := surface.New("com.app.appname")
	key := NamespacePropositions + s.Hash()

	// Well-formed JSON but propositions entries lack the required id field.
	bad := `{"surface":"` + s.URI() + `","cachedAt":1,"propositions":[{"scope":"x"}]}`
	require.NoError(t, store.Put(ctx, key, []byte(bad)))

	_, ok := cache.GetCachedPropositions(ctx, s)
	assert.False(t, ok)
}

func TestGetCachedSurfaceMismatch(t *testing.T) {
	cache, store := newTestCache(t)
	ctx := context.Background()

	s := surface.New("com.app.appname")
	key := NamespacePropositions + s.Hash()
	other := `{"surface":"mobileapp://com.other.app","propositions":[]}`
	require.NoError(t, store.Put(ctx, key, []byte(other)))

	_, ok := cache.GetCachedPropositions(ctx, s)
	assert.False(t, ok)
}

func TestGetCachedEmptySnapshot(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	s := surface.New("com.app.appname")
	require.NoError(t, cache.CachePropositions(ctx, map[surface.Surface][]proposition.Proposition{
		s: {},
	}))

	props, ok := cache.GetCachedPropositions(ctx, s)
	require.True(t, ok, "an empty snapshot is a hit, not a miss")
	assert.Empty(t, props)
}

func TestClearNamespace(t *testing.T) {
	cache, store := newTestCache(t)
	ctx := context.Background()

	s := surface.New("com.app.appname")
	require.NoError(t, cache.CachePropositions(ctx, map[surface.Surface][]proposition.Proposition{
		s: {testProposition("prop-1", s.URI())},
	}))
	require.NoError(t, store.Put(ctx, NamespaceImages+"abc", []byte("img")))

	require.NoError(t, cache.Clear(ctx, NamespacePropositions))

	_, ok := cache.GetCachedPropositions(ctx, s)
	assert.False(t, ok)

	// Other namespaces are untouched.
	keys, err := store.List(ctx, NamespaceImages)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestCacheSkipsInvalidSurface(t *testing.T) {
	cache, store := newTestCache(t)
	ctx := context.Background()

	bad := surface.FromURI("https://not-mobileapp")
	require.NoError(t, cache.CachePropositions(ctx, map[surface.Surface][]proposition.Proposition{
		bad: {testProposition("prop-1", "x")},
	}))

	keys, err := store.List(ctx, NamespacePropositions)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSnapshotSchema(t *testing.T) {
	valid := `{"surface":"mobileapp://com.app.appname","cachedAt":1,"propositions":[]}`
	assert.NoError(t, validateSnapshot([]byte(valid)))

	tests := []struct {
		name string
		data string
	}{
		{"missing_surface", `{"propositions":[]}`},
		{"missing_propositions", `{"surface":"mobileapp://com.app.appname"}`},
		{"wrong_type", `{"surface":"mobileapp://x","propositions":{}}`},
		{"empty_surface", `{"surface":"","propositions":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, validateSnapshot([]byte(tt.data)))
		})
	}
}
