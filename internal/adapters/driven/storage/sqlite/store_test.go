package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/propops/internal/core/domain"
)

// setupTestStore creates a store in a per-test temporary directory.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })
	return store
}

func TestNewStore_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, filepath.Join(dir, "state.db"), store.Path())
	assert.FileExists(t, store.Path())

	version, err := store.Version()
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestNewStore_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.KVStore().Set(ctx, "queue/mutations", []byte(`[]`)))
	require.NoError(t, store.Close())

	reopened, err := NewStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	value, err := reopened.KVStore().Get(ctx, "queue/mutations")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[]`), value)

	version, err := reopened.Version()
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestKVStore_GetMissing(t *testing.T) {
	kv := setupTestStore(t).KVStore()

	_, err := kv.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestKVStore_SetOverwrites(t *testing.T) {
	kv := setupTestStore(t).KVStore()
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "auth/credential", []byte("one")))
	require.NoError(t, kv.Set(ctx, "auth/credential", []byte("two")))

	value, err := kv.Get(ctx, "auth/credential")
	require.NoError(t, err)
	assert.Equal(t, "two", string(value))
}

func TestKVStore_SetEmptyKey(t *testing.T) {
	kv := setupTestStore(t).KVStore()

	err := kv.Set(context.Background(), "", []byte("x"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestKVStore_Remove(t *testing.T) {
	kv := setupTestStore(t).KVStore()
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "k", []byte("v")))
	require.NoError(t, kv.Remove(ctx, "k"))
	require.NoError(t, kv.Remove(ctx, "k"))

	_, err := kv.Get(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestKVStore_KeysByPrefix(t *testing.T) {
	kv := setupTestStore(t).KVStore()
	ctx := context.Background()

	for _, key := range []string{
		"cache/profiles/b",
		"cache/profiles/a",
		"cache/Profiles/upper",
		"cache/bookings/x",
		"cache/profiles_other",
		"queue/mutations",
	} {
		require.NoError(t, kv.Set(ctx, key, []byte("v")))
	}

	keys, err := kv.Keys(ctx, "cache/profiles/")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache/profiles/a", "cache/profiles/b"}, keys)

	all, err := kv.Keys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 6)
}
