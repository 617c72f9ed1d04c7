// Package storagetest holds behaviour checks shared by every CacheStore
// backend.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/apiclient/internal/core/domain"
	"github.com/vietddude/apiclient/internal/infra/storage"
)

// Run exercises store. Keys are namespaced under ns so backends shared with
// other data can be cleaned up by prefix.
func Run(t *testing.T, store storage.CacheStore, ns string) {
	t.Helper()
	ctx := context.Background()
	storedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("missing key", func(t *testing.T) {
		_, ok, err := store.Get(ctx, ns+"missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("put then get", func(t *testing.T) {
		entry := domain.CacheEntry{Key: ns + "users/1", Value: []byte(`{"id":1}`), StoredAt: storedAt, TTL: time.Minute}
		require.NoError(t, store.Put(ctx, entry))

		got, ok, err := store.Get(ctx, entry.Key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, entry.Value, got.Value)
		assert.Equal(t, entry.TTL, got.TTL)
		assert.True(t, entry.StoredAt.Equal(got.StoredAt), "stored_at %v != %v", got.StoredAt, entry.StoredAt)
	})

	t.Run("put replaces", func(t *testing.T) {
		key := ns + "users/2"
		require.NoError(t, store.Put(ctx, domain.CacheEntry{Key: key, Value: []byte("v1"), StoredAt: storedAt}))
		require.NoError(t, store.Put(ctx, domain.CacheEntry{Key: key, Value: []byte("v2"), StoredAt: storedAt.Add(time.Second)}))

		got, ok, err := store.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v2"), got.Value)
	})

	t.Run("empty key rejected", func(t *testing.T) {
		assert.ErrorIs(t, store.Put(ctx, domain.CacheEntry{Value: []byte("x")}), storage.ErrEmptyKey)
	})

	t.Run("delete", func(t *testing.T) {
		key := ns + "users/3"
		require.NoError(t, store.Put(ctx, domain.CacheEntry{Key: key, Value: []byte("x"), StoredAt: storedAt}))
		require.NoError(t, store.Delete(ctx, key))
		require.NoError(t, store.Delete(ctx, key), "deleting a missing key is not an error")

		_, ok, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete by prefix", func(t *testing.T) {
		for _, k := range []string{"orders/1", "orders/2", "orders_archive/1", "other/1"} {
			require.NoError(t, store.Put(ctx, domain.CacheEntry{Key: ns + k, Value: []byte(k), StoredAt: storedAt}))
		}

		n, err := store.DeleteByPrefix(ctx, ns+"orders/")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		for k, want := range map[string]bool{"orders/1": false, "orders/2": false, "orders_archive/1": true, "other/1": true} {
			_, ok, err := store.Get(ctx, ns+k)
			require.NoError(t, err)
			assert.Equal(t, want, ok, k)
		}
	})

	t.Run("prefix with wildcard characters", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, domain.CacheEntry{Key: ns + "q/a%b", Value: []byte("1"), StoredAt: storedAt}))
		require.NoError(t, store.Put(ctx, domain.CacheEntry{Key: ns + "q/axb", Value: []byte("2"), StoredAt: storedAt}))

		n, err := store.DeleteByPrefix(ctx, ns+"q/a%")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, ok, err := store.Get(ctx, ns+"q/axb")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	_, err := store.DeleteByPrefix(ctx, ns)
	require.NoError(t, err)
}
