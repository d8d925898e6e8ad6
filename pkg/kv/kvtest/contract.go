// Package kvtest provides a reusable behavioural suite for kv.Store implementations.
package kvtest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionstate/pkg/kv"
)

// Harness describes the store under test.
type Harness struct {
	// New returns an empty store. It is called once per subtest.
	New func(t *testing.T) kv.Store

	// Advance moves the store clock forward. TTL cases are skipped when nil.
	Advance func(t *testing.T, d time.Duration)
}

var keySeq atomic.Int64

// uniqueKey keeps subtests independent on backends that share state between New calls.
func uniqueKey(name string) string {
	return fmt.Sprintf("kvtest:%s:%d:%d", name, time.Now().UnixNano(), keySeq.Add(1))
}

// RunStoreContract verifies that a store honours the kv.Store contract.
func RunStoreContract(t *testing.T, h Harness) {
	t.Helper()
	ctx := context.Background()

	t.Run("Get_NotFound", func(t *testing.T) {
		store := h.New(t)
		_, err := store.Get(ctx, uniqueKey("missing"))
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("Insert_Get", func(t *testing.T) {
		store := h.New(t)
		key := uniqueKey("insert")

		ver, err := store.Insert(ctx, key, []byte("hello"), time.Minute)
		require.NoError(t, err)
		assert.NotZero(t, ver)

		item, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), item.Value)
		assert.Equal(t, ver, item.Version)
	})

	t.Run("Insert_AlreadyExists", func(t *testing.T) {
		store := h.New(t)
		key := uniqueKey("dup")

		_, err := store.Insert(ctx, key, []byte("a"), time.Minute)
		require.NoError(t, err)

		_, err = store.Insert(ctx, key, []byte("b"), time.Minute)
		assert.ErrorIs(t, err, kv.ErrAlreadyExists)

		item, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("a"), item.Value)
	})

	t.Run("Replace_MatchingVersion", func(t *testing.T) {
		store := h.New(t)
		key := uniqueKey("replace")

		v1, err := store.Insert(ctx, key, []byte("a"), time.Minute)
		require.NoError(t, err)

		v2, err := store.Replace(ctx, key, []byte("b"), v1, time.Minute)
		require.NoError(t, err)
		assert.NotEqual(t, v1, v2)
		assert.NotZero(t, v2)

		item, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("b"), item.Value)
		assert.Equal(t, v2, item.Version)
	})

	t.Run("Replace_StaleVersion", func(t *testing.T) {
		store := h.New(t)
		key := uniqueKey("stale")

		v1, err := store.Insert(ctx, key, []byte("a"), time.Minute)
		require.NoError(t, err)
		_, err = store.Replace(ctx, key, []byte("b"), v1, time.Minute)
		require.NoError(t, err)

		_, err = store.Replace(ctx, key, []byte("c"), v1, time.Minute)
		assert.ErrorIs(t, err, kv.ErrVersionConflict)

		item, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("b"), item.Value)
	})

	t.Run("Replace_NotFound", func(t *testing.T) {
		store := h.New(t)
		_, err := store.Replace(ctx, uniqueKey("absent"), []byte("a"), 1, time.Minute)
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("Upsert", func(t *testing.T) {
		store := h.New(t)
		key := uniqueKey("upsert")

		v1, err := store.Upsert(ctx, key, []byte("a"), 0, time.Minute)
		require.NoError(t, err)
		assert.NotZero(t, v1)

		v2, err := store.Upsert(ctx, key, []byte("b"), 0, time.Minute)
		require.NoError(t, err)
		assert.NotEqual(t, v1, v2)

		_, err = store.Upsert(ctx, key, []byte("c"), v1, time.Minute)
		assert.ErrorIs(t, err, kv.ErrVersionConflict)

		v3, err := store.Upsert(ctx, key, []byte("d"), v2, time.Minute)
		require.NoError(t, err)
		assert.NotEqual(t, v2, v3)

		_, err = store.Upsert(ctx, uniqueKey("upsert-absent"), []byte("x"), v3, time.Minute)
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("Refresh_KeepsVersion", func(t *testing.T) {
		store := h.New(t)
		key := uniqueKey("refresh")

		v1, err := store.Insert(ctx, key, []byte("a"), time.Minute)
		require.NoError(t, err)

		require.NoError(t, store.Refresh(ctx, key, time.Hour))

		item, err := store.GetAndRefresh(ctx, key, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, v1, item.Version)
		assert.Equal(t, []byte("a"), item.Value)

		assert.ErrorIs(t, store.Refresh(ctx, uniqueKey("refresh-absent"), time.Hour), kv.ErrNotFound)
		_, err = store.GetAndRefresh(ctx, uniqueKey("refresh-absent"), time.Hour)
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("Remove", func(t *testing.T) {
		store := h.New(t)
		a, b := uniqueKey("rm-a"), uniqueKey("rm-b")

		_, err := store.Insert(ctx, a, []byte("a"), time.Minute)
		require.NoError(t, err)
		_, err = store.Insert(ctx, b, []byte("b"), time.Minute)
		require.NoError(t, err)

		require.NoError(t, store.Remove(ctx, a, b, uniqueKey("rm-missing")))

		_, err = store.Get(ctx, a)
		assert.ErrorIs(t, err, kv.ErrNotFound)
		_, err = store.Get(ctx, b)
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("Recreate_NewVersion", func(t *testing.T) {
		store := h.New(t)
		key := uniqueKey("recreate")

		v1, err := store.Insert(ctx, key, []byte("a"), time.Minute)
		require.NoError(t, err)
		require.NoError(t, store.Remove(ctx, key))

		v2, err := store.Insert(ctx, key, []byte("a"), time.Minute)
		require.NoError(t, err)
		assert.NotEqual(t, v1, v2)
	})

	t.Run("ConcurrentReplace_SingleWinner", func(t *testing.T) {
		store := h.New(t)
		key := uniqueKey("race")

		v1, err := store.Insert(ctx, key, []byte("a"), time.Minute)
		require.NoError(t, err)

		const writers = 8
		var (
			wg   sync.WaitGroup
			wins atomic.Int32
		)
		for i := range writers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := store.Replace(ctx, key, fmt.Appendf(nil, "w%d", i), v1, time.Minute)
				if err == nil {
					wins.Add(1)
					return
				}
				assert.ErrorIs(t, err, kv.ErrVersionConflict)
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("TTL_Expiry", func(t *testing.T) {
		if h.Advance == nil {
			t.Skip("store clock cannot be advanced")
		}
		store := h.New(t)
		key := uniqueKey("ttl")

		_, err := store.Insert(ctx, key, []byte("a"), time.Minute)
		require.NoError(t, err)

		h.Advance(t, 30*time.Second)
		require.NoError(t, store.Refresh(ctx, key, time.Minute))

		h.Advance(t, 45*time.Second)
		_, err = store.Get(ctx, key)
		require.NoError(t, err, "refresh should have extended the TTL")

		h.Advance(t, 30*time.Second)
		_, err = store.Get(ctx, key)
		assert.ErrorIs(t, err, kv.ErrNotFound)

		_, err = store.Insert(ctx, key, []byte("b"), time.Minute)
		assert.NoError(t, err, "expired key must accept a fresh insert")
	})
}
