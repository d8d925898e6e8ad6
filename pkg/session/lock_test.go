package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionstate/pkg/kv"
	"github.com/dmitrymomot/sessionstate/pkg/session"
)

func TestLoadExclusive(t *testing.T) {
	ctx := context.Background()

	t.Run("token is the header version read", func(t *testing.T) {
		f := setup(t)
		seed(t, f.provider, "s1", "user", "42")

		hdr, err := f.store.Get(ctx, f.provider.Config().HeaderKey("s1"))
		require.NoError(t, err)

		res, err := f.provider.LoadExclusive(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, session.OutcomeLocked, res.Outcome)
		assert.NotZero(t, res.LockToken)
		assert.Equal(t, uint64(hdr.Version), res.LockToken)
		assert.Equal(t, session.FlagNone, res.Actions)

		v, ok := res.Record.Items.Get("user")
		require.True(t, ok)
		assert.Equal(t, []byte("42"), v)
		assert.Equal(t, f.clock.Now(), res.Record.LockTime)
	})

	t.Run("absent session", func(t *testing.T) {
		f := setup(t)

		res, err := f.provider.LoadExclusive(ctx, "missing")
		require.NoError(t, err)
		assert.Equal(t, session.OutcomeNotFound, res.Outcome)
		assert.Equal(t, session.FlagUninitialized, res.Actions)
		assert.Nil(t, res.Record)
	})

	t.Run("uninitialized session has an empty body", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.provider.CreateUninitialized(ctx, "s1", 0))

		res, err := f.provider.LoadExclusive(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, session.OutcomeLocked, res.Outcome)
		assert.Equal(t, session.FlagInitializeItem, res.Actions)
		assert.Equal(t, 0, res.Record.Items.Len())
		assert.Equal(t, session.FlagNone, res.Record.Flag)
		assert.NotZero(t, res.Record.BodyVersion)
	})

	t.Run("uninitialized session survives lock and release", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.provider.CreateUninitialized(ctx, "s1", 0))

		locked, err := f.provider.LoadExclusive(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, session.OutcomeLocked, locked.Outcome)

		busy, err := f.provider.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, session.OutcomeBusy, busy.Outcome)
		assert.Equal(t, locked.LockToken, busy.LockToken)

		require.NoError(t, f.provider.Release(ctx, "s1", locked.LockToken))

		rec, err := f.provider.Load(ctx, "s1", false)
		require.NoError(t, err)
		assert.Equal(t, 0, rec.Items.Len())
		assert.Equal(t, session.FlagNone, rec.Flag)

		again, err := f.provider.LoadExclusive(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, session.OutcomeLocked, again.Outcome)
		assert.Equal(t, session.FlagNone, again.Actions)
	})

	t.Run("flagged header without body gets one when locked", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.provider.CreateUninitialized(ctx, "s1", 0))
		require.NoError(t, f.store.Remove(ctx, f.provider.Config().BodyKey("s1")))

		locked, err := f.provider.LoadExclusive(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, session.OutcomeLocked, locked.Outcome)

		_, err = f.store.Get(ctx, f.provider.Config().BodyKey("s1"))
		require.NoError(t, err)

		require.NoError(t, f.provider.Release(ctx, "s1", locked.LockToken))
		rec, err := f.provider.Load(ctx, "s1", false)
		require.NoError(t, err)
		assert.Equal(t, 0, rec.Items.Len())
	})

	t.Run("failed first body write restores the flag", func(t *testing.T) {
		clock := newClock()
		flaky := &flakyStore{Store: kv.NewMemoryStore(kv.WithClock(clock.Now))}
		p := newProvider(t, flaky, clock)
		require.NoError(t, p.CreateUninitialized(ctx, "s1", 0))
		require.NoError(t, flaky.Remove(ctx, p.Config().BodyKey("s1")))

		flaky.failUpserts.Store(true)
		_, err := p.LoadExclusive(ctx, "s1")
		require.ErrorIs(t, err, errUpsert)
		assert.NotErrorIs(t, err, session.ErrSessionLost)

		rec, err := p.Load(ctx, "s1", true)
		require.NoError(t, err)
		assert.False(t, rec.Locked())
		assert.Equal(t, session.FlagInitializeItem, rec.Flag)
	})

	t.Run("busy lock is not modified", func(t *testing.T) {
		f := setup(t)
		seed(t, f.provider, "s1")

		first, err := f.provider.LoadExclusive(ctx, "s1")
		require.NoError(t, err)

		before, err := f.store.Get(ctx, f.provider.Config().HeaderKey("s1"))
		require.NoError(t, err)

		f.clock.Advance(time.Minute)
		second, err := f.provider.LoadExclusive(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, session.OutcomeBusy, second.Outcome)
		assert.Equal(t, first.LockToken, second.LockToken)
		assert.Equal(t, time.Minute, second.LockAge)
		assert.Nil(t, second.Record)

		after, err := f.store.Get(ctx, f.provider.Config().HeaderKey("s1"))
		require.NoError(t, err)
		assert.Equal(t, before.Version, after.Version)
	})

	t.Run("stale lock scenario", func(t *testing.T) {
		f := setup(t)
		seed(t, f.provider, "s1")

		a, err := f.provider.LoadExclusive(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, session.OutcomeLocked, a.Outcome)

		f.clock.Advance(4 * time.Minute)
		busy, err := f.provider.LoadExclusive(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, session.OutcomeBusy, busy.Outcome)
		assert.Equal(t, a.LockToken, busy.LockToken)

		f.clock.Advance(2 * time.Minute)
		b, err := f.provider.LoadExclusive(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, session.OutcomeLocked, b.Outcome)
		assert.NotEqual(t, a.LockToken, b.LockToken)
	})

	t.Run("concurrent acquirers", func(t *testing.T) {
		f := setup(t)
		seed(t, f.provider, "s1")

		const callers = 16
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			outcomes = map[session.Outcome]int{}
		)
		for range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := f.provider.LoadExclusive(ctx, "s1")
				assert.NoError(t, err)
				mu.Lock()
				outcomes[res.Outcome]++
				mu.Unlock()
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, outcomes[session.OutcomeLocked])
		assert.Equal(t, callers-1, outcomes[session.OutcomeBusy])
	})

	t.Run("unreadable body rolls the lock back", func(t *testing.T) {
		f := setup(t)
		seed(t, f.provider, "s1")
		_, err := f.store.Upsert(ctx, f.provider.Config().BodyKey("s1"), []byte{0xff, 0x00}, 0, time.Hour)
		require.NoError(t, err)

		res, err := f.provider.LoadExclusive(ctx, "s1")
		require.ErrorIs(t, err, session.ErrSessionLost)
		assert.ErrorIs(t, err, session.ErrInvalidItems)
		assert.Equal(t, session.OutcomeNotFound, res.Outcome)
		assert.Equal(t, session.FlagInitializeItem, res.Actions)

		rec, err := f.provider.Load(ctx, "s1", true)
		require.NoError(t, err)
		assert.False(t, rec.Locked())
	})

	t.Run("missing body of initialized session is lost", func(t *testing.T) {
		f := setup(t)
		seed(t, f.provider, "s1")
		require.NoError(t, f.store.Remove(ctx, f.provider.Config().BodyKey("s1")))

		_, err := f.provider.LoadExclusive(ctx, "s1")
		require.ErrorIs(t, err, session.ErrSessionLost)
		assert.ErrorIs(t, err, kv.ErrNotFound)

		rec, err := f.provider.Load(ctx, "s1", true)
		require.NoError(t, err)
		assert.False(t, rec.Locked())
	})

	t.Run("conflict budget exhausted", func(t *testing.T) {
		clock := newClock()
		flaky := &flakyStore{Store: kv.NewMemoryStore(kv.WithClock(clock.Now))}
		p := newProvider(t, flaky, clock, session.WithConflictRetry(session.RetryPolicy{Attempts: 4}))
		seed(t, p, "s1")
		flaky.conflictReplaces.Store(true)

		_, err := p.LoadExclusive(ctx, "s1")
		require.ErrorIs(t, err, session.ErrRetryExhausted)
		assert.ErrorIs(t, err, kv.ErrVersionConflict)
		assert.Equal(t, int32(4), flaky.replaces.Load())
	})

	t.Run("empty id", func(t *testing.T) {
		f := setup(t)
		_, err := f.provider.LoadExclusive(ctx, "")
		assert.ErrorIs(t, err, session.ErrInvalidID)
	})
}

func TestRelease(t *testing.T) {
	ctx := context.Background()

	t.Run("idempotent", func(t *testing.T) {
		f := setup(t)
		seed(t, f.provider, "s1")

		res, err := f.provider.LoadExclusive(ctx, "s1")
		require.NoError(t, err)

		require.NoError(t, f.provider.Release(ctx, "s1", res.LockToken))
		rec, err := f.provider.Load(ctx, "s1", true)
		require.NoError(t, err)
		assert.False(t, rec.Locked())
		assert.True(t, rec.LockTime.IsZero())

		versionAfterFirst := rec.HeaderVersion
		require.NoError(t, f.provider.Release(ctx, "s1", res.LockToken))
		rec, err = f.provider.Load(ctx, "s1", true)
		require.NoError(t, err)
		assert.Equal(t, versionAfterFirst, rec.HeaderVersion, "second release must not write")
	})

	t.Run("foreign token is ignored", func(t *testing.T) {
		f := setup(t)
		seed(t, f.provider, "s1")

		res, err := f.provider.LoadExclusive(ctx, "s1")
		require.NoError(t, err)

		require.NoError(t, f.provider.Release(ctx, "s1", res.LockToken+1))
		rec, err := f.provider.Load(ctx, "s1", true)
		require.NoError(t, err)
		assert.Equal(t, res.LockToken, rec.LockToken)
	})

	t.Run("missing session", func(t *testing.T) {
		f := setup(t)
		assert.NoError(t, f.provider.Release(ctx, "missing", 7))
	})

	t.Run("after release the session can be locked again", func(t *testing.T) {
		f := setup(t)
		seed(t, f.provider, "s1")

		first, err := f.provider.LoadExclusive(ctx, "s1")
		require.NoError(t, err)
		require.NoError(t, f.provider.Release(ctx, "s1", first.LockToken))

		second, err := f.provider.LoadExclusive(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, session.OutcomeLocked, second.Outcome)
		assert.NotEqual(t, first.LockToken, second.LockToken)
	})
}

func TestSetAndRelease(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		f := setup(t)
		seed(t, f.provider, "s1")

		res, err := f.provider.LoadExclusive(ctx, "s1")
		require.NoError(t, err)

		items := res.Record.Items
		items.Set("b", []byte{0x00, 0x01, 0xfe})
		items.Set("a", []byte("second"))
		items.Set("empty", nil)
		require.NoError(t, f.provider.SetAndRelease(ctx, "s1", res.LockToken, items, 30*time.Minute, false))

		rec, err := f.provider.Load(ctx, "s1", false)
		require.NoError(t, err)
		assert.False(t, rec.Locked())
		assert.Equal(t, 30*time.Minute, rec.Timeout)
		assert.Equal(t, []string{"b", "a", "empty"}, rec.Items.Names())

		b, _ := rec.Items.Get("b")
		assert.Equal(t, []byte{0x00, 0x01, 0xfe}, b)
		a, _ := rec.Items.Get("a")
		assert.Equal(t, []byte("second"), a)
		empty, ok := rec.Items.Get("empty")
		assert.True(t, ok)
		assert.Empty(t, empty)
	})

	t.Run("stale token aborts without writing", func(t *testing.T) {
		f := setup(t)
		seed(t, f.provider, "s1", "owner", "original")

		a, err := f.provider.LoadExclusive(ctx, "s1")
		require.NoError(t, err)

		f.clock.Advance(6 * time.Minute)
		b, err := f.provider.LoadExclusive(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, session.OutcomeLocked, b.Outcome)

		hdrBefore, err := f.store.Get(ctx, f.provider.Config().HeaderKey("s1"))
		require.NoError(t, err)
		bodyBefore, err := f.store.Get(ctx, f.provider.Config().BodyKey("s1"))
		require.NoError(t, err)

		items := session.NewItems()
		items.Set("owner", []byte("stale writer"))
		require.NoError(t, f.provider.SetAndRelease(ctx, "s1", a.LockToken, items, 0, false))

		hdrAfter, err := f.store.Get(ctx, f.provider.Config().HeaderKey("s1"))
		require.NoError(t, err)
		bodyAfter, err := f.store.Get(ctx, f.provider.Config().BodyKey("s1"))
		require.NoError(t, err)
		assert.Equal(t, hdrBefore, hdrAfter)
		assert.Equal(t, bodyBefore, bodyAfter)

		rec, err := f.provider.Load(ctx, "s1", true)
		require.NoError(t, err)
		assert.Equal(t, b.LockToken, rec.LockToken)
	})

	t.Run("missing session aborts", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.provider.SetAndRelease(ctx, "gone", 5, session.NewItems(), 0, false))
		assert.Equal(t, 0, f.store.Len())
	})

	t.Run("uninitialized session gets its first body", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.provider.CreateUninitialized(ctx, "s1", 0))

		res, err := f.provider.LoadExclusive(ctx, "s1")
		require.NoError(t, err)

		items := session.NewItems()
		items.Set("k", []byte("v"))
		require.NoError(t, f.provider.SetAndRelease(ctx, "s1", res.LockToken, items, 0, false))

		rec, err := f.provider.Load(ctx, "s1", false)
		require.NoError(t, err)
		v, _ := rec.Items.Get("k")
		assert.Equal(t, []byte("v"), v)
		assert.Equal(t, session.FlagNone, rec.Flag)
	})

	t.Run("new item over a locked session writes nothing", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.provider.CreateUninitialized(ctx, "s1", 0))
		locked, err := f.provider.LoadExclusive(ctx, "s1")
		require.NoError(t, err)

		bodyBefore, err := f.store.Get(ctx, f.provider.Config().BodyKey("s1"))
		require.NoError(t, err)

		items := session.NewItems()
		items.Set("intruder", []byte("x"))
		require.NoError(t, f.provider.SetAndRelease(ctx, "s1", 0, items, 0, true))

		bodyAfter, err := f.store.Get(ctx, f.provider.Config().BodyKey("s1"))
		require.NoError(t, err)
		assert.Equal(t, bodyBefore, bodyAfter)

		require.NoError(t, f.provider.Release(ctx, "s1", locked.LockToken))
		rec, err := f.provider.Load(ctx, "s1", false)
		require.NoError(t, err)
		_, ok := rec.Items.Get("intruder")
		assert.False(t, ok)
	})

	t.Run("new item replaces an orphan body", func(t *testing.T) {
		f := setup(t)
		_, err := f.store.Insert(ctx, f.provider.Config().BodyKey("s1"), []byte("leftover"), 0)
		require.NoError(t, err)

		items := session.NewItems()
		items.Set("k", []byte("v"))
		require.NoError(t, f.provider.SetAndRelease(ctx, "s1", 0, items, 0, true))

		rec, err := f.provider.Load(ctx, "s1", false)
		require.NoError(t, err)
		v, _ := rec.Items.Get("k")
		assert.Equal(t, []byte("v"), v)
	})

	t.Run("new item body failure removes the header", func(t *testing.T) {
		clock := newClock()
		flaky := &flakyStore{Store: kv.NewMemoryStore(kv.WithClock(clock.Now))}
		p := newProvider(t, flaky, clock)

		flaky.failUpserts.Store(true)
		err := p.SetAndRelease(ctx, "s1", 0, session.NewItems(), 0, true)
		require.ErrorIs(t, err, errUpsert)

		_, err = p.Load(ctx, "s1", true)
		assert.ErrorIs(t, err, session.ErrSessionNotFound)
	})

	t.Run("new item over existing keys falls back to update", func(t *testing.T) {
		f := setup(t)
		seed(t, f.provider, "s1", "k", "old")

		items := session.NewItems()
		items.Set("k", []byte("new"))
		require.NoError(t, f.provider.SetAndRelease(ctx, "s1", 0, items, 0, true))

		rec, err := f.provider.Load(ctx, "s1", false)
		require.NoError(t, err)
		v, _ := rec.Items.Get("k")
		assert.Equal(t, []byte("new"), v)
	})

	t.Run("applies timeout to both keys", func(t *testing.T) {
		f := setup(t)
		seed(t, f.provider, "s1")
		res, err := f.provider.LoadExclusive(ctx, "s1")
		require.NoError(t, err)
		require.NoError(t, f.provider.SetAndRelease(ctx, "s1", res.LockToken, res.Record.Items, 2*time.Minute, false))

		f.clock.Advance(3 * time.Minute)
		_, err = f.provider.Load(ctx, "s1", false)
		assert.ErrorIs(t, err, session.ErrSessionNotFound)

		_, err = f.store.Get(ctx, f.provider.Config().BodyKey("s1"))
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})
}
