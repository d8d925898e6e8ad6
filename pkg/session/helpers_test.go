package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionstate/pkg/kv"
	"github.com/dmitrymomot/sessionstate/pkg/session"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyStore wraps a kv.Store and injects failures.
type flakyStore struct {
	kv.Store

	// transientGets fails that many Get/GetAndRefresh calls with kv.ErrTransient.
	transientGets atomic.Int32
	// conflictReplaces makes every Replace report a version conflict.
	conflictReplaces atomic.Bool
	// failUpserts makes every Upsert fail with errUpsert.
	failUpserts atomic.Bool

	gets     atomic.Int32
	replaces atomic.Int32
}

func (f *flakyStore) Get(ctx context.Context, key string) (kv.Item, error) {
	f.gets.Add(1)
	if f.transientGets.Add(-1) >= 0 {
		return kv.Item{}, kv.Transient(context.DeadlineExceeded)
	}
	return f.Store.Get(ctx, key)
}

func (f *flakyStore) GetAndRefresh(ctx context.Context, key string, ttl time.Duration) (kv.Item, error) {
	f.gets.Add(1)
	if f.transientGets.Add(-1) >= 0 {
		return kv.Item{}, kv.Transient(context.DeadlineExceeded)
	}
	return f.Store.GetAndRefresh(ctx, key, ttl)
}

func (f *flakyStore) Replace(ctx context.Context, key string, value []byte, expected kv.Version, ttl time.Duration) (kv.Version, error) {
	f.replaces.Add(1)
	if f.conflictReplaces.Load() {
		return 0, kv.ErrVersionConflict
	}
	return f.Store.Replace(ctx, key, value, expected, ttl)
}

var errUpsert = errors.New("upsert rejected")

func (f *flakyStore) Upsert(ctx context.Context, key string, value []byte, expected kv.Version, ttl time.Duration) (kv.Version, error) {
	if f.failUpserts.Load() {
		return 0, errUpsert
	}
	return f.Store.Upsert(ctx, key, value, expected, ttl)
}

type recordingMetrics struct {
	mu      sync.Mutex
	ops     []string
	retries map[string]int
}

func (m *recordingMetrics) ObserveOperation(op, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, op+":"+outcome)
}

func (m *recordingMetrics) ObserveRetry(op, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retries == nil {
		m.retries = make(map[string]int)
	}
	m.retries[op+":"+kind]++
}

type fixture struct {
	store    *kv.MemoryStore
	clock    *fakeClock
	provider *session.Provider
}

var fastTransient = session.RetryPolicy{Attempts: 3}

func setup(t *testing.T, opts ...session.Option) fixture {
	t.Helper()
	clock := newClock()
	store := kv.NewMemoryStore(kv.WithClock(clock.Now))
	return fixture{
		store:    store,
		clock:    clock,
		provider: newProvider(t, store, clock, opts...),
	}
}

func newProvider(t *testing.T, store kv.Store, clock *fakeClock, opts ...session.Option) *session.Provider {
	t.Helper()
	base := []session.Option{
		session.WithClock(clock.Now),
		session.WithTransientRetry(fastTransient),
	}
	p, err := session.NewProvider(store, session.Config{
		Timeout:    20 * time.Minute,
		MaxLockAge: 5 * time.Minute,
		Namespace:  session.Namespace("Test Site", "/app"),
	}, append(base, opts...)...)
	require.NoError(t, err)
	return p
}

// seed creates an unlocked session holding items.
func seed(t *testing.T, p *session.Provider, id string, kvs ...string) {
	t.Helper()
	items := session.NewItems()
	for i := 0; i+1 < len(kvs); i += 2 {
		items.Set(kvs[i], []byte(kvs[i+1]))
	}
	require.NoError(t, p.SetAndRelease(context.Background(), id, 0, items, 0, true))
}
