package kv

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	version   Version
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore implements Store using a process-local map.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	seq     Version
	now     func() time.Time
	ticker  *time.Ticker
	done    chan struct{}
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for TTL bookkeeping.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		if now != nil {
			m.now = now
		}
	}
}

// WithCleanupInterval starts a background sweep of expired keys.
// Expired keys are always invisible to readers; the sweep only reclaims memory.
func WithCleanupInterval(interval time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		if interval > 0 {
			m.ticker = time.NewTicker(interval)
		}
	}
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ticker != nil {
		go m.cleanupLoop()
	}
	return m
}

// Get returns the live value stored under key.
func (m *MemoryStore) Get(ctx context.Context, key string) (Item, error) {
	if key == "" {
		return Item{}, ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(key)
	if !ok {
		return Item{}, ErrNotFound
	}
	return e.item(), nil
}

// GetAndRefresh returns the value and resets its TTL.
func (m *MemoryStore) GetAndRefresh(ctx context.Context, key string, ttl time.Duration) (Item, error) {
	if key == "" {
		return Item{}, ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(key)
	if !ok {
		return Item{}, ErrNotFound
	}
	e.expiresAt = m.expiry(ttl)
	return e.item(), nil
}

// Insert stores value only if key is absent.
func (m *MemoryStore) Insert(ctx context.Context, key string, value []byte, ttl time.Duration) (Version, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live(key); ok {
		return 0, ErrAlreadyExists
	}
	return m.write(key, value, ttl), nil
}

// Replace overwrites key if its version equals expected.
func (m *MemoryStore) Replace(ctx context.Context, key string, value []byte, expected Version, ttl time.Duration) (Version, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(key)
	if !ok {
		return 0, ErrNotFound
	}
	if e.version != expected {
		return 0, ErrVersionConflict
	}
	return m.write(key, value, ttl), nil
}

// Upsert writes value unconditionally when expected is zero, otherwise it behaves like Replace.
func (m *MemoryStore) Upsert(ctx context.Context, key string, value []byte, expected Version, ttl time.Duration) (Version, error) {
	if expected != 0 {
		return m.Replace(ctx, key, value, expected, ttl)
	}
	if key == "" {
		return 0, ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.write(key, value, ttl), nil
}

// Refresh resets the TTL of key.
func (m *MemoryStore) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(key)
	if !ok {
		return ErrNotFound
	}
	e.expiresAt = m.expiry(ttl)
	return nil
}

// Remove deletes the given keys.
func (m *MemoryStore) Remove(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

// DeleteExpired drops every expired key.
func (m *MemoryStore) DeleteExpired(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, key)
		}
	}
	return nil
}

// Len returns the number of stored keys, including expired keys that have
// not been swept yet.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops the cleanup goroutine.
func (m *MemoryStore) Close() error {
	if m.ticker != nil {
		select {
		case <-m.done:
		default:
			m.ticker.Stop()
			close(m.done)
		}
	}
	return nil
}

func (m *MemoryStore) cleanupLoop() {
	for {
		select {
		case <-m.ticker.C:
			_ = m.DeleteExpired(context.Background())
		case <-m.done:
			return
		}
	}
}

// live returns the entry for key if present and not expired. Caller holds mu.
func (m *MemoryStore) live(key string) (*memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return nil, false
	}
	return e, true
}

// write stores a copy of value under a fresh version. Caller holds mu.
// The sequence is store-wide so a re-created key never reuses a version.
func (m *MemoryStore) write(key string, value []byte, ttl time.Duration) Version {
	m.seq++
	m.entries[key] = &memoryEntry{
		value:     append([]byte(nil), value...),
		version:   m.seq,
		expiresAt: m.expiry(ttl),
	}
	return m.seq
}

func (m *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (e *memoryEntry) item() Item {
	return Item{
		Value:   append([]byte(nil), e.value...),
		Version: e.version,
	}
}
