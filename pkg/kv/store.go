package kv

import (
	"context"
	"time"
)

// Version is an opaque compare-and-swap token. Zero means "no version".
type Version uint64

// Item is a stored value together with the version it was read at.
type Item struct {
	Value   []byte
	Version Version
}

// Store is the CAS-capable key-value contract used by the session provider.
// A ttl of zero means the key never expires.
type Store interface {
	// Get returns the live value stored under key.
	Get(ctx context.Context, key string) (Item, error)

	// GetAndRefresh returns the value and resets its TTL in one store operation.
	GetAndRefresh(ctx context.Context, key string, ttl time.Duration) (Item, error)

	// Insert stores value only if key is absent. Returns ErrAlreadyExists otherwise.
	Insert(ctx context.Context, key string, value []byte, ttl time.Duration) (Version, error)

	// Replace overwrites an existing key whose version equals expected.
	// Returns ErrNotFound if absent and ErrVersionConflict on mismatch.
	Replace(ctx context.Context, key string, value []byte, expected Version, ttl time.Duration) (Version, error)

	// Upsert writes value unconditionally when expected is zero, otherwise it
	// behaves like Replace.
	Upsert(ctx context.Context, key string, value []byte, expected Version, ttl time.Duration) (Version, error)

	// Refresh resets the TTL of key without touching its value or version.
	Refresh(ctx context.Context, key string, ttl time.Duration) error

	// Remove deletes all given keys on a best-effort basis. Missing keys are
	// not an error and there is no atomicity across keys.
	Remove(ctx context.Context, keys ...string) error
}
