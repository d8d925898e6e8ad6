// Package kv defines the minimal compare-and-swap key-value contract that the
// session lock protocol is built on, together with a concurrent in-memory
// implementation.
//
// Every read returns the stored value with an opaque Version. Conditional
// writes (Replace, Upsert with a non-zero expected version) succeed only when
// the stored version still matches, which is the only concurrency primitive
// the session package relies on.
//
// # Versions
//
// A successful value write always produces a new non-zero version that differs
// from every version the key held before, including across delete and
// re-create. TTL-only operations (Refresh, GetAndRefresh) keep the version.
// Callers must treat versions as opaque tokens and never as counters or
// timestamps.
//
// # Errors
//
// Terminal outcomes are reported with sentinel errors:
//
//   - ErrNotFound        – key is absent or expired
//   - ErrVersionConflict – stored version differs from the expected one
//   - ErrAlreadyExists   – Insert on a live key
//
// Backends join any failure that is safe to retry unchanged (timeouts,
// connection resets, fail-over, server overload) with ErrTransient. Use
// IsTransient to classify.
//
// # Backends
//
// MemoryStore ships with this package. Redis, PostgreSQL and MongoDB
// implementations live in the pkg/redis, pkg/pg and pkg/mongo packages. The
// kvtest sub-package contains the behavioural suite every backend runs.
package kv
