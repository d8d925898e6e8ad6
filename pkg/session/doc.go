// Package session stores lockable session records in a key-value store that
// offers only compare-and-swap, giving concurrent requests for the same
// session id advisory exclusive access.
//
// Each session is split into two keys with independent versions:
//
//	<namespace>info-<id>  header: flag, timeout, lock token, lock time (22 bytes)
//	<namespace>data-<id>  body: the encoded Items collection
//
// so the lock can be checked and changed without reading the payload.
//
// # Locking
//
// LoadExclusive reads the header (refreshing its TTL) and, unless a lock
// younger than Config.MaxLockAge is present, writes a new header whose lock
// token is the version it just read. The CAS on that write makes exactly one
// concurrent acquirer win; the others re-read and see OutcomeBusy. Locks older
// than MaxLockAge are stale and any acquirer may take them over, so
// exclusivity is time-bounded.
//
// Release and SetAndRelease only act when the caller's token still matches
// the header. A caller whose lock was taken over becomes a silent no-op
// instead of overwriting the newer holder.
//
//	┌──────────┐  LoadExclusive   ┌──────────────┐
//	│ Unlocked │ ───────────────► │ Locked(t, ts)│
//	└──────────┘ ◄─────────────── └──────────────┘
//	      ▲      Release / SetAndRelease │ now-ts > MaxLockAge
//	      │                              ▼
//	      └──── LoadExclusive ──── Stale(t, ts)
//
// # Retries
//
// Every store call is retried on kv.ErrTransient (TransientRetry: 11 attempts,
// 3s apart). Writes that lose a CAS race are re-read and retried
// (ConflictRetry: 20 attempts, no delay). Exhausting either budget returns
// ErrRetryExhausted. Both policies can be replaced with WithTransientRetry and
// WithConflictRetry.
//
// # Usage
//
//	provider, err := session.NewProvider(redis.NewStore(client), session.DefaultConfig(),
//	    session.WithLogger(log),
//	    session.WithMetrics(metrics.NewCollector(prometheus.DefaultRegisterer)),
//	)
//
//	res, err := provider.LoadExclusive(ctx, id)
//	switch res.Outcome {
//	case session.OutcomeLocked:
//	    res.Record.Items.Set("cart", payload)
//	    err = provider.SetAndRelease(ctx, id, res.LockToken, res.Record.Items, 0, false)
//	case session.OutcomeBusy:
//	    // poll again later
//	case session.OutcomeNotFound:
//	    // start a new session
//	}
//
// # Error Handling
//
//   - ErrSessionNotFound – no header for the id
//   - ErrSessionLost     – lock taken but body unreadable; lock rolled back
//   - ErrRetryExhausted  – transient or conflict retries ran out
//   - ErrAlreadyExists   – CreateUninitialized on an existing id
package session
