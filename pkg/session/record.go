package session

import (
	"time"

	"github.com/dmitrymomot/sessionstate/pkg/kv"
)

// Flag mirrors the host's session lifecycle signal stored in the header.
type Flag uint8

const (
	// FlagNone marks a regular session.
	FlagNone Flag = 0
	// FlagInitializeItem marks a session created by CreateUninitialized that
	// the host has not initialized yet. Its body may be absent.
	FlagInitializeItem Flag = 1
	// FlagUninitialized is reported in Result.Actions when no session exists.
	FlagUninitialized Flag = 2
)

func (f Flag) String() string {
	switch f {
	case FlagNone:
		return "none"
	case FlagInitializeItem:
		return "initialize_item"
	case FlagUninitialized:
		return "uninitialized"
	default:
		return "unknown"
	}
}

// Record is a session header plus, when loaded, its body.
type Record struct {
	ID      string
	Items   *Items
	Flag    Flag
	Timeout time.Duration

	// LockToken is zero when the session is not locked.
	LockToken uint64
	LockTime  time.Time

	HeaderVersion kv.Version
	BodyVersion   kv.Version
}

// Locked reports whether the header carries a lock.
func (r *Record) Locked() bool {
	return r.LockToken != 0
}

// LockAge returns how long the current lock has been held.
func (r *Record) LockAge(now time.Time) time.Duration {
	if !r.Locked() {
		return 0
	}
	return now.Sub(r.LockTime)
}

// stale reports whether the lock may be stolen.
func (r *Record) stale(now time.Time, maxLockAge time.Duration) bool {
	return r.LockAge(now) > maxLockAge
}

func (r *Record) unlock() {
	r.LockToken = 0
	r.LockTime = time.Time{}
}
