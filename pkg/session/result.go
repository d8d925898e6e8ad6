package session

import "time"

// Outcome classifies the state a read found the session in.
type Outcome int

const (
	// OutcomeNotFound means no session exists for the id.
	OutcomeNotFound Outcome = iota
	// OutcomeUnlocked means the record was read without taking a lock.
	OutcomeUnlocked
	// OutcomeLocked means the caller now holds the lock.
	OutcomeLocked
	// OutcomeBusy means another caller holds a lock that is not stale yet.
	OutcomeBusy
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotFound:
		return "not_found"
	case OutcomeUnlocked:
		return "unlocked"
	case OutcomeLocked:
		return "locked"
	case OutcomeBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Result is returned by Get and LoadExclusive.
type Result struct {
	Outcome Outcome

	// Record is set for OutcomeUnlocked and OutcomeLocked.
	Record *Record

	// LockToken is the caller's token for OutcomeLocked and the holder's
	// token for OutcomeBusy.
	LockToken uint64

	// LockAge is how long the holder has had the lock (OutcomeBusy only).
	LockAge time.Duration

	// Actions is the header flag seen before the operation. FlagInitializeItem
	// tells the host to run its session start logic.
	Actions Flag
}
