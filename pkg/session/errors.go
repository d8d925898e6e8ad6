package session

import "errors"

var (
	// ErrSessionNotFound indicates no session exists for the id
	ErrSessionNotFound = errors.New("session.not_found")

	// ErrSessionLost indicates the lock was taken but the body could not be
	// read; the lock has been rolled back and the caller should start a new session
	ErrSessionLost = errors.New("session.lost")

	// ErrRetryExhausted indicates a transient or conflict retry budget ran out
	ErrRetryExhausted = errors.New("session.retry_exhausted")

	// ErrAlreadyExists indicates CreateUninitialized hit an existing id
	ErrAlreadyExists = errors.New("session.already_exists")

	// ErrInvalidHeader indicates the stored header could not be decoded
	ErrInvalidHeader = errors.New("session.invalid_header")

	// ErrInvalidItems indicates the stored body could not be decoded
	ErrInvalidItems = errors.New("session.invalid_items")

	// ErrInvalidID indicates an empty session id
	ErrInvalidID = errors.New("session.invalid_id")

	// ErrNoStore indicates no store is configured
	ErrNoStore = errors.New("session.no_store")
)
