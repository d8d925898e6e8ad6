package kv

import "errors"

var (
	// ErrNotFound indicates the key does not exist or has expired.
	ErrNotFound = errors.New("kv.not_found")

	// ErrVersionConflict indicates the stored version differs from the expected one.
	ErrVersionConflict = errors.New("kv.version_conflict")

	// ErrAlreadyExists indicates an insert on a key that is already present.
	ErrAlreadyExists = errors.New("kv.already_exists")

	// ErrTransient marks failures that are safe to retry unchanged.
	ErrTransient = errors.New("kv.transient")

	// ErrEmptyKey indicates an operation was called without a key.
	ErrEmptyKey = errors.New("kv.empty_key")
)

// IsTransient reports whether err is a store failure that may succeed on retry.
func IsTransient(err error) bool {
	return err != nil && errors.Is(err, ErrTransient)
}

// Transient marks err as retryable. A nil error stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrTransient, err)
}
