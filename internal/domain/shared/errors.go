package shared

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStoreUnavailable indicates the shared state store did not answer
	// within its short timeout. Callers treat the current tick as a no-op.
	ErrStoreUnavailable = errors.New("state store unavailable")

	// ErrLockHeld indicates a named lock is already held by another worker.
	ErrLockHeld = errors.New("lock already held")

	// ErrAuthExpired indicates a provider rejected the bearer token.
	ErrAuthExpired = errors.New("provider authentication expired")
)
