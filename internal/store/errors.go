package store

import "errors"

// Sentinel errors surfaced by store adapters. Callers match with errors.Is.
var (
	// ErrBankNotFound means the bank id is unknown. Non-retryable.
	ErrBankNotFound = errors.New("store: bank not found")
	// ErrStoreUnavailable means the backing store is persistently failing.
	// The caller may retry the whole request.
	ErrStoreUnavailable = errors.New("store: unavailable")
	// ErrStoreDeadline means a single store call exceeded its per-call
	// deadline. Recoverable: the engine converts it to an empty strategy
	// result and records it in the trace.
	ErrStoreDeadline = errors.New("store: per-call deadline exceeded")
)
