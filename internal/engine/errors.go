package engine

import "errors"

// Error kinds surfaced by Recall. Store-level kinds (bank not found,
// unavailable, per-call deadline) are defined in the store package and pass
// through wrapped.
var (
	// ErrInvalidQuery means the query text is empty or an option is
	// nonsensical (negative max_tokens). Non-retryable.
	ErrInvalidQuery = errors.New("recall: invalid query")
	// ErrEmbeddingFailed means the embedding service failed. Fatal for the
	// request.
	ErrEmbeddingFailed = errors.New("recall: embedding failed")
	// ErrDeadlineExceeded means the request deadline expired before any
	// candidate list was produced. Fatal.
	ErrDeadlineExceeded = errors.New("recall: deadline exceeded")
	// ErrOverloaded means the cross-encoder queue cannot be cleared within
	// the caller's deadline slack. Retryable with jitter.
	ErrOverloaded = errors.New("recall: overloaded")
)
