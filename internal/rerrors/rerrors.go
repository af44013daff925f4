// Package rerrors defines the closed error-kind taxonomy the retrieval core
// propagates across component boundaries. Errors are structured values, not
// panics: internal callers wrap one of the sentinels below with
// github.com/cockroachdb/errors so that errors.Is/As keep working across the
// wrap chain while a stack trace is captured at the point of failure.
package rerrors

import "github.com/cockroachdb/errors"

var (
	// ErrParseDegenerate marks a query that produced an empty entity set and
	// the general intent. It is informational, not a failure: the parser
	// still returns a usable ParsedQuery.
	ErrParseDegenerate = errors.New("parse degenerate: empty entities, general intent")

	// ErrStoreUnavailable means a vector store round-trip failed. This is
	// not a recovery point: it surfaces to the orchestrator's caller.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrDimensionMismatch means the embedding client's dimension differs
	// from the configured deployment dimension (checked once when the
	// orchestrator is built); the dimension of vectors already stored is not
	// checked. It is fatal at startup.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrModelUnavailable means the LLM could not be loaded or generation
	// failed. The orchestrator recovers by degrading to retrieval-only.
	ErrModelUnavailable = errors.New("language model unavailable")

	// ErrTimedOut means a caller-supplied deadline expired before the
	// suspending call completed.
	ErrTimedOut = errors.New("deadline exceeded")

	// ErrInvalidInput means the request itself is malformed: empty query
	// text, a malformed request_id, or top_k <= 0.
	ErrInvalidInput = errors.New("invalid input")
)

// Wrap attaches additional context to one of the sentinels above while
// keeping errors.Is(err, sentinel) true.
func Wrap(sentinel error, context string) error {
	return errors.Wrap(sentinel, context)
}

// Wrapf is Wrap with a formatted context string.
func Wrapf(sentinel error, format string, args ...any) error {
	return errors.Wrapf(sentinel, format, args...)
}

// Is is errors.Is, re-exported so callers need only import this package
// when discriminating retrieval-core failures.
func Is(err, target error) bool { return errors.Is(err, target) }
