package audit

import "errors"

// Common errors. Append-side errors always propagate to the caller: a
// missing audit record is itself a security-relevant failure, so callers
// must treat a failed append as "this operation was not audited".
var (
	// ErrInvalidEntry indicates caller-supplied event fields failed
	// validation. The entry never reaches the store.
	ErrInvalidEntry = errors.New("audit: invalid entry")

	// ErrAppendFailed indicates durability could not be guaranteed for
	// an append.
	ErrAppendFailed = errors.New("audit: append failed")

	// ErrEncoding indicates an entry could not be canonicalized
	// (non-finite numbers, cyclic or unsupported metadata values).
	ErrEncoding = errors.New("audit: entry not canonicalizable")

	// ErrLoggerClosed is returned for appends after Close.
	ErrLoggerClosed = errors.New("audit: logger is closed")

	// ErrUnknownCategory is returned for operations on a category the
	// engine does not own.
	ErrUnknownCategory = errors.New("audit: unknown category")
)
