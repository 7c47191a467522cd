// Package store provides append-only log storage for the audit engine:
// a LogStore interface with a durable file-backed implementation and an
// in-memory implementation for tests and embedding.
package store

// Record is one raw stored line in append order. Position is 1-based.
// Parsing is the caller's concern; a malformed line is still returned at
// its position rather than dropped.
type Record struct {
	Position int
	Line     []byte
}

// LogStore is the append-only storage abstraction, one independent log per
// category. Append must be fully serialized per category and must not
// report success until the record is durable.
type LogStore interface {
	// Initialize ensures the backing resource for a category exists,
	// creating it empty if absent. Idempotent.
	Initialize(category string) error

	// Append durably persists one serialized record. The line must not
	// contain a newline; the store owns record framing.
	Append(category string, line []byte) error

	// ReadAll returns all records for a category in append order. A
	// missing or empty log yields an empty slice. ReadAll operates on a
	// snapshot of whatever is durably readable at call time and takes no
	// locks against concurrent appenders.
	ReadAll(category string) ([]Record, error)

	// Close releases any held resources.
	Close() error
}
