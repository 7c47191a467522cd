// Package audit provides the tamper-evident audit logging engine used to
// record backup, restore, and access events. Entries within a category form
// an append-only SHA-256 hash chain: each entry's hash covers its own
// canonical bytes and the hash of the entry immediately before it, so any
// later modification of stored content is detectable by recomputation.
package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Category identifies an independent audit log and hash chain.
// Categories never share a chain.
type Category string

const (
	CategoryBackup  Category = "backup"
	CategoryRestore Category = "restore"
	CategoryAccess  Category = "access"
)

// Event tags, one fixed tag per category.
const (
	EventBackupCreated  = "BACKUP_CREATED"
	EventBackupRestored = "BACKUP_RESTORED"
	EventBackupAccessed = "BACKUP_ACCESSED"
)

// TimestampLayout is the fixed wire format for entry timestamps:
// ISO-8601 UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Categories returns all known categories in a stable order.
func Categories() []Category {
	return []Category{CategoryBackup, CategoryRestore, CategoryAccess}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryBackup, CategoryRestore, CategoryAccess:
		return true
	}
	return false
}

// Event returns the fixed event tag recorded for entries in this category.
func (c Category) Event() string {
	switch c {
	case CategoryBackup:
		return EventBackupCreated
	case CategoryRestore:
		return EventBackupRestored
	case CategoryAccess:
		return EventBackupAccessed
	}
	return ""
}

// Metadata is an open mapping of string keys to scalar or nested values
// carrying operational detail (sizes, durations). It must never hold secrets.
// Values are restricted to a closed set: nil, bool, string, integers,
// finite floats, slices, and string-keyed maps of the same.
type Metadata map[string]any

// Entry is the unit of record. Field order matches the persisted JSONL
// key order: event, timestamp, actorId, subject, hash.
type Entry struct {
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	ActorID   *string        `json:"actorId"`
	Subject   map[string]any `json:"subject"`
	Hash      string         `json:"hash"`
}

// Time parses the entry's timestamp. The chain order, not the timestamp,
// is authoritative for ordering; timestamps are caller-supplied and may
// not be monotonic under clock skew.
func (e *Entry) Time() (time.Time, error) {
	return time.Parse(TimestampLayout, e.Timestamp)
}

// decodeEntry parses one stored JSONL record. Numbers are kept as
// json.Number so re-canonicalization reproduces the append-time bytes,
// and unknown keys are rejected rather than silently ignored.
func decodeEntry(line []byte) (*Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	dec.DisallowUnknownFields()

	var e Entry
	if err := dec.Decode(&e); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("decode entry: trailing data after record")
	}
	if e.Event == "" {
		return nil, fmt.Errorf("decode entry: missing event")
	}
	if e.Timestamp == "" {
		return nil, fmt.Errorf("decode entry: missing timestamp")
	}
	return &e, nil
}
