package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/byteworthy/Numira-sub002/internal/audit/store"
	"github.com/byteworthy/Numira-sub002/internal/logging"
)

// actionPattern defines the valid format for access actions.
// Examples: "read", "download", "archive", "admin.export".
var actionPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)

// Forwarder mirrors appended entries to an external sink. Implementations
// must not block and must never fail the append; forwarding is best-effort
// by contract.
type Forwarder interface {
	Forward(category Category, entry *Entry)
}

// Logger is the audit logging facade. It owns one chain per category, each
// protected by its own mutex held across hash computation and the persist
// call, so every entry observes the true immediately-preceding hash.
// Appends to different categories proceed in parallel.
type Logger struct {
	store    store.LogStore
	logger   *slog.Logger
	validate *validator.Validate
	chains   map[Category]*chainState

	fwdMu sync.RWMutex
	fwd   Forwarder

	closed atomic.Bool

	// Metrics
	written atomic.Uint64
	invalid atomic.Uint64
	failed  atomic.Uint64
}

type chainState struct {
	mu       sync.Mutex
	lastHash string
}

// NewLogger creates the facade over a log store, initializing every
// category and recovering each chain's tail from the last parseable stored
// record.
func NewLogger(st store.LogStore, logger *slog.Logger) (*Logger, error) {
	if st == nil {
		return nil, errors.New("audit: store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New()
	if err := v.RegisterValidation("action_format", func(fl validator.FieldLevel) bool {
		return actionPattern.MatchString(fl.Field().String())
	}); err != nil {
		return nil, fmt.Errorf("audit: register validation: %w", err)
	}

	l := &Logger{
		store:    st,
		logger:   logger,
		validate: v,
		chains:   make(map[Category]*chainState, len(Categories())),
	}

	for _, c := range Categories() {
		if err := st.Initialize(string(c)); err != nil {
			return nil, fmt.Errorf("audit: initialize %s log: %w", c, err)
		}
		tail, entries, err := recoverChainTail(st, c)
		if err != nil {
			return nil, err
		}
		l.chains[c] = &chainState{lastHash: tail}
		logger.Debug("audit chain recovered", "category", string(c), "entries", entries)
	}

	return l, nil
}

// recoverChainTail finds the hash to chain the next append from: the hash
// of the last parseable stored record, or the genesis constant for an empty
// log. Trailing garbage is left for the verifier to flag.
func recoverChainTail(st store.LogStore, c Category) (string, int, error) {
	records, err := st.ReadAll(string(c))
	if err != nil {
		return "", 0, fmt.Errorf("audit: recover %s chain: %w", c, err)
	}

	tail := Genesis(c)
	for _, r := range records {
		if e, err := decodeEntry(r.Line); err == nil && e.Hash != "" {
			tail = e.Hash
		}
	}
	return tail, len(records), nil
}

type backupCreatedRequest struct {
	ActorID string `validate:"omitempty,max=256"`
	Type    string `validate:"required,max=64"`
	Path    string `validate:"required,max=1024"`
}

type backupRestoredRequest struct {
	ActorID    string `validate:"omitempty,max=256"`
	BackupFile string `validate:"required,max=1024"`
}

type backupAccessedRequest struct {
	ActorID    string `validate:"omitempty,max=256"`
	BackupFile string `validate:"required,max=1024"`
	Action     string `validate:"required,max=64,action_format"`
}

// RecordBackupCreated records a completed backup on the backup chain.
// actorID may be empty for system-initiated backups. The returned entry
// includes the persisted hash so callers can correlate later.
func (l *Logger) RecordBackupCreated(ctx context.Context, actorID, backupType, path string, metadata Metadata) (*Entry, error) {
	req := backupCreatedRequest{ActorID: actorID, Type: backupType, Path: path}
	if err := l.validate.Struct(req); err != nil {
		l.invalid.Add(1)
		return nil, fmt.Errorf("%w: %s", ErrInvalidEntry, err)
	}

	meta, err := normalizeMetadata(metadata)
	if err != nil {
		l.invalid.Add(1)
		return nil, err
	}

	subject := map[string]any{
		"type":     backupType,
		"path":     path,
		"metadata": meta,
	}
	return l.append(ctx, CategoryBackup, actorRef(actorID), subject)
}

// RecordBackupRestored records a completed restore on the restore chain.
func (l *Logger) RecordBackupRestored(ctx context.Context, actorID, backupFile string, metadata Metadata) (*Entry, error) {
	req := backupRestoredRequest{ActorID: actorID, BackupFile: backupFile}
	if err := l.validate.Struct(req); err != nil {
		l.invalid.Add(1)
		return nil, fmt.Errorf("%w: %s", ErrInvalidEntry, err)
	}

	meta, err := normalizeMetadata(metadata)
	if err != nil {
		l.invalid.Add(1)
		return nil, err
	}

	subject := map[string]any{
		"backupFile": backupFile,
		"metadata":   meta,
	}
	return l.append(ctx, CategoryRestore, actorRef(actorID), subject)
}

// RecordBackupAccessed records an access to a backup (read, download,
// archival, deletion) on the access chain.
func (l *Logger) RecordBackupAccessed(ctx context.Context, actorID, backupFile, action string, metadata Metadata) (*Entry, error) {
	req := backupAccessedRequest{ActorID: actorID, BackupFile: backupFile, Action: action}
	if err := l.validate.Struct(req); err != nil {
		l.invalid.Add(1)
		return nil, fmt.Errorf("%w: %s", ErrInvalidEntry, err)
	}

	meta, err := normalizeMetadata(metadata)
	if err != nil {
		l.invalid.Add(1)
		return nil, err
	}

	subject := map[string]any{
		"backupFile": backupFile,
		"action":     action,
		"metadata":   meta,
	}
	return l.append(ctx, CategoryAccess, actorRef(actorID), subject)
}

// append builds the entry, computes its chain hash, and persists it. The
// category lock covers the whole read-modify-write: last hash observation,
// hash computation, store append, and the tail update. An in-flight append
// runs to durable completion or fails atomically; ctx is not consulted
// mid-write.
func (l *Logger) append(_ context.Context, c Category, actor *string, subject map[string]any) (*Entry, error) {
	if l.closed.Load() {
		return nil, ErrLoggerClosed
	}
	cs := l.chains[c]
	if cs == nil {
		return nil, ErrUnknownCategory
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	entry := &Entry{
		Event:     c.Event(),
		Timestamp: time.Now().UTC().Format(TimestampLayout),
		ActorID:   actor,
		Subject:   subject,
	}

	canonical, err := Canonicalize(entry)
	if err != nil {
		l.invalid.Add(1)
		return nil, err
	}
	entry.Hash = NextHash(cs.lastHash, canonical)

	line, err := json.Marshal(entry)
	if err != nil {
		l.invalid.Add(1)
		return nil, fmt.Errorf("%w: marshal: %s", ErrEncoding, err)
	}

	if err := l.store.Append(string(c), line); err != nil {
		l.failed.Add(1)
		return nil, fmt.Errorf("%w: %s", ErrAppendFailed, err)
	}

	cs.lastHash = entry.Hash
	l.written.Add(1)

	l.logger.Debug("audit entry appended",
		"category", string(c),
		"event", entry.Event,
		"hash", entry.Hash,
		"subject", logging.MaskMap(subject),
	)

	l.fwdMu.RLock()
	fwd := l.fwd
	l.fwdMu.RUnlock()
	if fwd != nil {
		fwd.Forward(c, entry)
	}

	return entry, nil
}

// SetForwarder installs an entry forwarder. Pass nil to remove.
func (l *Logger) SetForwarder(f Forwarder) {
	l.fwdMu.Lock()
	l.fwd = f
	l.fwdMu.Unlock()
}

// LastHash returns the current tail hash for a category.
func (l *Logger) LastHash(c Category) (string, error) {
	cs := l.chains[c]
	if cs == nil {
		return "", ErrUnknownCategory
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.lastHash, nil
}

// Metrics contains facade counters.
type Metrics struct {
	Written        uint64
	Invalid        uint64
	AppendFailures uint64
}

// Metrics returns a snapshot of the facade counters.
func (l *Logger) Metrics() Metrics {
	return Metrics{
		Written:        l.written.Load(),
		Invalid:        l.invalid.Load(),
		AppendFailures: l.failed.Load(),
	}
}

// Close marks the logger closed and releases the store. Appends after
// Close return ErrLoggerClosed.
func (l *Logger) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return l.store.Close()
}

func actorRef(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
