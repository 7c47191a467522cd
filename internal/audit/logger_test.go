package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/byteworthy/Numira-sub002/internal/audit/store"
)

func testLogger(t *testing.T) (*Logger, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	l, err := NewLogger(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, st
}

func TestLoggerRecordBackupCreated(t *testing.T) {
	l, st := testLogger(t)
	ctx := context.Background()

	entry, err := l.RecordBackupCreated(ctx, "user-1", "full", "/backups/db-2026-01-02.dump", Metadata{
		"sizeBytes": 4096,
	})
	if err != nil {
		t.Fatalf("RecordBackupCreated() error = %v", err)
	}
	if entry.Event != EventBackupCreated {
		t.Errorf("entry.Event = %s, want %s", entry.Event, EventBackupCreated)
	}
	if entry.ActorID == nil || *entry.ActorID != "user-1" {
		t.Errorf("entry.ActorID = %v, want user-1", entry.ActorID)
	}
	if entry.Hash == "" {
		t.Error("entry.Hash should be set")
	}

	records, err := st.ReadAll(string(CategoryBackup))
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("stored records = %d, want 1", len(records))
	}

	tail, err := l.LastHash(CategoryBackup)
	if err != nil {
		t.Fatalf("LastHash() error = %v", err)
	}
	if tail != entry.Hash {
		t.Errorf("LastHash() = %s, want %s", tail, entry.Hash)
	}
}

func TestLoggerChaining(t *testing.T) {
	l, _ := testLogger(t)
	ctx := context.Background()

	first, err := l.RecordBackupAccessed(ctx, "user-1", "/backups/a.dump", "read", nil)
	if err != nil {
		t.Fatalf("RecordBackupAccessed() error = %v", err)
	}
	second, err := l.RecordBackupAccessed(ctx, "user-2", "/backups/a.dump", "download", nil)
	if err != nil {
		t.Fatalf("RecordBackupAccessed() error = %v", err)
	}

	canonical, err := Canonicalize(second)
	if err != nil {
		t.Fatalf("Canonicalize() error = %v", err)
	}
	if want := NextHash(first.Hash, canonical); second.Hash != want {
		t.Errorf("second entry hash = %s, want chained %s", second.Hash, want)
	}
}

func TestLoggerCategoriesIndependent(t *testing.T) {
	l, _ := testLogger(t)
	ctx := context.Background()

	if _, err := l.RecordBackupCreated(ctx, "", "full", "/backups/a.dump", nil); err != nil {
		t.Fatalf("RecordBackupCreated() error = %v", err)
	}

	// An empty restore chain still reports its genesis tail.
	tail, err := l.LastHash(CategoryRestore)
	if err != nil {
		t.Fatalf("LastHash() error = %v", err)
	}
	if tail != Genesis(CategoryRestore) {
		t.Errorf("restore tail = %s, want genesis %s", tail, Genesis(CategoryRestore))
	}

	entry, err := l.RecordBackupRestored(ctx, "admin", "/backups/a.dump", nil)
	if err != nil {
		t.Fatalf("RecordBackupRestored() error = %v", err)
	}
	canonical, err := Canonicalize(entry)
	if err != nil {
		t.Fatalf("Canonicalize() error = %v", err)
	}
	if want := NextHash(Genesis(CategoryRestore), canonical); entry.Hash != want {
		t.Errorf("first restore entry should chain from restore genesis, got %s want %s", entry.Hash, want)
	}
}

func TestLoggerValidation(t *testing.T) {
	l, _ := testLogger(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"empty type", func() error {
			_, err := l.RecordBackupCreated(ctx, "u", "", "/p", nil)
			return err
		}},
		{"empty path", func() error {
			_, err := l.RecordBackupCreated(ctx, "u", "full", "", nil)
			return err
		}},
		{"empty backup file", func() error {
			_, err := l.RecordBackupRestored(ctx, "u", "", nil)
			return err
		}},
		{"empty action", func() error {
			_, err := l.RecordBackupAccessed(ctx, "u", "/p", "", nil)
			return err
		}},
		{"bad action format", func() error {
			_, err := l.RecordBackupAccessed(ctx, "u", "/p", "Read Things!", nil)
			return err
		}},
		{"oversized actor", func() error {
			_, err := l.RecordBackupCreated(ctx, strings.Repeat("a", 257), "full", "/p", nil)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrInvalidEntry) {
				t.Errorf("error = %v, want ErrInvalidEntry", err)
			}
		})
	}

	if m := l.Metrics(); m.Invalid != uint64(len(tests)) {
		t.Errorf("Metrics().Invalid = %d, want %d", m.Invalid, len(tests))
	}
	if m := l.Metrics(); m.Written != 0 {
		t.Errorf("Metrics().Written = %d, want 0", m.Written)
	}
}

// failingStore accepts initialization but fails every append.
type failingStore struct {
	*store.MemoryStore
}

func (f *failingStore) Append(category string, line []byte) error {
	return fmt.Errorf("disk full")
}

func TestLoggerAppendFailure(t *testing.T) {
	st := &failingStore{MemoryStore: store.NewMemoryStore()}
	l, err := NewLogger(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer l.Close()

	_, err = l.RecordBackupCreated(context.Background(), "u", "full", "/p", nil)
	if !errors.Is(err, ErrAppendFailed) {
		t.Fatalf("error = %v, want ErrAppendFailed", err)
	}

	// The tail must not advance past a failed persist.
	tail, err := l.LastHash(CategoryBackup)
	if err != nil {
		t.Fatalf("LastHash() error = %v", err)
	}
	if tail != Genesis(CategoryBackup) {
		t.Errorf("tail advanced after failed append: %s", tail)
	}
	if m := l.Metrics(); m.AppendFailures != 1 {
		t.Errorf("Metrics().AppendFailures = %d, want 1", m.AppendFailures)
	}
}

func TestLoggerClosed(t *testing.T) {
	l, _ := testLogger(t)
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// Idempotent.
	if err := l.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	_, err := l.RecordBackupCreated(context.Background(), "u", "full", "/p", nil)
	if !errors.Is(err, ErrLoggerClosed) {
		t.Errorf("error = %v, want ErrLoggerClosed", err)
	}
}

func TestLoggerConcurrentAppends(t *testing.T) {
	l, st := testLogger(t)
	ctx := context.Background()

	const goroutines = 8
	const perGoroutine = 25

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				actor := fmt.Sprintf("worker-%d", g)
				if _, err := l.RecordBackupAccessed(ctx, actor, "/backups/a.dump", "read", Metadata{"i": i}); err != nil {
					t.Errorf("RecordBackupAccessed() error = %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	records, err := st.ReadAll(string(CategoryAccess))
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(records) != goroutines*perGoroutine {
		t.Fatalf("stored records = %d, want %d", len(records), goroutines*perGoroutine)
	}

	// Every stored entry must chain from its predecessor.
	v := NewVerifier(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	report, err := v.Verify(ctx, CategoryAccess)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !report.Verified {
		t.Errorf("concurrent appends broke the chain: %+v", report.InvalidEntries)
	}
}

func TestLoggerRecoversTail(t *testing.T) {
	st := store.NewMemoryStore()
	l, err := NewLogger(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	ctx := context.Background()

	first, err := l.RecordBackupCreated(ctx, "u", "full", "/p", nil)
	if err != nil {
		t.Fatalf("RecordBackupCreated() error = %v", err)
	}

	// A fresh facade over the same store must resume the chain, not restart
	// it from genesis.
	l2, err := NewLogger(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer l2.Close()

	tail, err := l2.LastHash(CategoryBackup)
	if err != nil {
		t.Fatalf("LastHash() error = %v", err)
	}
	if tail != first.Hash {
		t.Errorf("recovered tail = %s, want %s", tail, first.Hash)
	}

	second, err := l2.RecordBackupCreated(ctx, "u", "full", "/p2", nil)
	if err != nil {
		t.Fatalf("RecordBackupCreated() error = %v", err)
	}
	canonical, err := Canonicalize(second)
	if err != nil {
		t.Fatalf("Canonicalize() error = %v", err)
	}
	if want := NextHash(first.Hash, canonical); second.Hash != want {
		t.Errorf("resumed entry hash = %s, want %s", second.Hash, want)
	}
}

// captureForwarder records forwarded entries.
type captureForwarder struct {
	mu      sync.Mutex
	entries []*Entry
}

func (c *captureForwarder) Forward(_ Category, entry *Entry) {
	c.mu.Lock()
	c.entries = append(c.entries, entry)
	c.mu.Unlock()
}

func TestLoggerForwarder(t *testing.T) {
	l, _ := testLogger(t)
	fwd := &captureForwarder{}
	l.SetForwarder(fwd)

	entry, err := l.RecordBackupRestored(context.Background(), "u", "/backups/a.dump", nil)
	if err != nil {
		t.Fatalf("RecordBackupRestored() error = %v", err)
	}

	fwd.mu.Lock()
	defer fwd.mu.Unlock()
	if len(fwd.entries) != 1 || fwd.entries[0].Hash != entry.Hash {
		t.Errorf("forwarder saw %d entries, want the appended one", len(fwd.entries))
	}
}
