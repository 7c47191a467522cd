package store

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ErrStoreClosed is returned for operations after Close.
var ErrStoreClosed = errors.New("store: closed")

// FileStoreConfig configures the file-backed log store.
type FileStoreConfig struct {
	// Dir is the directory holding one JSONL file per category.
	Dir string

	// AppendOnly enables the Linux append-only file attribute on log
	// files via chattr. Requires CAP_LINUX_IMMUTABLE.
	AppendOnly bool

	// Logger for diagnostic output.
	Logger *slog.Logger
}

// FileStore persists each category as an append-only JSONL file under a
// single directory. Appends within a category are serialized and synced to
// disk before success is reported; reads open an independent handle and
// never block appenders.
type FileStore struct {
	mu     sync.Mutex
	dir    string
	files  map[string]*logFile
	closed bool
	logger *slog.Logger
	attrs  *AppendOnlyManager
}

type logFile struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// NewFileStore creates a file store rooted at cfg.Dir, creating the
// directory if needed.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	if cfg.Dir == "" {
		return nil, errors.New("store: dir is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}

	fs := &FileStore{
		dir:    cfg.Dir,
		files:  make(map[string]*logFile),
		logger: logger,
	}

	if cfg.AppendOnly {
		attrs, err := NewAppendOnlyManager(logger)
		if err != nil {
			return nil, err
		}
		fs.attrs = attrs
	}

	return fs, nil
}

// Path returns the backing file path for a category. The file may not exist
// until Initialize has run.
func (fs *FileStore) Path(category string) string {
	return filepath.Join(fs.dir, category+".jsonl")
}

// Initialize opens or creates the category's log file. Calling it twice is
// a no-op after the first success.
func (fs *FileStore) Initialize(category string) error {
	_, err := fs.file(category)
	return err
}

// file returns the open handle for a category, creating the file on first
// use.
func (fs *FileStore) file(category string) (*logFile, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return nil, ErrStoreClosed
	}
	if lf, ok := fs.files[category]; ok {
		return lf, nil
	}

	path := fs.Path(category)

	// A crash mid-append can leave a torn final line with no terminator.
	// Frame it as its own record before any new write, so the next append
	// never merges into the fragment and destroys its own record.
	if err := terminateTornLine(path); err != nil {
		return nil, fmt.Errorf("store: recover %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	if fs.attrs != nil {
		if err := fs.attrs.Set(path); err != nil {
			fs.logger.Warn("failed to set append-only attribute", "path", path, "error", err)
		}
	}

	lf := &logFile{f: f, path: path}
	fs.files[category] = lf
	return lf, nil
}

// terminateTornLine writes a trailing newline to path if its last byte is
// not one, turning a partial final line into a complete, separately framed
// record. The fragment stays unparseable and is flagged by verification;
// records appended afterwards start on a fresh line. A missing or empty
// file needs no recovery.
func terminateTornLine(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}

	if _, err := f.Write([]byte{'\n'}); err != nil {
		return err
	}
	return f.Sync()
}

// Append writes one record line, durably flushed, before returning success.
// The per-category lock is held for the full write-and-sync so concurrent
// appends to the same category never interleave.
func (fs *FileStore) Append(category string, line []byte) error {
	if bytes.IndexByte(line, '\n') >= 0 {
		return fmt.Errorf("store: record must not contain a newline")
	}

	lf, err := fs.file(category)
	if err != nil {
		return err
	}

	lf.mu.Lock()
	defer lf.mu.Unlock()

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	if _, err := lf.f.Write(buf); err != nil {
		return fmt.Errorf("store: write %s: %w", lf.path, err)
	}
	if err := lf.f.Sync(); err != nil {
		return fmt.Errorf("store: sync %s: %w", lf.path, err)
	}
	return nil
}

// ReadAll returns the category's records in append order. It reads through
// an independent handle so verification can run concurrently with appends;
// entries appended after the read starts are simply not included.
func (fs *FileStore) ReadAll(category string) ([]Record, error) {
	data, err := os.ReadFile(fs.Path(category))
	if err != nil {
		if os.IsNotExist(err) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", fs.Path(category), err)
	}
	return splitRecords(data), nil
}

// splitRecords cuts newline-framed records out of raw file content. A final
// unterminated chunk is still surfaced as a record at its position; whether
// it parses is for the caller to decide.
func splitRecords(data []byte) []Record {
	records := []Record{}
	pos := 0
	for start := 0; start < len(data); {
		end := bytes.IndexByte(data[start:], '\n')
		var line []byte
		if end < 0 {
			line = data[start:]
			start = len(data)
		} else {
			line = data[start : start+end]
			start += end + 1
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		pos++
		records = append(records, Record{Position: pos, Line: line})
	}
	return records
}

// Close syncs and closes all open category files.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return nil
	}
	fs.closed = true

	var firstErr error
	for _, lf := range fs.files {
		lf.mu.Lock()
		if err := lf.f.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := lf.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		lf.mu.Unlock()
	}
	return firstErr
}
