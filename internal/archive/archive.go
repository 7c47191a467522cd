package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/byteworthy/Numira-sub002/internal/audit"
	"github.com/byteworthy/Numira-sub002/internal/audit/store"
)

// actionArchive is the access action recorded for each archival run.
const actionArchive = "archive"

// Manifest describes one uploaded segment.
type Manifest struct {
	Category   string    `json:"category"`
	ObjectKey  string    `json:"objectKey"`
	Entries    int       `json:"entries"`
	SizeBytes  int       `json:"sizeBytes"`
	Checksum   string    `json:"checksum"`
	ArchivedAt time.Time `json:"archivedAt"`
}

// Archiver snapshots category logs, compresses them, and uploads them to
// object storage. Each successful upload is recorded through the audit
// logger so archival activity appears on the access chain.
type Archiver struct {
	client    *Client
	fileStore *store.FileStore
	auditLog  *audit.Logger
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewArchiver creates an archiver over an existing client and file store.
func NewArchiver(client *Client, fs *store.FileStore, auditLog *audit.Logger, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		client:    client,
		fileStore: fs,
		auditLog:  auditLog,
		logger:    logger,
	}
}

// ArchiveCategory uploads a gzip snapshot of one category log. The live
// file is left untouched; the snapshot taken by ReadAll is what is
// uploaded, so concurrent appends after the read are simply picked up by
// the next run.
func (a *Archiver) ArchiveCategory(ctx context.Context, category audit.Category) (*Manifest, error) {
	records, err := a.fileStore.ReadAll(string(category))
	if err != nil {
		return nil, fmt.Errorf("archive: failed to read %s log: %w", category, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	compressed, rawSize, err := compressRecords(records)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(compressed)
	checksum := hex.EncodeToString(sum[:])

	now := time.Now().UTC()
	key := fmt.Sprintf("%s/%s/%s.jsonl.gz", category, now.Format("2006-01-02"), uuid.New().String())

	objectKey, err := a.client.Upload(ctx, key, compressed, "application/gzip")
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{
		Category:   string(category),
		ObjectKey:  objectKey,
		Entries:    len(records),
		SizeBytes:  len(compressed),
		Checksum:   checksum,
		ArchivedAt: now,
	}

	if a.auditLog != nil {
		_, err := a.auditLog.RecordBackupAccessed(ctx, "", a.fileStore.Path(string(category)), actionArchive, audit.Metadata{
			"objectKey": objectKey,
			"entries":   len(records),
			"sizeBytes": len(compressed),
			"rawBytes":  rawSize,
			"checksum":  checksum,
		})
		if err != nil {
			a.logger.Error("failed to record archival on access log", "category", category, "error", err)
		}
	}

	a.logger.Info("archived log segment",
		"category", category,
		"key", objectKey,
		"entries", len(records),
		"bytes", len(compressed),
	)

	return manifest, nil
}

// ArchiveAll archives every category, continuing past per-category
// failures. The first error encountered is returned after all categories
// have been attempted.
func (a *Archiver) ArchiveAll(ctx context.Context) ([]*Manifest, error) {
	var manifests []*Manifest
	var firstErr error
	for _, c := range audit.Categories() {
		m, err := a.ArchiveCategory(ctx, c)
		if err != nil {
			a.logger.Error("archival failed", "category", c, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if m != nil {
			manifests = append(manifests, m)
		}
	}
	return manifests, firstErr
}

// Start launches a background loop that archives all categories at the
// given interval until Stop is called or the context is canceled.
func (a *Archiver) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := a.ArchiveAll(ctx); err != nil {
					a.logger.Error("scheduled archival run failed", "error", err)
				}
			}
		}
	}()
}

// Stop terminates the background loop and waits for it to exit. Safe to
// call without a prior Start.
func (a *Archiver) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
}

func compressRecords(records []store.Record) ([]byte, int, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	rawSize := 0
	for _, rec := range records {
		if _, err := gz.Write(rec.Line); err != nil {
			return nil, 0, fmt.Errorf("archive: compression failed: %w", err)
		}
		if _, err := gz.Write([]byte{'\n'}); err != nil {
			return nil, 0, fmt.Errorf("archive: compression failed: %w", err)
		}
		rawSize += len(rec.Line) + 1
	}
	if err := gz.Close(); err != nil {
		return nil, 0, fmt.Errorf("archive: compression failed: %w", err)
	}
	return buf.Bytes(), rawSize, nil
}
