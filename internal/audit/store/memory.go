package store

import "sync"

// MemoryStore is an in-memory LogStore for tests and embedded use. It obeys
// the same contract as FileStore minus durability.
type MemoryStore struct {
	mu    sync.RWMutex
	lines map[string][][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lines: make(map[string][][]byte)}
}

// Initialize creates the category's log if absent. Idempotent.
func (ms *MemoryStore) Initialize(category string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.lines[category]; !ok {
		ms.lines[category] = [][]byte{}
	}
	return nil
}

// Append stores one record line in append order.
func (ms *MemoryStore) Append(category string, line []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	cp := make([]byte, len(line))
	copy(cp, line)
	ms.lines[category] = append(ms.lines[category], cp)
	return nil
}

// ReadAll returns the category's records in append order.
func (ms *MemoryStore) ReadAll(category string) ([]Record, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	records := []Record{}
	for i, line := range ms.lines[category] {
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, Record{Position: i + 1, Line: cp})
	}
	return records, nil
}

// Close is a no-op.
func (ms *MemoryStore) Close() error { return nil }
