package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestGenesis(t *testing.T) {
	seen := make(map[string]Category)
	for _, c := range Categories() {
		g := Genesis(c)
		if len(g) != 64 {
			t.Errorf("Genesis(%s) length = %d, want 64", c, len(g))
		}
		if prev, ok := seen[g]; ok {
			t.Errorf("Genesis(%s) collides with Genesis(%s)", c, prev)
		}
		seen[g] = c

		// Stable across calls.
		if again := Genesis(c); again != g {
			t.Errorf("Genesis(%s) not stable: %s != %s", c, again, g)
		}
	}
}

func TestGenesisKnownValue(t *testing.T) {
	want := sha256.Sum256([]byte("numira-audit-genesis-v1:backup"))
	if got := Genesis(CategoryBackup); got != hex.EncodeToString(want[:]) {
		t.Errorf("Genesis(backup) = %s, want %s", got, hex.EncodeToString(want[:]))
	}
}

func TestNextHash(t *testing.T) {
	prev := Genesis(CategoryBackup)
	canonical := []byte(`{"actorId":null,"event":"BACKUP_CREATED","subject":{},"timestamp":"2026-01-02T03:04:05.000Z"}`)

	h := sha256.New()
	h.Write([]byte(prev))
	h.Write(canonical)
	want := hex.EncodeToString(h.Sum(nil))

	if got := NextHash(prev, canonical); got != want {
		t.Errorf("NextHash() = %s, want %s", got, want)
	}

	// Different previous hash must change the result.
	if NextHash(Genesis(CategoryRestore), canonical) == want {
		t.Error("NextHash() should depend on the previous hash")
	}

	// Different canonical bytes must change the result.
	if NextHash(prev, append(canonical[:len(canonical):len(canonical)], ' ')) == want {
		t.Error("NextHash() should depend on the canonical bytes")
	}
}

func TestCategoryEvent(t *testing.T) {
	tests := []struct {
		category Category
		event    string
	}{
		{CategoryBackup, EventBackupCreated},
		{CategoryRestore, EventBackupRestored},
		{CategoryAccess, EventBackupAccessed},
	}
	for _, tt := range tests {
		if got := tt.category.Event(); got != tt.event {
			t.Errorf("Category(%s).Event() = %s, want %s", tt.category, got, tt.event)
		}
	}
	if !CategoryBackup.Valid() {
		t.Error("backup should be a valid category")
	}
	if Category("syslog").Valid() {
		t.Error("unknown category should not be valid")
	}
}
