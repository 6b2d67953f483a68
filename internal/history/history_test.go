package history

import (
	"path/filepath"
	"testing"
	"time"
)

func TestRecordAndReadBackRecent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	base := time.Unix(1_700_000_000, 0).UTC()
	if err := store.RecordSession("sess-1", base, base.Add(10*time.Second), "COMPLETED", "/evidence/a.mp4", ""); err != nil {
		t.Fatalf("RecordSession() error = %v", err)
	}
	if err := store.RecordSession("sess-2", base.Add(time.Minute), base.Add(71*time.Second), "FAILED", "", "concat failed"); err != nil {
		t.Fatalf("RecordSession() error = %v", err)
	}

	entries, err := store.Recent(10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].ID != "sess-2" {
		t.Fatalf("entries[0].ID = %q, want sess-2 (newest first)", entries[0].ID)
	}
	if entries[0].Phase != "FAILED" || entries[0].Error != "concat failed" {
		t.Fatalf("entries[0] = %+v, want FAILED/concat failed", entries[0])
	}
}

func TestRecordSessionUpsertsOnRetry(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	base := time.Unix(1_700_000_000, 0).UTC()
	store.RecordSession("sess-1", base, base.Add(5*time.Second), "FAILED", "", "first attempt failed")
	store.RecordSession("sess-1", base, base.Add(20*time.Second), "COMPLETED", "/evidence/a.mp4", "")

	entries, err := store.Recent(10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1 (upsert, not duplicate)", len(entries))
	}
	if entries[0].Phase != "COMPLETED" {
		t.Fatalf("entries[0].Phase = %q, want COMPLETED after retry overwrite", entries[0].Phase)
	}
}

func TestRecentLimitsResults(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	base := time.Unix(1_700_000_000, 0).UTC()
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		store.RecordSession(id, base, base.Add(time.Duration(i)*time.Minute), "COMPLETED", "/x.mp4", "")
	}

	entries, err := store.Recent(2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
}
