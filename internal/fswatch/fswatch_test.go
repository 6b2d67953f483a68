package fswatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFSNotifyWatcherReportsCreateThenClosedWrite(t *testing.T) {
	dir := t.TempDir()
	w := New(50 * time.Millisecond)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, err := w.Watch(ctx, dir)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	path := filepath.Join(dir, "clip_00000.ts")
	if err := os.WriteFile(path, []byte("segment-data"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	var sawCreated, sawClosed bool
	deadline := time.After(1500 * time.Millisecond)
	for !sawCreated || !sawClosed {
		select {
		case ev := <-events:
			if ev.Path != path {
				continue
			}
			switch ev.Kind {
			case Created:
				sawCreated = true
			case ClosedWrite:
				sawClosed = true
			}
		case <-deadline:
			t.Fatalf("timed out waiting for events, sawCreated=%v sawClosed=%v", sawCreated, sawClosed)
		}
	}
}

func TestKindString(t *testing.T) {
	if got := Created.String(); got != "created" {
		t.Errorf("Created.String() = %q, want created", got)
	}
	if got := ClosedWrite.String(); got != "closed-write" {
		t.Errorf("ClosedWrite.String() = %q, want closed-write", got)
	}
}
