package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pwojcik/docrag/internal/testutil"
)

func TestWatcherIngestsDroppedFile(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping debounce-bound test in short mode")
	}

	docs := newFakeDocs()
	idx := newFakeIndexer()
	proc := newTestProcessor(t, docs, idx)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc.Start(ctx)
	defer proc.Close()

	dir := t.TempDir()
	w, err := NewWatcher(dir, "inbox", docs, proc, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()
	w.Start(ctx)

	path := filepath.Join(dir, "dropped.txt")
	if err := os.WriteFile(path, []byte("A file dropped into the watched directory."), 0o600); err != nil {
		t.Fatal(err)
	}
	// An unsupported file in the same directory is ignored.
	if err := os.WriteFile(filepath.Join(dir, "image.png"), []byte{0x89}, 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(10 * time.Second)
	for {
		docs.mu.Lock()
		var found *Document
		for _, d := range docs.docs {
			if d.Filename == "dropped.txt" {
				cp := *d
				found = &cp
			}
		}
		n := len(docs.docs)
		docs.mu.Unlock()

		if found != nil && found.Status == StatusCompleted {
			if found.Collection != "inbox" {
				t.Errorf("collection = %q, want inbox", found.Collection)
			}
			if n != 1 {
				t.Errorf("%d documents registered, want 1 (png must be ignored)", n)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("watched file never completed (state: %+v)", found)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func TestWatcherRejectsMissingDir(t *testing.T) {
	docs := newFakeDocs()
	proc := newTestProcessor(t, docs, newFakeIndexer())
	defer proc.Close()

	if _, err := NewWatcher("/nonexistent-dir-for-test", "c", docs, proc, testutil.DiscardLogger()); err == nil {
		t.Error("NewWatcher succeeded on a missing directory")
	}
}

func TestSupportedFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/in/a.txt", true},
		{"/in/a.PDF", true},
		{"/in/a.docx", true},
		{"/in/a.png", false},
		{"/in/.hidden", false},
	}
	for _, tt := range tests {
		if got := supportedFile(tt.path); got != tt.want {
			t.Errorf("supportedFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
