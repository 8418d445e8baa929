package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/pwojcik/docrag/internal/chunk"
	"github.com/pwojcik/docrag/internal/index"
	"github.com/pwojcik/docrag/internal/testutil"
)

// goleakOptions filters goroutines owned by the runtime and shared pools,
// not by the processor under test.
func goleakOptions() []goleak.Option {
	return []goleak.Option{
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	}
}

// fakeDocs is an in-memory DocumentStore.
type fakeDocs struct {
	mu   sync.Mutex
	docs map[string]*Document
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{docs: make(map[string]*Document)}
}

func (f *fakeDocs) Create(_ context.Context, doc *Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc.ID == "" {
		doc.ID = "doc-" + doc.Filename
	}
	doc.Status = StatusPending
	cp := *doc
	f.docs[doc.ID] = &cp
	return nil
}

func (f *fakeDocs) seed(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[id] = &Document{ID: id, Status: StatusPending}
}

func (f *fakeDocs) MarkProcessing(ctx context.Context, id string) error {
	return f.setStatus(ctx, id, StatusProcessing, 0, nil)
}

func (f *fakeDocs) MarkCompleted(ctx context.Context, id string, chunkCount int) error {
	return f.setStatus(ctx, id, StatusCompleted, chunkCount, nil)
}

func (f *fakeDocs) MarkFailed(ctx context.Context, id string, cause error) error {
	return f.setStatus(ctx, id, StatusFailed, 0, cause)
}

func (f *fakeDocs) setStatus(ctx context.Context, id string, s Status, count int, cause error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return ErrNotFound
	}
	doc.Status = s
	doc.ChunkCount = count
	if cause != nil {
		doc.Error = cause.Error()
	}
	return nil
}

func (f *fakeDocs) Get(_ context.Context, id string) (*Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

// fakeIndexer records Add calls and deletions.
type fakeIndexer struct {
	mu          sync.Mutex
	collections map[string]bool
	added       map[string][]index.Item // keyed by document id
	deleted     []string
	addErr      error
	onAdd       func() // runs inside Add, before the error check
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{
		collections: make(map[string]bool),
		added:       make(map[string][]index.Item),
	}
}

func (f *fakeIndexer) EnsureCollection(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[name] = true
	return nil
}

func (f *fakeIndexer) Add(_ context.Context, _ string, items []index.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onAdd != nil {
		f.onAdd()
	}
	if f.addErr != nil {
		return f.addErr
	}
	for _, it := range items {
		f.added[it.Meta.DocumentID] = append(f.added[it.Meta.DocumentID], it)
	}
	return nil
}

func (f *fakeIndexer) DeleteDocument(ctx context.Context, _, documentID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := int64(len(f.added[documentID]))
	delete(f.added, documentID)
	f.deleted = append(f.deleted, documentID)
	return n, nil
}

func (f *fakeIndexer) items(docID string) []index.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]index.Item(nil), f.added[docID]...)
}

func newTestProcessor(t *testing.T, docs *fakeDocs, idx *fakeIndexer) *Processor {
	t.Helper()
	splitter, err := chunk.NewSplitter(100, 20)
	if err != nil {
		t.Fatal(err)
	}
	return NewProcessor(docs, idx, splitter, 2, testutil.DiscardLogger())
}

func waitTerminal(t *testing.T, docs *fakeDocs, id string) *Document {
	t.Helper()
	doc, err := WaitUntilProcessed(context.Background(), docs, id, 5*time.Second)
	if err != nil {
		t.Fatalf("waiting for %s: %v", id, err)
	}
	return doc
}

func TestProcessorIngestsTextFile(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	docs := newFakeDocs()
	idx := newFakeIndexer()
	proc := newTestProcessor(t, docs, idx)

	path := filepath.Join(t.TempDir(), "notes.txt")
	text := strings.Repeat("Short sentences here. ", 20)
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		t.Fatal(err)
	}

	docs.seed("doc-1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc.Start(ctx)
	defer proc.Close()

	err := proc.Submit(Job{DocumentID: "doc-1", Collection: "notes", Filename: "notes.txt", Path: path})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	doc := waitTerminal(t, docs, "doc-1")
	if doc.Status != StatusCompleted {
		t.Fatalf("status = %s (error %q), want completed", doc.Status, doc.Error)
	}

	items := idx.items("doc-1")
	if len(items) == 0 {
		t.Fatal("no chunks indexed")
	}
	if doc.ChunkCount != len(items) {
		t.Errorf("chunk count = %d, indexed %d", doc.ChunkCount, len(items))
	}
	for i, it := range items {
		if it.Meta.ChunkIndex != i {
			t.Errorf("chunk %d has index %d, want contiguous", i, it.Meta.ChunkIndex)
		}
		if it.Meta.Filename != "notes.txt" {
			t.Errorf("chunk %d filename = %q", i, it.Meta.Filename)
		}
	}
	if !idx.collections["notes"] {
		t.Error("collection was not ensured")
	}
}

func TestProcessorIngestsRawText(t *testing.T) {
	docs := newFakeDocs()
	idx := newFakeIndexer()
	proc := newTestProcessor(t, docs, idx)

	docs.seed("doc-url")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc.Start(ctx)
	defer proc.Close()

	err := proc.Submit(Job{
		DocumentID: "doc-url",
		Collection: "web",
		Filename:   "example.com",
		Text:       "Readable article body with enough text to produce at least one chunk.",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	doc := waitTerminal(t, docs, "doc-url")
	if doc.Status != StatusCompleted {
		t.Fatalf("status = %s (error %q), want completed", doc.Status, doc.Error)
	}
	if doc.ChunkCount != 1 {
		t.Errorf("chunk count = %d, want 1", doc.ChunkCount)
	}
}

func TestProcessorFailsUnsupportedType(t *testing.T) {
	docs := newFakeDocs()
	idx := newFakeIndexer()
	proc := newTestProcessor(t, docs, idx)

	docs.seed("doc-bad")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc.Start(ctx)
	defer proc.Close()

	if err := proc.Submit(Job{DocumentID: "doc-bad", Collection: "c", Filename: "data.bin", Path: "/nonexistent"}); err != nil {
		t.Fatal(err)
	}

	doc := waitTerminal(t, docs, "doc-bad")
	if doc.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", doc.Status)
	}
	if !strings.Contains(doc.Error, "unsupported") {
		t.Errorf("error = %q, want unsupported type", doc.Error)
	}
}

func TestProcessorDiscardsChunksOnIndexFailure(t *testing.T) {
	docs := newFakeDocs()
	idx := newFakeIndexer()
	idx.addErr = errors.New("embedding service unavailable")
	proc := newTestProcessor(t, docs, idx)

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("Some content to chunk."), 0o600); err != nil {
		t.Fatal(err)
	}

	docs.seed("doc-2")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc.Start(ctx)
	defer proc.Close()

	if err := proc.Submit(Job{DocumentID: "doc-2", Collection: "c", Filename: "notes.txt", Path: path}); err != nil {
		t.Fatal(err)
	}

	doc := waitTerminal(t, docs, "doc-2")
	if doc.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", doc.Status)
	}

	idx.mu.Lock()
	deleted := append([]string(nil), idx.deleted...)
	idx.mu.Unlock()
	if len(deleted) != 1 || deleted[0] != "doc-2" {
		t.Errorf("partial chunks were not discarded: deleted = %v", deleted)
	}
	if got := idx.items("doc-2"); len(got) != 0 {
		t.Errorf("%d chunks survived a failed ingestion", len(got))
	}
}

func TestProcessorConcurrentDocumentsOneCollection(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	docs := newFakeDocs()
	idx := newFakeIndexer()
	proc := newTestProcessor(t, docs, idx)

	dir := t.TempDir()
	texts := map[string]string{
		"doc-a": strings.Repeat("Alpha document sentences go on. ", 30),
		"doc-b": strings.Repeat("Beta document keeps talking too. ", 30),
	}
	paths := make(map[string]string, len(texts))
	for id, text := range texts {
		path := filepath.Join(dir, id+".txt")
		if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
			t.Fatal(err)
		}
		paths[id] = path
		docs.seed(id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc.Start(ctx)
	defer proc.Close()

	// Both workers pick up a job at the same time.
	var wg sync.WaitGroup
	for id, path := range paths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := proc.Submit(Job{DocumentID: id, Collection: "shared", Filename: id + ".txt", Path: path})
			if err != nil {
				t.Errorf("Submit %s: %v", id, err)
			}
		}()
	}
	wg.Wait()

	for id := range texts {
		doc := waitTerminal(t, docs, id)
		if doc.Status != StatusCompleted {
			t.Fatalf("%s status = %s (error %q), want completed", id, doc.Status, doc.Error)
		}

		items := idx.items(id)
		if len(items) < 2 {
			t.Fatalf("%s indexed %d chunks, want several", id, len(items))
		}
		if doc.ChunkCount != len(items) {
			t.Errorf("%s chunk count = %d, indexed %d", id, doc.ChunkCount, len(items))
		}
		for i, it := range items {
			if it.Meta.DocumentID != id {
				t.Errorf("%s chunk %d tagged %q", id, i, it.Meta.DocumentID)
			}
			if it.Meta.ChunkIndex != i {
				t.Errorf("%s chunk %d has index %d, want contiguous", id, i, it.Meta.ChunkIndex)
			}
		}
	}
}

func TestProcessorFinalizesAfterShutdown(t *testing.T) {
	docs := newFakeDocs()
	idx := newFakeIndexer()
	// Shutdown lands while the job is indexing, and indexing itself fails.
	// The document must still end up failed with its partial chunks gone.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	idx.onAdd = cancel
	idx.addErr = errors.New("embedding service unavailable")
	proc := newTestProcessor(t, docs, idx)

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("Some content to chunk."), 0o600); err != nil {
		t.Fatal(err)
	}

	docs.seed("doc-5")
	proc.Start(ctx)
	defer proc.Close()

	if err := proc.Submit(Job{DocumentID: "doc-5", Collection: "c", Filename: "notes.txt", Path: path}); err != nil {
		t.Fatal(err)
	}

	doc := waitTerminal(t, docs, "doc-5")
	if doc.Status != StatusFailed {
		t.Fatalf("status = %s, want failed despite shutdown", doc.Status)
	}
	if got := idx.items("doc-5"); len(got) != 0 {
		t.Errorf("%d chunks survived a failed ingestion", len(got))
	}
}

func TestProcessorFailsEmptyDocument(t *testing.T) {
	docs := newFakeDocs()
	idx := newFakeIndexer()
	proc := newTestProcessor(t, docs, idx)

	path := filepath.Join(t.TempDir(), "blank.txt")
	if err := os.WriteFile(path, []byte("   \n\t  \n"), 0o600); err != nil {
		t.Fatal(err)
	}

	docs.seed("doc-3")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc.Start(ctx)
	defer proc.Close()

	if err := proc.Submit(Job{DocumentID: "doc-3", Collection: "c", Filename: "blank.txt", Path: path}); err != nil {
		t.Fatal(err)
	}

	doc := waitTerminal(t, docs, "doc-3")
	if doc.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", doc.Status)
	}
	if !strings.Contains(doc.Error, "no extractable text") {
		t.Errorf("error = %q, want empty document", doc.Error)
	}
}

func TestProcessorRemovesFileWhenAsked(t *testing.T) {
	docs := newFakeDocs()
	idx := newFakeIndexer()
	proc := newTestProcessor(t, docs, idx)

	path := filepath.Join(t.TempDir(), "upload.txt")
	if err := os.WriteFile(path, []byte("Uploaded content worth keeping around."), 0o600); err != nil {
		t.Fatal(err)
	}

	docs.seed("doc-4")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc.Start(ctx)
	defer proc.Close()

	if err := proc.Submit(Job{DocumentID: "doc-4", Collection: "c", Filename: "upload.txt", Path: path, RemoveFile: true}); err != nil {
		t.Fatal(err)
	}

	doc := waitTerminal(t, docs, "doc-4")
	if doc.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", doc.Status)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("uploaded file was not removed: %v", err)
	}
}

func TestSubmitAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	docs := newFakeDocs()
	idx := newFakeIndexer()
	proc := newTestProcessor(t, docs, idx)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc.Start(ctx)
	proc.Close()

	if err := proc.Submit(Job{DocumentID: "x"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after Close = %v, want ErrClosed", err)
	}
	// Close is idempotent.
	proc.Close()
}

func TestWaitUntilProcessedTimeout(t *testing.T) {
	docs := newFakeDocs()
	docs.seed("stuck")

	_, err := WaitUntilProcessed(context.Background(), docs, "stuck", 50*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}
