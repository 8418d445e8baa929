package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DocumentCreator is the registry surface the watcher needs.
type DocumentCreator interface {
	Create(ctx context.Context, doc *Document) error
}

// debounceDelay is how long the watcher waits after the last write event
// before ingesting a file. Editors and copies produce bursts of writes;
// ingesting mid-copy would read a truncated file.
const debounceDelay = 2 * time.Second

// Watcher monitors a directory and ingests supported files dropped into it.
// Files go into the collection the watcher was configured with.
type Watcher struct {
	dir        string
	collection string
	docs       DocumentCreator
	proc       *Processor
	logger     *slog.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher creates a Watcher for dir. The directory must exist.
func NewWatcher(dir, collection string, docs DocumentCreator, proc *Processor, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	return &Watcher{
		dir:        dir,
		collection: collection,
		docs:       docs,
		proc:       proc,
		logger:     logger,
		fsw:        fsw,
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}, nil
}

// Start begins watching. It returns immediately; events are handled on a
// background goroutine until ctx is canceled or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case event, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
					continue
				}
				if !supportedFile(event.Name) {
					continue
				}
				w.schedule(ctx, event.Name)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("file watcher error", "error", err)
			}
		}
	}()
	w.logger.Info("watching directory", "dir", w.dir, "collection", w.collection)
}

// schedule (re)arms the debounce timer for a path. The file is ingested
// once events stop arriving for debounceDelay.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Reset(debounceDelay)
		return
	}
	w.pending[path] = time.AfterFunc(debounceDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}
		w.ingestFile(ctx, path)
	})
}

func (w *Watcher) ingestFile(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	doc := &Document{
		Filename:    filepath.Base(path),
		Collection:  w.collection,
		FileSize:    info.Size(),
		ContentType: contentTypeFor(path),
	}
	if err := w.docs.Create(ctx, doc); err != nil {
		w.logger.Error("registering watched file", "path", path, "error", err)
		return
	}

	err = w.proc.Submit(Job{
		DocumentID: doc.ID,
		Collection: w.collection,
		Filename:   doc.Filename,
		Path:       path,
	})
	if err != nil {
		w.logger.Error("submitting watched file", "path", path, "error", err)
		return
	}
	w.logger.Info("picked up watched file", "path", path, "document_id", doc.ID)
}

// Close stops the watcher and waits for the event goroutine. Pending
// debounce timers are canceled.
func (w *Watcher) Close() error {
	close(w.done)

	w.mu.Lock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func supportedFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions() {
		if ext == e {
			return true
		}
	}
	return false
}

// contentTypeFor maps a filename to a MIME type for the document record.
func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		return "text/plain"
	case ".md", ".markdown":
		return "text/markdown"
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}
