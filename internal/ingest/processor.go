package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pwojcik/docrag/internal/chunk"
	"github.com/pwojcik/docrag/internal/index"
)

// DocumentStore is the registry surface the processor needs.
type DocumentStore interface {
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, chunkCount int) error
	MarkFailed(ctx context.Context, id string, cause error) error
	Get(ctx context.Context, id string) (*Document, error)
}

// Indexer is the retrieval-index surface the processor needs.
type Indexer interface {
	EnsureCollection(ctx context.Context, name string) error
	Add(ctx context.Context, collection string, items []index.Item) error
	DeleteDocument(ctx context.Context, collection, documentID string) (int64, error)
}

// Job is one ingestion request. Either Path points at a file on disk, or
// Text carries pre-fetched content (URL ingestion).
type Job struct {
	DocumentID string
	Collection string
	Filename   string
	Path       string
	Text       string
	RemoveFile bool
}

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("processor is closed")

// finalizeTimeout bounds the status update and partial-chunk discard that
// run after a job finishes, detached from the job's own context.
const finalizeTimeout = 10 * time.Second

// Processor runs ingestion jobs on a fixed worker pool. Each job is
// extracted, normalized, chunked, embedded, and indexed; the document record
// tracks progress. Jobs are independent, so concurrent ingestion of
// different documents into the same collection is safe.
type Processor struct {
	docs     DocumentStore
	idx      Indexer
	splitter *chunk.Splitter
	logger   *slog.Logger
	workers  int

	mu     sync.Mutex
	jobs   chan Job
	closed bool
	wg     sync.WaitGroup
}

// NewProcessor creates a Processor with the given worker count (minimum 1).
func NewProcessor(docs DocumentStore, idx Indexer, splitter *chunk.Splitter, workers int, logger *slog.Logger) *Processor {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		docs:     docs,
		idx:      idx,
		splitter: splitter,
		logger:   logger,
		workers:  workers,
		jobs:     make(chan Job, 64),
	}
}

// Start launches the worker pool. Workers exit when ctx is canceled or the
// processor is closed.
func (p *Processor) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-p.jobs:
					if !ok {
						return
					}
					p.process(ctx, job)
				}
			}
		}()
	}
	p.logger.Info("ingestion workers started", "workers", p.workers)
}

// Submit enqueues a job. It blocks when the queue is full.
func (p *Processor) Submit(job Job) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	ch := p.jobs
	p.mu.Unlock()

	ch <- job
	return nil
}

// Close stops accepting jobs, drains the queue, and waits for workers.
func (p *Processor) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Processor) process(ctx context.Context, job Job) {
	start := time.Now()
	logger := p.logger.With("document_id", job.DocumentID, "filename", job.Filename)

	if err := p.docs.MarkProcessing(ctx, job.DocumentID); err != nil {
		logger.Error("marking document processing", "error", err)
		return
	}

	count, err := p.ingest(ctx, job)
	if job.RemoveFile && job.Path != "" {
		if rmErr := os.Remove(job.Path); rmErr != nil {
			logger.Warn("removing ingested file", "error", rmErr)
		}
	}

	// Shutdown may cancel ctx mid-job; finalization still has to land so
	// the document reaches a terminal state and no partial chunk set stays
	// behind in the index.
	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err != nil {
		logger.Error("ingestion failed", "error", err)
		// Discard whatever partial chunk set made it into the index before
		// the failure. Retrieval must never see chunks of a failed document.
		if _, delErr := p.idx.DeleteDocument(finCtx, job.Collection, job.DocumentID); delErr != nil {
			logger.Error("discarding partial chunks", "error", delErr)
		}
		if failErr := p.docs.MarkFailed(finCtx, job.DocumentID, err); failErr != nil {
			logger.Error("marking document failed", "error", failErr)
		}
		return
	}

	if err := p.docs.MarkCompleted(finCtx, job.DocumentID, count); err != nil {
		logger.Error("marking document completed", "error", err)
		return
	}
	logger.Info("document ingested", "chunks", count, "duration", time.Since(start))
}

// ingest extracts, chunks, and indexes one document, returning the chunk
// count. Chunk indices are contiguous across the whole document even when
// the source format splits text into pages.
func (p *Processor) ingest(ctx context.Context, job Job) (int, error) {
	var pages []Page
	switch {
	case job.Text != "":
		pages = []Page{{Number: 0, Text: job.Text}}
	default:
		extractor, err := ExtractorFor(job.Filename)
		if err != nil {
			return 0, err
		}
		pages, err = extractor.Extract(ctx, job.Path)
		if err != nil {
			return 0, fmt.Errorf("extracting text: %w", err)
		}
	}

	var items []index.Item
	nextIndex := 0
	for _, page := range pages {
		normalized := chunk.Normalize(page.Text)
		chunks := p.splitter.Split(normalized, chunk.Provenance{
			DocumentID: job.DocumentID,
			Filename:   job.Filename,
			Page:       page.Number,
		})
		for _, c := range chunks {
			items = append(items, index.Item{
				Content: c.Content,
				Meta: index.Meta{
					DocumentID: c.DocumentID,
					ChunkIndex: nextIndex,
					Filename:   c.Filename,
					Page:       c.Page,
					Start:      c.Start,
					End:        c.End,
				},
			})
			nextIndex++
		}
	}
	if len(items) == 0 {
		return 0, ErrEmptyDocument
	}

	if err := p.idx.EnsureCollection(ctx, job.Collection); err != nil {
		return 0, err
	}
	if err := p.idx.Add(ctx, job.Collection, items); err != nil {
		return 0, fmt.Errorf("indexing chunks: %w", err)
	}
	return len(items), nil
}

// pollInterval is how often WaitUntilProcessed re-reads the document.
const pollInterval = 500 * time.Millisecond

// DefaultWaitTimeout bounds how long callers wait for ingestion to settle.
const DefaultWaitTimeout = 30 * time.Second

// WaitUntilProcessed polls the registry until the document reaches a
// terminal state or the timeout elapses. On timeout it returns the last
// observed document alongside a deadline error.
func WaitUntilProcessed(ctx context.Context, docs DocumentStore, id string, timeout time.Duration) (*Document, error) {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var last *Document
	for {
		doc, err := docs.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc.Status == StatusCompleted || doc.Status == StatusFailed {
			return doc, nil
		}
		last = doc

		select {
		case <-ctx.Done():
			return last, fmt.Errorf("waiting for document %q: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}
