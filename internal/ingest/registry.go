package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// RegistryDB is the subset of pgxpool.Pool the registry needs.
type RegistryDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Registry tracks document lifecycle state in PostgreSQL.
type Registry struct {
	db     RegistryDB
	logger *slog.Logger
}

// NewRegistry creates a Registry. logger may be nil.
func NewRegistry(db RegistryDB, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{db: db, logger: logger}
}

// Create registers a new document in pending state. A UUID is assigned when
// doc.ID is empty.
func (r *Registry) Create(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.Status = StatusPending
	doc.CreatedAt = time.Now().UTC()

	_, err := r.db.Exec(ctx,
		`INSERT INTO documents (id, filename, collection, status, file_size, content_type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		doc.ID, doc.Filename, doc.Collection, doc.Status, doc.FileSize, doc.ContentType, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("registering document %q: %w", doc.Filename, err)
	}
	r.logger.Debug("registered document", "document_id", doc.ID, "filename", doc.Filename)
	return nil
}

// MarkProcessing transitions a document to processing.
func (r *Registry) MarkProcessing(ctx context.Context, id string) error {
	return r.setStatus(ctx, id,
		`UPDATE documents SET status = $2, error = '' WHERE id = $1`,
		StatusProcessing)
}

// MarkCompleted transitions a document to completed with its chunk count.
func (r *Registry) MarkCompleted(ctx context.Context, id string, chunkCount int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE documents
		 SET status = $2, chunk_count = $3, processed_at = now(), error = ''
		 WHERE id = $1`,
		id, StatusCompleted, chunkCount)
	if err != nil {
		return fmt.Errorf("completing document %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("completing document %q: %w", id, ErrNotFound)
	}
	return nil
}

// MarkFailed transitions a document to failed, recording the cause.
func (r *Registry) MarkFailed(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE documents SET status = $2, error = $3, processed_at = now() WHERE id = $1`,
		id, StatusFailed, msg)
	if err != nil {
		return fmt.Errorf("failing document %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failing document %q: %w", id, ErrNotFound)
	}
	return nil
}

func (r *Registry) setStatus(ctx context.Context, id, query string, status Status) error {
	tag, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("updating document %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating document %q: %w", id, ErrNotFound)
	}
	return nil
}

const documentColumns = `id, filename, collection, status, file_size, content_type, chunk_count, error, created_at, processed_at`

// Get returns one document by id.
func (r *Registry) Get(ctx context.Context, id string) (*Document, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading document %q: %w", id, err)
	}
	return doc, nil
}

// List returns documents, newest first. An empty collection matches all.
func (r *Registry) List(ctx context.Context, collection string) ([]Document, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+documentColumns+`
		 FROM documents
		 WHERE $1 = '' OR collection = $1
		 ORDER BY created_at DESC`, collection)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading document rows: %w", err)
	}
	return docs, nil
}

// Delete removes a document record and returns it, so the caller can also
// remove its chunks from the index.
func (r *Registry) Delete(ctx context.Context, id string) (*Document, error) {
	row := r.db.QueryRow(ctx,
		`DELETE FROM documents WHERE id = $1 RETURNING `+documentColumns, id)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("deleting document %q: %w", id, err)
	}
	r.logger.Debug("deleted document", "document_id", id)
	return doc, nil
}

// DeleteCollection removes every document record in a collection and
// returns how many were removed. Chunk cleanup is the index's job.
func (r *Registry) DeleteCollection(ctx context.Context, collection string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE collection = $1`, collection)
	if err != nil {
		return 0, fmt.Errorf("deleting documents of collection %q: %w", collection, err)
	}
	return tag.RowsAffected(), nil
}

func scanDocument(row pgx.Row) (*Document, error) {
	var doc Document
	err := row.Scan(&doc.ID, &doc.Filename, &doc.Collection, &doc.Status,
		&doc.FileSize, &doc.ContentType, &doc.ChunkCount, &doc.Error,
		&doc.CreatedAt, &doc.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}
