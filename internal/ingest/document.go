// Package ingest turns uploaded files, watched directories, and URLs into
// indexed chunks.
//
// The lifecycle of a document is: registered (pending), picked up by a
// processor worker (processing), then either completed with a chunk count or
// failed with an error message. A failed ingestion leaves no chunks behind;
// any partial set written before the failure is discarded.
package ingest

import (
	"errors"
	"time"
)

// Status is a document's ingestion state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Document is the registry record for one ingested source.
type Document struct {
	ID          string     `json:"id"`
	Filename    string     `json:"filename"`
	Collection  string     `json:"collection"`
	Status      Status     `json:"status"`
	FileSize    int64      `json:"file_size"`
	ContentType string     `json:"content_type"`
	ChunkCount  int        `json:"chunk_count"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

var (
	// ErrNotFound is returned when a document id is not registered.
	ErrNotFound = errors.New("document not found")

	// ErrUnsupportedType is returned for file types no extractor handles.
	ErrUnsupportedType = errors.New("unsupported document type")

	// ErrEmptyDocument is returned when extraction yields no usable text.
	ErrEmptyDocument = errors.New("document contains no extractable text")
)
