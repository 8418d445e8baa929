package api

import (
	"context"

	"github.com/pwojcik/docrag/internal/index"
	"github.com/pwojcik/docrag/internal/ingest"
	"github.com/pwojcik/docrag/internal/rag"
)

// Answerer is the query surface the chat handlers need. Implemented by
// rag.Engine.
type Answerer interface {
	Answer(ctx context.Context, q rag.Query) (*rag.Result, error)
	Stream(ctx context.Context, q rag.Query, emit rag.EmitFunc) error
}

// DocumentRegistry is the registry surface the document handlers need.
// Implemented by ingest.Registry.
type DocumentRegistry interface {
	Create(ctx context.Context, doc *ingest.Document) error
	Get(ctx context.Context, id string) (*ingest.Document, error)
	List(ctx context.Context, collection string) ([]ingest.Document, error)
	Delete(ctx context.Context, id string) (*ingest.Document, error)
	DeleteCollection(ctx context.Context, collection string) (int64, error)
}

// JobSubmitter enqueues ingestion work. Implemented by ingest.Processor.
type JobSubmitter interface {
	Submit(job ingest.Job) error
}

// CollectionManager is the index surface the management handlers need.
// Implemented by index.Store.
type CollectionManager interface {
	Collections(ctx context.Context) ([]index.CollectionInfo, error)
	DeleteCollection(ctx context.Context, name string) error
	DeleteDocument(ctx context.Context, collection, documentID string) (int64, error)
}
