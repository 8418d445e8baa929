// Package index stores and retrieves document chunks by vector similarity.
//
// Chunks live in PostgreSQL with pgvector. Each chunk row carries the
// embedded content plus JSONB metadata (owning document, position, citation
// fields), namespaced by collection. The chunks table is also the durable
// chunk store: ingestion hands a document's full chunk set to Add in one
// call, and retrieval reads the same rows back with a similarity score.
//
// Ranking comes solely from the index: cosine distance, converted to a
// higher-is-better score as 1 - distance. No re-ranking, no deduplication.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// VectorDimension is the embedding width the chunks schema stores.
// Embedders must be configured to produce vectors of this size.
const VectorDimension = 768

// searchTimeout bounds a single vector search, embedding included.
const searchTimeout = 10 * time.Second

// ErrEmptyEmbedding is returned when the embedder responds without vectors.
var ErrEmptyEmbedding = errors.New("embedder returned no vectors")

// Meta is the provenance metadata stored alongside each chunk.
type Meta struct {
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	Filename   string `json:"filename"`
	Page       int    `json:"page,omitempty"`
	Start      int    `json:"start,omitempty"`
	End        int    `json:"end,omitempty"`
}

// Item is one chunk handed to Add. ID may be empty; a UUID is assigned at
// insertion time so concurrent ingestion of different documents into one
// collection can never collide.
type Item struct {
	ID      string
	Content string
	Meta    Meta
}

// Match is one retrieval result. Score = 1 - Distance, higher is better.
type Match struct {
	ID       string
	Content  string
	Meta     Meta
	Distance float32
	Score    float32
}

// CollectionInfo describes one collection for listings.
type CollectionInfo struct {
	Name     string            `json:"name"`
	Chunks   int64             `json:"chunks_count"`
	Metadata map[string]string `json:"metadata"`
}

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store is the retrieval index. Safe for concurrent use.
type Store struct {
	db       DB
	embedder ai.Embedder
	logger   *slog.Logger
}

// New creates a Store. logger may be nil.
func New(db DB, embedder ai.Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, embedder: embedder, logger: logger}
}

// EnsureCollection creates the named collection if it does not exist.
func (s *Store) EnsureCollection(ctx context.Context, name string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO collections (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return fmt.Errorf("ensuring collection %q: %w", name, err)
	}
	return nil
}

// Add embeds and inserts a batch of chunks into the collection. The whole
// batch is embedded in one request and inserted in one pgx batch; either
// every item lands or the error surfaces to the caller, which removes any
// partial rows via DeleteDocument.
func (s *Store) Add(ctx context.Context, collection string, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	docs := make([]*ai.Document, len(items))
	for i, it := range items {
		docs[i] = ai.DocumentFromText(it.Content, nil)
	}
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return fmt.Errorf("embedding %d chunks: %w", len(items), err)
	}
	if len(resp.Embeddings) != len(items) {
		return fmt.Errorf("%w: got %d vectors for %d chunks", ErrEmptyEmbedding, len(resp.Embeddings), len(items))
	}

	batch := &pgx.Batch{}
	for i, it := range items {
		id := it.ID
		if id == "" {
			id = uuid.NewString()
		}
		metaJSON, err := json.Marshal(it.Meta)
		if err != nil {
			return fmt.Errorf("marshaling chunk metadata: %w", err)
		}
		vec := pgvector.NewVector(resp.Embeddings[i].Embedding)
		batch.Queue(
			`INSERT INTO chunks (id, collection, document_id, content, embedding, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			id, collection, it.Meta.DocumentID, it.Content, vec, metaJSON)
	}

	results := s.db.SendBatch(ctx, batch)
	defer func() {
		if err := results.Close(); err != nil {
			s.logger.Warn("closing insert batch", "error", err)
		}
	}()
	for range items {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("inserting chunks into %q: %w", collection, err)
		}
	}

	s.logger.Debug("indexed chunks", "collection", collection, "count", len(items))
	return nil
}

// Search embeds the query and returns the k nearest chunks.
func (s *Store) Search(ctx context.Context, collection, query string, k int) ([]Match, error) {
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(query, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}

	return s.SearchByVector(ctx, collection, resp.Embeddings[0].Embedding, k)
}

// SearchByVector returns the k chunks nearest to vec in cosine distance,
// most similar first.
func (s *Store) SearchByVector(ctx context.Context, collection string, vec []float32, k int) ([]Match, error) {
	if k <= 0 {
		k = 5
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, content, metadata, embedding <=> $1 AS distance
		 FROM chunks
		 WHERE collection = $2
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		pgvector.NewVector(vec), collection, k)
	if err != nil {
		return nil, fmt.Errorf("searching collection %q: %w", collection, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m        Match
			metaJSON []byte
		)
		if err := rows.Scan(&m.ID, &m.Content, &metaJSON, &m.Distance); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		if err := json.Unmarshal(metaJSON, &m.Meta); err != nil {
			s.logger.Warn("unparseable chunk metadata", "chunk_id", m.ID, "error", err)
		}
		m.Score = 1 - m.Distance
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}

	s.logger.Debug("vector search", "collection", collection, "k", k, "matches", len(matches))
	return matches, nil
}

// Collections lists every collection with its chunk count.
func (s *Store) Collections(ctx context.Context) ([]CollectionInfo, error) {
	rows, err := s.db.Query(ctx,
		`SELECT c.name, c.metadata, count(ch.id)
		 FROM collections c
		 LEFT JOIN chunks ch ON ch.collection = c.name
		 GROUP BY c.name, c.metadata
		 ORDER BY c.name`)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer rows.Close()

	var infos []CollectionInfo
	for rows.Next() {
		var (
			info     CollectionInfo
			metaJSON []byte
		)
		if err := rows.Scan(&info.Name, &metaJSON, &info.Chunks); err != nil {
			return nil, fmt.Errorf("scanning collection row: %w", err)
		}
		if err := json.Unmarshal(metaJSON, &info.Metadata); err != nil || info.Metadata == nil {
			info.Metadata = map[string]string{}
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading collection rows: %w", err)
	}
	return infos, nil
}

// DeleteCollection removes a collection; its chunks go with it via the
// schema's ON DELETE CASCADE.
func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM collections WHERE name = $1`, name); err != nil {
		return fmt.Errorf("deleting collection %q: %w", name, err)
	}
	s.logger.Debug("deleted collection", "collection", name)
	return nil
}

// DeleteDocument removes one document's chunk set from a collection and
// returns the number of chunks removed. Used both for document deletion and
// for discarding partial chunk sets after a failed ingestion.
func (s *Store) DeleteDocument(ctx context.Context, collection, documentID string) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM chunks WHERE collection = $1 AND document_id = $2`,
		collection, documentID)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks of document %q: %w", documentID, err)
	}
	return tag.RowsAffected(), nil
}
