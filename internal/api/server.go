// Package api exposes the document RAG service over HTTP: a JSON answer
// endpoint, an SSE streaming variant, and document/collection management.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pwojcik/docrag/internal/rag"
)

// ServerConfig carries the server's dependencies.
type ServerConfig struct {
	Logger    *slog.Logger
	Engine    Answerer          // Required
	Registry  DocumentRegistry  // Required
	Processor JobSubmitter      // Required
	Index     CollectionManager // Required
	Pool      *pgxpool.Pool     // Optional: nil disables DB check in /ready

	UploadDir         string
	DefaultCollection string
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if cfg.Registry == nil || cfg.Processor == nil || cfg.Index == nil {
		return nil, errors.New("registry, processor, and index are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultCollection == "" {
		cfg.DefaultCollection = rag.DefaultCollection
	}

	ch := &chatHandler{engine: cfg.Engine, logger: logger}
	dh := &documentHandler{
		registry:          cfg.Registry,
		processor:         cfg.Processor,
		index:             cfg.Index,
		uploadDir:         cfg.UploadDir,
		defaultCollection: cfg.DefaultCollection,
		logger:            logger,
	}
	colh := &collectionHandler{index: cfg.Index, registry: cfg.Registry, logger: logger}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/chat", ch.answer)
	mux.HandleFunc("POST /api/v1/chat/stream", ch.stream)

	mux.HandleFunc("POST /api/v1/documents", dh.upload)
	mux.HandleFunc("POST /api/v1/documents/url", dh.ingestURL)
	mux.HandleFunc("GET /api/v1/documents", dh.list)
	mux.HandleFunc("GET /api/v1/documents/{id}", dh.get)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", dh.delete)

	mux.HandleFunc("GET /api/v1/collections", colh.list)
	mux.HandleFunc("DELETE /api/v1/collections/{name}", colh.delete)

	var handler http.Handler = mux
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes stay outside the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
