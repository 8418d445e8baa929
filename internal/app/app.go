// Package app assembles docrag's components into a runnable application.
//
// Setup wires configuration, the database pool, Genkit, the retrieval index,
// the ingestion pipeline, and the answer engine together. Entry points in
// cmd/ call Setup once and work against the returned App.
package app

import (
	"context"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pwojcik/docrag/internal/api"
	"github.com/pwojcik/docrag/internal/config"
	"github.com/pwojcik/docrag/internal/index"
	"github.com/pwojcik/docrag/internal/ingest"
	"github.com/pwojcik/docrag/internal/rag"
)

// App is the application container. Fields are populated by Setup and
// remain valid until Close.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	Pool     *pgxpool.Pool

	Index     *index.Store
	Registry  *ingest.Registry
	Processor *ingest.Processor
	Watcher   *ingest.Watcher // nil unless watch_dir is configured
	Engine    *rag.Engine
	Flow      *rag.Flow
	Server    *api.Server

	otelCleanup func()
	cancel      context.CancelFunc
}

// Close releases all resources in reverse dependency order. Safe to call
// on a partially initialized App (Setup calls it on failure) and safe to
// call more than once.
func (a *App) Close() error {
	// Stop the job producer first, then drain the queue while the worker
	// context is still live. Canceling before the drain would abort jobs
	// mid-flight instead of letting them finish.
	if a.Watcher != nil {
		if err := a.Watcher.Close(); err != nil {
			a.Logger.Warn("closing watcher", "error", err)
		}
		a.Watcher = nil
	}

	if a.Processor != nil {
		a.Processor.Close()
		a.Processor = nil
	}

	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}

	if a.Pool != nil {
		a.Pool.Close()
		a.Pool = nil
	}

	if a.otelCleanup != nil {
		a.otelCleanup()
		a.otelCleanup = nil
	}

	if a.Logger != nil {
		a.Logger.Info("application shut down")
	}
	return nil
}
