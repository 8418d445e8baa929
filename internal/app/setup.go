package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/pwojcik/docrag/db"
	"github.com/pwojcik/docrag/internal/api"
	"github.com/pwojcik/docrag/internal/chunk"
	"github.com/pwojcik/docrag/internal/config"
	"github.com/pwojcik/docrag/internal/index"
	"github.com/pwojcik/docrag/internal/ingest"
	"github.com/pwojcik/docrag/internal/observability"
	"github.com/pwojcik/docrag/internal/rag"
)

// Setup creates and initializes the application. Returns an App with
// embedded cleanup; call Close to release everything. On setup failure the
// partially built App is torn down before the error is returned.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing registers with Genkit's TracerProvider, so it must run
	// before genkit.Init.
	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	g, embedder, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g
	a.Embedder = embedder

	a.Index = index.New(pool, embedder, logger)
	a.Registry = ingest.NewRegistry(pool, logger)

	splitter, err := chunk.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("configuring splitter: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	a.Processor = ingest.NewProcessor(a.Registry, a.Index, splitter, cfg.IngestWorkers, logger)
	a.Processor.Start(runCtx)

	if cfg.WatchDir != "" {
		watcher, err := ingest.NewWatcher(cfg.WatchDir, rag.DefaultCollection, a.Registry, a.Processor, logger)
		if err != nil {
			return nil, fmt.Errorf("starting directory watcher: %w", err)
		}
		watcher.Start(runCtx)
		a.Watcher = watcher
	}

	engine, err := rag.New(rag.Config{
		Genkit:          g,
		Retriever:       a.Index,
		Logger:          logger,
		ModelName:       cfg.FullModelName(),
		Temperature:     float64(cfg.Temperature),
		MaxAnswerTokens: cfg.MaxAnswerTokens,
		MaxSources:      cfg.MaxSources,
	})
	if err != nil {
		return nil, fmt.Errorf("creating answer engine: %w", err)
	}
	a.Engine = engine
	a.Flow = rag.NewFlow(g, engine)

	server, err := api.NewServer(api.ServerConfig{
		Logger:            logger,
		Engine:            engine,
		Registry:          a.Registry,
		Processor:         a.Processor,
		Index:             a.Index,
		Pool:              pool,
		UploadDir:         cfg.UploadDir,
		DefaultCollection: rag.DefaultCollection,
	})
	if err != nil {
		return nil, fmt.Errorf("creating api server: %w", err)
	}
	a.Server = server

	return a, nil
}

// provideOtelShutdown sets up OTLP tracing when enabled. Returns a teardown
// function that flushes pending spans with a bounded timeout.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	if !cfg.Tracing.Enabled {
		return func() {}
	}

	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Environment: cfg.Tracing.Environment,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		logger.Warn("tracing setup failed, continuing without it", "error", err)
		return func() {}
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
// Every connection registers the pgvector types so []float32 embeddings
// scan without manual conversion.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the configured AI provider and
// resolves the embedder. Supports gemini (default) and ollama.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, ai.Embedder, error) {
	var (
		g        *genkit.Genkit
		embedder ai.Embedder
	)

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery).
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		embedder = ollama.Embedder(g, cfg.OllamaHost)
		logger.Info("initialized genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, nil, errors.New("initializing genkit with gemini provider")
		}
		embedder = googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
		logger.Info("initialized genkit with gemini provider", "model", cfg.ModelName)
	}

	if embedder == nil {
		return nil, nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}

	return g, embedder, nil
}
