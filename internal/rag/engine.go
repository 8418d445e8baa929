// Package rag orchestrates retrieval-augmented answering: retrieve relevant
// chunks, assemble them into a prompt, and generate an answer, either in one
// shot or as an ordered event stream.
//
// The engine is the error boundary for the query path. Collaborator
// failures (retrieval, embedding, generation) never escape as errors; they
// come back as a well-formed result whose answer states that something went
// wrong, or as a single terminal error event on the streaming path. Only
// precondition violations (an empty question) surface synchronously.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/pwojcik/docrag/internal/index"
)

// FallbackAnswer is returned when retrieval finds nothing. This path never
// invokes the model.
const FallbackAnswer = "No relevant documents found in this collection. Upload and process documents before asking questions."

// errorAnswer is the user-facing text for collaborator failures. The error
// detail goes into the result's ModelInfo.
const errorAnswer = "An error occurred while generating the answer. Please try again."

// Sentinel errors for precondition violations.
var (
	ErrEmptyQuery = errors.New("empty query")
	ErrNoModel    = errors.New("no model configured")
)

// DefaultCollection is used when a query names no collection.
const DefaultCollection = "default"

// Retriever finds the chunks most similar to a query. Implemented by
// index.Store.
type Retriever interface {
	Search(ctx context.Context, collection, query string, k int) ([]index.Match, error)
}

// Query is one answering request.
type Query struct {
	Question   string
	Collection string

	// MaxSources overrides the engine default when positive.
	MaxSources int

	// Temperature overrides the engine default when non-nil.
	Temperature *float64
}

// Result is the complete outcome of a non-streaming query. It is always
// well formed, including on the fallback and failure paths.
type Result struct {
	Answer         string   `json:"answer"`
	Sources        []Source `json:"sources"`
	ModelInfo      string   `json:"model_info"`
	ChunksUsed     int      `json:"chunks_used"`
	ProcessingTime float64  `json:"processing_time"`
	TokensUsed     int      `json:"tokens_used"`
}

// Config carries the engine's dependencies and defaults.
type Config struct {
	Genkit    *genkit.Genkit
	Retriever Retriever
	Logger    *slog.Logger

	ModelName       string
	Temperature     float64
	MaxAnswerTokens int
	MaxSources      int

	Retry       RetryConfig
	RateLimiter *rate.Limiter // Optional: nil gets the default limiter
}

// Engine answers questions over indexed document collections. All
// configuration is captured at construction; the engine is safe for
// concurrent use and holds no per-query state.
type Engine struct {
	g         *genkit.Genkit
	retriever Retriever
	logger    *slog.Logger

	modelName   string
	temperature float64
	maxTokens   int
	maxSources  int

	retry   RetryConfig
	limiter *rate.Limiter
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Genkit == nil {
		return nil, errors.New("genkit instance is required")
	}
	if cfg.Retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if cfg.ModelName == "" {
		return nil, ErrNoModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxAnswerTokens <= 0 {
		cfg.MaxAnswerTokens = 300
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = 5
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.RateLimiter == nil {
		// 10 requests/sec sustained, burst of 30.
		cfg.RateLimiter = rate.NewLimiter(10, 30)
	}

	return &Engine{
		g:           cfg.Genkit,
		retriever:   cfg.Retriever,
		logger:      cfg.Logger,
		modelName:   cfg.ModelName,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxAnswerTokens,
		maxSources:  cfg.MaxSources,
		retry:       cfg.Retry,
		limiter:     cfg.RateLimiter,
	}, nil
}

// Answer runs the full non-streaming query path: retrieve, assemble,
// generate. The returned result is well formed on every path; the error is
// non-nil only for precondition violations, before any external call.
func (e *Engine) Answer(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()
	if strings.TrimSpace(q.Question) == "" {
		return nil, ErrEmptyQuery
	}
	collection, k, temp := e.resolve(q)

	matches, err := e.retriever.Search(ctx, collection, q.Question, k)
	if err != nil {
		e.logger.Error("retrieval failed", "collection", collection, "error", err)
		return e.errorResult(err, start), nil
	}
	if len(matches) == 0 {
		e.logger.Debug("no chunks retrieved", "collection", collection)
		return &Result{
			Answer:         FallbackAnswer,
			Sources:        []Source{},
			ModelInfo:      e.modelName,
			ProcessingTime: time.Since(start).Seconds(),
		}, nil
	}

	sources := BuildSources(matches)
	messages := BuildMessages(BuildContext(matches), q.Question)

	resp, err := e.generateWithRetry(ctx, e.generateOpts(messages, temp, nil), nil)
	if err != nil {
		e.logger.Error("generation failed", "collection", collection, "error", err)
		return e.errorResult(err, start), nil
	}

	result := &Result{
		Answer:         resp.Text(),
		Sources:        sources,
		ModelInfo:      e.modelName,
		ChunksUsed:     len(matches),
		ProcessingTime: time.Since(start).Seconds(),
	}
	if resp.Usage != nil {
		result.TokensUsed = resp.Usage.TotalTokens
	}
	e.logger.Info("answered query",
		"collection", collection, "sources", len(sources),
		"tokens", result.TokensUsed, "duration", time.Since(start))
	return result, nil
}

// Stream runs the streaming query path, delivering the event protocol to
// emit in order: searching, sources, generating, one token per generated
// fragment, then done. Empty retrieval short-circuits to a single terminal
// answer event after searching. Collaborator failures become one terminal
// error event. An error returned by emit aborts the stream and is returned
// as-is.
func (e *Engine) Stream(ctx context.Context, q Query, emit EmitFunc) error {
	if strings.TrimSpace(q.Question) == "" {
		return ErrEmptyQuery
	}
	collection, k, temp := e.resolve(q)

	if err := emit(ctx, Event{Type: EventSearching}); err != nil {
		return err
	}

	matches, err := e.retriever.Search(ctx, collection, q.Question, k)
	if err != nil {
		e.logger.Error("retrieval failed", "collection", collection, "error", err)
		return emit(ctx, Event{Type: EventError, Error: err.Error()})
	}
	if len(matches) == 0 {
		return emit(ctx, Event{Type: EventAnswer, Answer: FallbackAnswer, Done: true})
	}

	if err := emit(ctx, Event{Type: EventSources, Sources: BuildSources(matches)}); err != nil {
		return err
	}
	if err := emit(ctx, Event{Type: EventGenerating}); err != nil {
		return err
	}

	// Once a token has reached the consumer a retried generation would
	// replay fragments, so retries are only allowed before the first token.
	var streamed atomic.Bool
	cb := func(cbCtx context.Context, chunk *ai.ModelResponseChunk) error {
		for _, part := range chunk.Content {
			if part.Text == "" {
				continue
			}
			streamed.Store(true)
			if err := emit(cbCtx, Event{Type: EventToken, Token: part.Text}); err != nil {
				return &consumerGone{err: err}
			}
		}
		return nil
	}

	messages := BuildMessages(BuildContext(matches), q.Question)
	_, err = e.generateWithRetry(ctx, e.generateOpts(messages, temp, cb),
		func() bool { return !streamed.Load() })
	if err != nil {
		var gone *consumerGone
		if errors.As(err, &gone) {
			return gone.err
		}
		e.logger.Error("generation failed mid-stream", "collection", collection, "error", err)
		return emit(ctx, Event{Type: EventError, Error: err.Error()})
	}

	return emit(ctx, Event{Type: EventDone, Done: true})
}

// resolve applies engine defaults to a query.
func (e *Engine) resolve(q Query) (collection string, k int, temp float64) {
	collection = q.Collection
	if collection == "" {
		collection = DefaultCollection
	}
	k = q.MaxSources
	if k <= 0 {
		k = e.maxSources
	}
	temp = e.temperature
	if q.Temperature != nil {
		temp = *q.Temperature
	}
	return collection, k, temp
}

func (e *Engine) generateOpts(messages []*ai.Message, temp float64, cb ai.ModelStreamCallback) []ai.GenerateOption {
	t := float32(temp)
	opts := []ai.GenerateOption{
		ai.WithMessages(messages...),
		ai.WithModelName(e.modelName),
		ai.WithConfig(&genai.GenerateContentConfig{
			Temperature:     &t,
			MaxOutputTokens: int32(e.maxTokens),
		}),
	}
	if cb != nil {
		opts = append(opts, ai.WithStreaming(cb))
	}
	return opts
}

func (e *Engine) errorResult(cause error, start time.Time) *Result {
	return &Result{
		Answer:         errorAnswer,
		Sources:        []Source{},
		ModelInfo:      fmt.Sprintf("error: %v", cause),
		ProcessingTime: time.Since(start).Seconds(),
	}
}

// consumerGone wraps an emit error so it can be told apart from generator
// failures after passing through the generation stack.
type consumerGone struct {
	err error
}

func (c *consumerGone) Error() string { return fmt.Sprintf("stream consumer: %v", c.err) }
func (c *consumerGone) Unwrap() error { return c.err }
