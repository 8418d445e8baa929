package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pwojcik/docrag/internal/rag"
)

// maxChatBody bounds chat request bodies.
const maxChatBody = 1 << 20 // 1 MB

// chatRequest is the request body for both chat endpoints.
type chatRequest struct {
	Question    string   `json:"question"`
	Collection  string   `json:"collection,omitempty"`
	MaxSources  int      `json:"max_sources,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

func (req chatRequest) query() rag.Query {
	return rag.Query{
		Question:    req.Question,
		Collection:  req.Collection,
		MaxSources:  req.MaxSources,
		Temperature: req.Temperature,
	}
}

type chatHandler struct {
	engine Answerer
	logger *slog.Logger
}

// answer handles the non-streaming question endpoint.
func (h *chatHandler) answer(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.engine.Answer(r.Context(), req.query())
	if err != nil {
		if errors.Is(err, rag.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, "question is required")
			return
		}
		h.logger.Error("answering question", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// stream handles the SSE streaming endpoint. Each engine event becomes one
// SSE event whose name is the event type and whose data is the event JSON.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// Reject before SSE headers go out; afterwards a 400 is no longer
	// possible on the wire.
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()
	err := h.engine.Stream(ctx, req.query(), func(_ context.Context, ev rag.Event) error {
		// The client's disconnect cancels the request context; stop
		// consuming generator output instead of writing into the void.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return writeSSE(w, flusher, string(ev.Type), ev)
	})
	if err != nil {
		// Emit-side failures mean the consumer is gone; there is nobody
		// left to send an error event to.
		h.logger.Debug("stream ended early", "error", err)
	}
}

// writeSSE writes one SSE event: "event: <type>\ndata: <json>\n\n".
func writeSSE[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	flusher.Flush()
	return nil
}
