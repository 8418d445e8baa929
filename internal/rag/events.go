package rag

import "context"

// EventType identifies one streaming event in the answer protocol.
type EventType string

const (
	// EventSearching opens every stream, before retrieval runs.
	EventSearching EventType = "searching"

	// EventSources carries the citation list, in context order.
	EventSources EventType = "sources"

	// EventGenerating marks the start of answer generation.
	EventGenerating EventType = "generating"

	// EventToken carries one generated text fragment, in generator order.
	EventToken EventType = "token"

	// EventAnswer is the terminal event for the empty-retrieval path. It
	// carries the full fallback text and closes the stream.
	EventAnswer EventType = "answer"

	// EventDone closes a successful stream after the last token.
	EventDone EventType = "done"

	// EventError closes a failed stream. Nothing follows it.
	EventError EventType = "error"
)

// Event is one element of the streaming answer protocol. A stream is a
// finite ordered sequence ending in exactly one of done, error, or the
// terminal answer event.
type Event struct {
	Type    EventType `json:"type"`
	Token   string    `json:"token,omitempty"`
	Answer  string    `json:"answer,omitempty"`
	Sources []Source  `json:"sources,omitempty"`
	Error   string    `json:"error,omitempty"`
	Done    bool      `json:"done,omitempty"`
}

// EmitFunc receives stream events in order. Returning an error aborts the
// stream; the engine stops consuming generator fragments and returns the
// error to its caller.
type EmitFunc func(ctx context.Context, ev Event) error
