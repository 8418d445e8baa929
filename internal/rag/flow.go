package rag

import (
	"context"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/core"
	"github.com/firebase/genkit/go/genkit"
)

// FlowName is the registered name of the answer flow in Genkit.
const FlowName = "docrag/answer"

// Input is the request payload for the answer flow.
type Input struct {
	Question    string   `json:"question"`
	Collection  string   `json:"collection,omitempty"`
	MaxSources  int      `json:"maxSources,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// Flow is the Genkit streaming flow type for answering. Exposed for use
// with genkit.Handler in the API layer.
type Flow = core.Flow[Input, Result, Event]

// genkit.DefineStreamingFlow panics on re-registration, so the flow is a
// package singleton.
var (
	flowOnce sync.Once
	flow     *Flow
)

// NewFlow returns the answer flow singleton, defining it on first call.
func NewFlow(g *genkit.Genkit, engine *Engine) *Flow {
	flowOnce.Do(func() {
		flow = defineFlow(g, engine)
	})
	return flow
}

// ResetFlowForTesting clears the singleton so tests can register flows on
// fresh Genkit instances. Not safe for concurrent use.
func ResetFlowForTesting() {
	flowOnce = sync.Once{}
	flow = nil
}

// defineFlow registers the streaming answer flow. Invoked without a stream
// callback it runs the single-shot path; with one, it streams events and
// assembles the final Result from them.
func defineFlow(g *genkit.Genkit, engine *Engine) *Flow {
	return genkit.DefineStreamingFlow(g, FlowName,
		func(ctx context.Context, input Input, streamCb func(context.Context, Event) error) (Result, error) {
			q := Query{
				Question:    input.Question,
				Collection:  input.Collection,
				MaxSources:  input.MaxSources,
				Temperature: input.Temperature,
			}

			if streamCb == nil {
				result, err := engine.Answer(ctx, q)
				if err != nil {
					return Result{}, err
				}
				return *result, nil
			}

			var (
				sb      strings.Builder
				result  Result
				failure string
			)
			err := engine.Stream(ctx, q, func(ctx context.Context, ev Event) error {
				switch ev.Type {
				case EventSources:
					result.Sources = ev.Sources
					result.ChunksUsed = len(ev.Sources)
				case EventToken:
					sb.WriteString(ev.Token)
				case EventAnswer:
					sb.WriteString(ev.Answer)
				case EventError:
					failure = ev.Error
				}
				return streamCb(ctx, ev)
			})
			if err != nil {
				return Result{}, err
			}
			result.Answer = sb.String()
			result.ModelInfo = failure
			if failure == "" {
				result.ModelInfo = engine.modelName
			}
			if result.Sources == nil {
				result.Sources = []Source{}
			}
			return result, nil
		})
}
