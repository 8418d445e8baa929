package testutil

import (
	"context"
	"crypto/sha256"
	"math"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// NewGenkit initializes a bare Genkit instance for registering mocks.
func NewGenkit(ctx context.Context) *genkit.Genkit {
	return genkit.Init(ctx)
}

// MockCall records one generation request seen by MockModel.
type MockCall struct {
	Messages []*ai.Message
	UserText string
	Config   any
}

type mockRule struct {
	pattern   string
	fragments []string
}

// MockModel is a scriptable Genkit model. Responses are emitted as a
// sequence of fragments so tests can observe streaming order; the full
// response text is the fragment concatenation.
//
// Rules match case-insensitive substrings of the last user message, first
// match wins, with a configurable fallback script. FailAfter injects an
// error mid-stream after the given number of fragments.
//
// Safe for concurrent use.
type MockModel struct {
	mu        sync.Mutex
	rules     []mockRule
	fallback  []string
	failAfter int
	failTimes int
	failErr   error
	calls     []MockCall
}

// NewMockModel creates a mock whose default response streams the given
// fragments.
func NewMockModel(fallback ...string) *MockModel {
	return &MockModel{fallback: fallback, failAfter: -1}
}

// AddResponse registers fragments to stream when the last user message
// contains pattern.
func (m *MockModel) AddResponse(pattern string, fragments ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{pattern: strings.ToLower(pattern), fragments: fragments})
}

// FailAfter makes every generation return err after streaming n fragments.
// n = 0 fails before any output.
func (m *MockModel) FailAfter(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	m.failErr = err
}

// FailTimes makes the next n generations fail outright with err before any
// output, then recover. Used to exercise retry behavior.
func (m *MockModel) FailTimes(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTimes = n
	m.failErr = err
}

// Calls returns a copy of all recorded generation requests.
func (m *MockModel) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]MockCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// Register defines the mock as the Genkit model "mock/chat".
func (m *MockModel) Register(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, "mock/chat", &ai.ModelOptions{
		Label: "Mock Chat Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			SystemRole: true,
		},
	}, m.generate)
}

func (m *MockModel) generate(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	var userText string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == ai.RoleUser {
			userText = req.Messages[i].Text()
			break
		}
	}

	m.mu.Lock()
	fragments := m.fallback
	lower := strings.ToLower(userText)
	for _, r := range m.rules {
		if strings.Contains(lower, r.pattern) {
			fragments = r.fragments
			break
		}
	}
	failAfter, failErr := m.failAfter, m.failErr
	failNow := m.failTimes > 0
	if failNow {
		m.failTimes--
	}
	m.calls = append(m.calls, MockCall{Messages: req.Messages, UserText: userText, Config: req.Config})
	m.mu.Unlock()

	if failNow {
		return nil, failErr
	}

	var sb strings.Builder
	for i, frag := range fragments {
		if failAfter >= 0 && i >= failAfter {
			return nil, failErr
		}
		sb.WriteString(frag)
		if cb != nil {
			if err := cb(ctx, &ai.ModelResponseChunk{
				Content: []*ai.Part{ai.NewTextPart(frag)},
			}); err != nil {
				return nil, err
			}
		}
	}
	if failAfter >= 0 && failAfter >= len(fragments) {
		return nil, failErr
	}

	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: []*ai.Part{ai.NewTextPart(sb.String())},
		},
	}, nil
}

// MockEmbedder produces deterministic vectors: the same text always embeds
// to the same unit vector, derived from its SHA-256 hash. SetVector pins an
// exact vector for a text when a test needs precise similarity control.
//
// Safe for concurrent use.
type MockEmbedder struct {
	mu      sync.Mutex
	pinned  map[string][]float32
	dim     int
	err     error
	queries []string
}

// NewMockEmbedder creates a mock embedder producing vectors of width dim.
func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{pinned: make(map[string][]float32), dim: dim}
}

// SetVector pins the vector returned for exactly matching text.
func (e *MockEmbedder) SetVector(text string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pinned[text] = vec
}

// Fail makes every Embed call return err until called with nil.
func (e *MockEmbedder) Fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Queries returns the text of every embedded input, in call order.
func (e *MockEmbedder) Queries() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]string, len(e.queries))
	copy(cp, e.queries)
	return cp
}

// Register defines the mock as the Genkit embedder "mock/embedder".
func (e *MockEmbedder) Register(g *genkit.Genkit) ai.Embedder {
	return genkit.DefineEmbedder(g, "mock/embedder", &ai.EmbedderOptions{
		Label:      "Mock Embedder",
		Dimensions: e.dim,
	}, e.embed)
}

func (e *MockEmbedder) embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}

	embeddings := make([]*ai.Embedding, len(req.Input))
	for i, doc := range req.Input {
		text := documentText(doc)
		e.queries = append(e.queries, text)
		vec, ok := e.pinned[text]
		if !ok {
			vec = hashVector(text, e.dim)
		}
		embeddings[i] = &ai.Embedding{Embedding: vec}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

func documentText(doc *ai.Document) string {
	var sb strings.Builder
	for _, p := range doc.Content {
		if p.Kind == ai.PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// hashVector derives a unit-length vector from the SHA-256 of text.
func hashVector(text string, dim int) []float32 {
	hash := sha256.Sum256([]byte(text))
	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		b := hash[i%len(hash)]
		v := float64(b)/127.5 - 1 // [-1, 1]
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
