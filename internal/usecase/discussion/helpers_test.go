package discussion

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DanielMax937/round-table-sub000/internal/adapter/store/sqlite"
	"github.com/DanielMax937/round-table-sub000/internal/adapter/tool"
	"github.com/DanielMax937/round-table-sub000/internal/domain"
	"github.com/DanielMax937/round-table-sub000/internal/infra/config"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// scriptedLLM answers each ChatStream call with the deltas returned by
// respond. Requests are recorded for inspection.
type scriptedLLM struct {
	mu       sync.Mutex
	requests []domain.ChatRequest
	respond  func(call int, req domain.ChatRequest) ([]domain.StreamDelta, error)
}

func (s *scriptedLLM) Name() string { return "scripted" }

func (s *scriptedLLM) Chat(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	panic("Chat not used")
}

func (s *scriptedLLM) ChatStream(_ context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	s.mu.Lock()
	call := len(s.requests)
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	deltas, err := s.respond(call, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan domain.StreamDelta, len(deltas))
	for _, d := range deltas {
		ch <- d
	}
	close(ch)
	return ch, nil
}

func (s *scriptedLLM) calls() []domain.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChatRequest(nil), s.requests...)
}

// echoLLM replies "<agent name> says hi" split into two chunks, where the
// agent name is read from the system prompt.
func echoLLM() *scriptedLLM {
	return &scriptedLLM{respond: func(_ int, req domain.ChatRequest) ([]domain.StreamDelta, error) {
		name := agentNameFromPrompt(req.Messages[0].Content)
		return []domain.StreamDelta{{Content: name}, {Content: " says hi"}, {Done: true}}, nil
	}}
}

func agentNameFromPrompt(prompt string) string {
	for _, name := range []string{"Ada", "Brook", "Cyd"} {
		if strings.Contains(prompt, "You are "+name+",") {
			return name
		}
	}
	return "?"
}

func toolCallDelta(id, name, args string) domain.StreamDelta {
	return domain.StreamDelta{ToolCalls: []domain.ToolCall{{ID: id, Name: name, Arguments: json.RawMessage(args)}}}
}

// fakeSearchTool returns canned content and a WebSearchCall record.
type fakeSearchTool struct {
	mu      sync.Mutex
	queries []string
	results []domain.SearchResult
}

func (f *fakeSearchTool) Name() string        { return "web_search" }
func (f *fakeSearchTool) Description() string { return "fake search" }
func (f *fakeSearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: "web_search", Description: "fake search"}
}

func (f *fakeSearchTool) Execute(_ context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var p struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.queries = append(f.queries, p.Query)
	f.mu.Unlock()
	return &domain.ToolResult{
		Content: "RESULT: Sihwa Lake produces 254 MW",
		Record: &domain.WebSearchCall{
			Query:     p.Query,
			Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			Results:   f.results,
		},
	}, nil
}

func newRegistry(t *testing.T, tools ...domain.Tool) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry(testLogger())
	for _, tl := range tools {
		require.NoError(t, reg.Register(tl))
	}
	return reg
}

// recordSink keeps every emitted event.
type recordSink struct {
	mu     sync.Mutex
	events []domain.RoundEvent
}

func (r *recordSink) Emit(_ context.Context, ev domain.RoundEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordSink) types() []domain.RoundEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RoundEventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func threeAgents() []domain.Agent {
	return []domain.Agent{
		{ID: "c", Name: "Cyd", Persona: "Contrarian.", TurnOrder: 3},
		{ID: "a", Name: "Ada", Persona: "Analyst.", TurnOrder: 1},
		{ID: "b", Name: "Brook", Persona: "Builder.", TurnOrder: 2},
	}
}

func testDiscussionConfig() config.DiscussionConfig {
	return config.DiscussionConfig{MinAgents: 2, MaxAgents: 5, MaxRoundsLimit: 10, MaxToolIterations: 3}
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "rt.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
