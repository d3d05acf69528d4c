package job

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DanielMax937/round-table-sub000/internal/adapter/store/sqlite"
	"github.com/DanielMax937/round-table-sub000/internal/domain"
	"github.com/DanielMax937/round-table-sub000/internal/infra/config"
	"github.com/DanielMax937/round-table-sub000/internal/usecase/discussion"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeLLM streams a fixed reply for every discussion turn and answers voting
// calls through vote. onStream runs before each streamed reply.
type fakeLLM struct {
	mu       sync.Mutex
	streams  int
	chats    int
	onStream func(call int) error
	vote     func(call int, req domain.ChatRequest) (string, error)
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) ChatStream(_ context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	f.mu.Lock()
	call := f.streams
	f.streams++
	f.mu.Unlock()

	if f.onStream != nil {
		if err := f.onStream(call); err != nil {
			return nil, err
		}
	}
	ch := make(chan domain.StreamDelta, 2)
	ch <- domain.StreamDelta{Content: "point made"}
	ch <- domain.StreamDelta{Done: true}
	close(ch)
	return ch, nil
}

func (f *fakeLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	f.mu.Lock()
	call := f.chats
	f.chats++
	f.mu.Unlock()

	if f.vote == nil {
		panic("Chat not expected")
	}
	content, err := f.vote(call, req)
	if err != nil {
		return nil, err
	}
	return &domain.ChatResponse{Message: domain.ChatMessage{Role: domain.RoleAssistant, Content: content}}, nil
}

func (f *fakeLLM) streamCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "jobs.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTable(t *testing.T, store *sqlite.Store, maxRounds int) *domain.RoundTable {
	t.Helper()
	rt := &domain.RoundTable{
		Topic:     "Tidal power",
		Status:    domain.RoundTableActive,
		MaxRounds: maxRounds,
		Agents: []domain.Agent{
			{Name: "Ada", Persona: "Analyst.", TurnOrder: 1},
			{Name: "Brook", Persona: "Builder.", TurnOrder: 2},
		},
	}
	require.NoError(t, store.CreateRoundTable(context.Background(), rt))
	return rt
}

func createJob(t *testing.T, store *sqlite.Store, typ domain.JobType, rtID string, opts domain.JobOptions) *domain.Job {
	t.Helper()
	job := &domain.Job{Type: typ, RoundTableID: rtID, Options: opts}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

func newDriver(store *sqlite.Store, llm *fakeLLM, bus domain.EventBus) *Driver {
	turns := discussion.NewTurnExecutor(llm, nil, discussion.TurnConfig{}, testLogger())
	orch := discussion.NewOrchestrator(turns, testLogger())
	voter := NewVoter(llm, "", 10, testLogger())
	return NewDriver(store, orch, voter, bus, config.DiscussionConfig{}, testLogger())
}

// recordBus records published events synchronously.
type recordBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordBus) Publish(_ context.Context, ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *recordBus) Close()                                                 {}

func (b *recordBus) types() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.EventType, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Type
	}
	return out
}
