package discussion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

func newTestService(t *testing.T, llm *scriptedLLM, store Store) *Service {
	t.Helper()
	orch := NewOrchestrator(NewTurnExecutor(llm, nil, TurnConfig{}, testLogger()), testLogger())
	return NewService(store, orch, testDiscussionConfig(), testLogger())
}

func createTable(t *testing.T, svc *Service, maxRounds int) *domain.RoundTable {
	t.Helper()
	rt, err := svc.CreateRoundTable(context.Background(), CreateRoundTableInput{
		Topic:     "Tidal power",
		MaxRounds: maxRounds,
		Agents: []AgentInput{
			{Name: "Ada", Persona: "Analyst."},
			{Name: "Brook", Persona: "Builder."},
		},
	})
	require.NoError(t, err)
	return rt
}

func TestCreateRoundTableValidation(t *testing.T) {
	svc := newTestService(t, echoLLM(), newTestStore(t))
	ctx := context.Background()
	two := []AgentInput{{Name: "A"}, {Name: "B"}}

	tests := []struct {
		name string
		in   CreateRoundTableInput
	}{
		{"empty topic", CreateRoundTableInput{Topic: " ", MaxRounds: 1, Agents: two}},
		{"too few agents", CreateRoundTableInput{Topic: "t", MaxRounds: 1, Agents: two[:1]}},
		{"too many agents", CreateRoundTableInput{Topic: "t", MaxRounds: 1, Agents: make([]AgentInput, 6)}},
		{"zero rounds", CreateRoundTableInput{Topic: "t", MaxRounds: 0, Agents: two}},
		{"rounds over limit", CreateRoundTableInput{Topic: "t", MaxRounds: 11, Agents: two}},
		{"bad language", CreateRoundTableInput{Topic: "t", MaxRounds: 1, Agents: two, Language: "fr"}},
		{"unnamed agent", CreateRoundTableInput{Topic: "t", MaxRounds: 1, Agents: []AgentInput{{Name: "A"}, {Name: ""}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateRoundTable(ctx, tt.in)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestCreateRoundTableAssignsTurnOrder(t *testing.T) {
	svc := newTestService(t, echoLLM(), newTestStore(t))
	rt := createTable(t, svc, 2)
	require.Len(t, rt.Agents, 2)
	assert.Equal(t, 1, rt.Agents[0].TurnOrder)
	assert.Equal(t, "Brook", rt.Agents[1].Name)
	assert.Equal(t, 2, rt.Agents[1].TurnOrder)
}

func TestRunRoundHappyPath(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, echoLLM(), store)
	rt := createTable(t, svc, 3)
	sink := &recordSink{}

	round, err := svc.RunRound(context.Background(), rt.ID, sink)
	require.NoError(t, err)
	assert.Equal(t, 1, round.Number)
	assert.Equal(t, domain.RoundCompleted, round.Status)

	assert.Equal(t, []domain.RoundEventType{
		domain.RoundEventRoundStart,
		domain.RoundEventAgentStart, domain.RoundEventChunk, domain.RoundEventChunk, domain.RoundEventAgentComplete, domain.RoundEventMessageSaved,
		domain.RoundEventAgentStart, domain.RoundEventChunk, domain.RoundEventChunk, domain.RoundEventAgentComplete, domain.RoundEventMessageSaved,
		domain.RoundEventRoundComplete,
		domain.RoundEventDone,
	}, sink.types())

	saved := sink.events[5].Message
	require.NotNil(t, saved)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, round.ID, saved.RoundID)

	msgs, err := svc.ListMessages(context.Background(), rt.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Ada says hi", msgs[0].Content)
	assert.Equal(t, "Brook says hi", msgs[1].Content)

	n, err := store.CountCompletedRounds(context.Background(), rt.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The second round numbers on and sees round one.
	llm := echoLLM()
	svc2 := newTestService(t, llm, store)
	round2, err := svc2.RunRound(context.Background(), rt.ID, &recordSink{})
	require.NoError(t, err)
	assert.Equal(t, 2, round2.Number)
	assert.Equal(t, "[Brook]: Brook says hi", llm.calls()[0].Messages[1].Content)
}

func TestRunRoundRejectsAtMaxRounds(t *testing.T) {
	store := newTestStore(t)
	llm := echoLLM()
	svc := newTestService(t, llm, store)
	rt := createTable(t, svc, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.RunRound(ctx, rt.ID, &recordSink{})
		require.NoError(t, err)
	}
	calls := len(llm.calls())
	sink := &recordSink{}

	_, err := svc.RunRound(ctx, rt.ID, sink)
	assert.ErrorIs(t, err, domain.ErrMaxRoundsReached)
	assert.Equal(t, domain.CodeMaxRoundsReached, domain.ErrorCodeOf(err))
	assert.Len(t, llm.calls(), calls, "no agent may run")
	assert.Empty(t, sink.events)

	rounds, err := store.ListRounds(ctx, rt.ID)
	require.NoError(t, err)
	assert.Len(t, rounds, 2)
}

func TestRunRoundRejectsInactiveTable(t *testing.T) {
	store := newTestStore(t)
	llm := echoLLM()
	svc := newTestService(t, llm, store)
	rt := createTable(t, svc, 2)
	require.NoError(t, svc.SetStatus(context.Background(), rt.ID, domain.RoundTablePaused))

	_, err := svc.RunRound(context.Background(), rt.ID, &recordSink{})
	assert.ErrorIs(t, err, domain.ErrRoundTableNotActive)
	assert.Empty(t, llm.calls())
}

func TestRunRoundUnknownTable(t *testing.T) {
	svc := newTestService(t, echoLLM(), newTestStore(t))
	_, err := svc.RunRound(context.Background(), "missing", &recordSink{})
	assert.Equal(t, domain.CodeRoundTableNotFound, domain.ErrorCodeOf(err))
}

type failingSaveStore struct {
	Store
}

func (failingSaveStore) SaveMessage(context.Context, *domain.Message) error {
	return errors.New("disk full")
}

func TestRunRoundPersistenceFailure(t *testing.T) {
	store := newTestStore(t)
	llm := echoLLM()
	svc := newTestService(t, llm, failingSaveStore{Store: store})
	rt := createTable(t, svc, 2)
	sink := &recordSink{}

	_, err := svc.RunRound(context.Background(), rt.ID, sink)
	require.Error(t, err)

	types := sink.types()
	assert.Equal(t, domain.RoundEventError, types[len(types)-1])
	assert.NotContains(t, types, domain.RoundEventDone)
	assert.Len(t, llm.calls(), 1, "round stops at the first unsaved message")

	n, err := store.CountCompletedRounds(context.Background(), rt.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunRoundModelFailureEmitsError(t *testing.T) {
	llm := &scriptedLLM{respond: func(int, domain.ChatRequest) ([]domain.StreamDelta, error) {
		return nil, domain.NewSubSystemError("llm", "openai.ChatStream", domain.ErrRateLimit, "HTTP 429")
	}}
	svc := newTestService(t, llm, newTestStore(t))
	rt := createTable(t, svc, 2)
	sink := &recordSink{}

	_, err := svc.RunRound(context.Background(), rt.ID, sink)
	assert.ErrorIs(t, err, domain.ErrRateLimit)

	last := sink.events[len(sink.events)-1]
	assert.Equal(t, domain.RoundEventError, last.Type)
	assert.Equal(t, domain.CodeRateLimit, last.ErrorCode)
	assert.Contains(t, last.Error, "HTTP 429")
}
