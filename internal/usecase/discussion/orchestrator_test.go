package discussion

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

func TestRoundRunsAgentsInTurnOrder(t *testing.T) {
	llm := echoLLM()
	orch := NewOrchestrator(NewTurnExecutor(llm, nil, TurnConfig{}, testLogger()), testLogger())
	sink := &recordSink{}

	results, err := orch.RunRound(context.Background(), RoundInput{
		RoundTableID: "rt",
		Topic:        "Tidal power",
		RoundNumber:  1,
		Agents:       threeAgents(),
	}, sink)
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, []string{"Ada", "Brook", "Cyd"},
		[]string{results[0].AgentName, results[1].AgentName, results[2].AgentName})
	assert.Equal(t, "Brook says hi", results[1].Content)

	assert.Equal(t, []domain.RoundEventType{
		domain.RoundEventAgentStart, domain.RoundEventChunk, domain.RoundEventChunk, domain.RoundEventAgentComplete,
		domain.RoundEventAgentStart, domain.RoundEventChunk, domain.RoundEventChunk, domain.RoundEventAgentComplete,
		domain.RoundEventAgentStart, domain.RoundEventChunk, domain.RoundEventChunk, domain.RoundEventAgentComplete,
		domain.RoundEventRoundComplete,
	}, sink.types())

	for _, ev := range sink.events {
		assert.Equal(t, "rt", ev.RoundTableID)
		assert.Equal(t, 1, ev.RoundNumber)
		assert.False(t, ev.Timestamp.IsZero())
	}
	complete := sink.events[3]
	require.NotNil(t, complete.Message)
	assert.Equal(t, "Ada says hi", complete.Message.Content)
}

func TestRoundContextIncludesEarlierSpeakers(t *testing.T) {
	llm := echoLLM()
	orch := NewOrchestrator(NewTurnExecutor(llm, nil, TurnConfig{}, testLogger()), testLogger())

	prior := []domain.Message{
		{AgentID: "a", AgentName: "Ada", Content: "round one from Ada"},
		{AgentID: "c", AgentName: "Cyd", Content: "round one from Cyd"},
	}
	_, err := orch.RunRound(context.Background(), RoundInput{
		RoundTableID: "rt", Topic: "T", RoundNumber: 2, Agents: threeAgents(), Prior: prior,
	}, &recordSink{})
	require.NoError(t, err)

	reqs := llm.calls()
	require.Len(t, reqs, 3)

	bodies := func(req domain.ChatRequest) string {
		var parts []string
		for _, m := range req.Messages[1:] {
			parts = append(parts, m.Content)
		}
		return strings.Join(parts, "|")
	}

	// Ada speaks first: sees only Cyd's prior message.
	assert.Equal(t, "[Cyd]: round one from Cyd", bodies(reqs[0]))
	// Brook sees both prior messages, then Ada's fresh one.
	assert.Equal(t, "[Ada]: round one from Ada|[Cyd]: round one from Cyd|[Ada]: Ada says hi", bodies(reqs[1]))
	// Cyd never sees its own message.
	assert.Equal(t, "[Ada]: round one from Ada|[Ada]: Ada says hi|[Brook]: Brook says hi", bodies(reqs[2]))
}

func TestRoundAbortsOnTurnFailure(t *testing.T) {
	llm := &scriptedLLM{respond: func(call int, req domain.ChatRequest) ([]domain.StreamDelta, error) {
		if call == 1 {
			return []domain.StreamDelta{{Content: "half"}, {Err: domain.ErrStreamFailed}}, nil
		}
		return []domain.StreamDelta{{Content: "fine"}, {Done: true}}, nil
	}}
	orch := NewOrchestrator(NewTurnExecutor(llm, nil, TurnConfig{}, testLogger()), testLogger())
	sink := &recordSink{}

	results, err := orch.RunRound(context.Background(), RoundInput{
		RoundTableID: "rt", Topic: "T", RoundNumber: 1, Agents: threeAgents(),
	}, sink)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStreamFailed)
	assert.Contains(t, err.Error(), "Brook")
	assert.Len(t, results, 1)
	assert.Len(t, llm.calls(), 2, "third agent must not run")
	assert.NotContains(t, sink.types(), domain.RoundEventRoundComplete)
}

func TestRoundHookErrorAborts(t *testing.T) {
	llm := echoLLM()
	orch := NewOrchestrator(NewTurnExecutor(llm, nil, TurnConfig{}, testLogger()), testLogger())
	boom := errors.New("disk full")

	var saved []string
	_, err := orch.RunRound(context.Background(), RoundInput{
		RoundTableID: "rt", Topic: "T", RoundNumber: 1, Agents: threeAgents(),
		OnTurnComplete: func(_ context.Context, res AgentResult) error {
			if res.AgentName == "Brook" {
				return boom
			}
			saved = append(saved, res.AgentName)
			return nil
		},
	}, &recordSink{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"Ada"}, saved)
	assert.Len(t, llm.calls(), 2)
}

func TestRoundRelaysToolCalls(t *testing.T) {
	search := &fakeSearchTool{}
	llm := &scriptedLLM{respond: func(call int, req domain.ChatRequest) ([]domain.StreamDelta, error) {
		if call == 0 {
			return []domain.StreamDelta{toolCallDelta("c1", "web_search", `{"query":"Q"}`), {Done: true}}, nil
		}
		return []domain.StreamDelta{{Content: "answer"}, {Done: true}}, nil
	}}
	orch := NewOrchestrator(NewTurnExecutor(llm, newRegistry(t, search), TurnConfig{}, testLogger()), testLogger())
	sink := &recordSink{}

	agents := threeAgents()[1:2] // Ada only
	results, err := orch.RunRound(context.Background(), RoundInput{
		RoundTableID: "rt", Topic: "T", RoundNumber: 1, Agents: agents,
	}, sink)
	require.NoError(t, err)

	assert.Equal(t, []domain.RoundEventType{
		domain.RoundEventAgentStart, domain.RoundEventToolCall, domain.RoundEventChunk,
		domain.RoundEventAgentComplete, domain.RoundEventRoundComplete,
	}, sink.types())
	rec, ok := sink.events[1].ToolCall.(*domain.WebSearchCall)
	require.True(t, ok)
	assert.Equal(t, "Q", rec.Query)
	require.Len(t, results[0].ToolCalls, 1)
}
