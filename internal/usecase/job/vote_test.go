package job

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

var panel = []domain.Agent{
	{ID: "a", Name: "Ada", TurnOrder: 1},
	{ID: "b", Name: "Brook", TurnOrder: 2},
	{ID: "c", Name: "Cyd", TurnOrder: 3},
}

func TestParseBallot(t *testing.T) {
	v := NewVoter(nil, "", 10, testLogger())

	tests := []struct {
		name     string
		reply    string
		wantErr  bool
		scores   map[string]int
		decision bool
	}{
		{"plain", `{"scores":{"a":7,"b":3},"decision":"yes"}`, false, map[string]int{"a": 7, "b": 3}, true},
		{"fenced with prose", "Here you go:\n```json\n{\"scores\":{\"c\":4},\"decision\":\"No\"}\n```", false, map[string]int{"c": 4}, false},
		{"clamped", `{"scores":{"a":14,"b":-2},"decision":"no"}`, false, map[string]int{"a": 10, "b": 0}, false},
		{"unknown ids dropped", `{"scores":{"a":5,"zed":9},"decision":"yes"}`, false, map[string]int{"a": 5}, true},
		{"fractional rounded", `{"scores":{"a":6.6},"decision":"yes"}`, false, map[string]int{"a": 7}, true},
		{"no json", "I cannot decide.", true, nil, false},
		{"broken json", `{"scores":{"a":5,}`, true, nil, false},
		{"bad decision", `{"scores":{"a":5},"decision":"maybe"}`, true, nil, false},
		{"only unknown ids", `{"scores":{"zed":5},"decision":"yes"}`, true, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := v.parseBallot(tt.reply, panel)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got ballot %+v", b)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			assert.Equal(t, tt.scores, b.Scores)
			if b.Decision != tt.decision {
				t.Errorf("decision = %v, want %v", b.Decision, tt.decision)
			}
		})
	}
}

func TestAggregateTotalsAndWinner(t *testing.T) {
	ballots := []domain.Ballot{
		{VoterID: "v1", Scores: map[string]int{"a": 6, "b": 9, "c": 2}, Decision: true},
		{VoterID: "v2", Scores: map[string]int{"a": 8, "b": 7}, Decision: true},
		{VoterID: "v3", Scores: map[string]int{"a": 4, "b": 5, "c": 10}, Decision: false},
	}

	res, err := Aggregate(panel, ballots, 3)
	require.NoError(t, err)

	require.Len(t, res.Scores, 3)
	assert.Equal(t, domain.ParticipantScore{AgentID: "a", AgentName: "Ada", Total: 18, Average: 6}, res.Scores[0])
	assert.Equal(t, 21, res.Scores[1].Total)
	assert.Equal(t, 12, res.Scores[2].Total)
	assert.InDelta(t, 6.0, res.Scores[2].Average, 0.001, "average counts only ballots that scored the participant")
	assert.Equal(t, "b", res.WinnerID)
	assert.Equal(t, 2, res.YesVotes)
	assert.Equal(t, 1, res.NoVotes)
	assert.Equal(t, "yes", res.Decision)
	assert.Equal(t, 3, res.RoundsCompleted)
}

func TestAggregateTieGoesToEarliestSpeaker(t *testing.T) {
	ballots := []domain.Ballot{
		{Scores: map[string]int{"a": 5, "b": 7, "c": 7}, Decision: true},
	}
	res, err := Aggregate(panel, ballots, 1)
	require.NoError(t, err)
	assert.Equal(t, "Brook", res.WinnerName)
}

func TestAggregateDecisionNeedsStrictMajority(t *testing.T) {
	tests := []struct {
		yes, no int
		want    string
	}{
		{1, 0, "yes"},
		{2, 1, "yes"},
		{1, 1, "no"},
		{2, 2, "no"},
		{0, 3, "no"},
	}
	for _, tt := range tests {
		var ballots []domain.Ballot
		for i := 0; i < tt.yes; i++ {
			ballots = append(ballots, domain.Ballot{Scores: map[string]int{"a": 1}, Decision: true})
		}
		for i := 0; i < tt.no; i++ {
			ballots = append(ballots, domain.Ballot{Scores: map[string]int{"a": 1}})
		}
		res, err := Aggregate(panel, ballots, 1)
		require.NoError(t, err)
		if res.Decision != tt.want {
			t.Errorf("yes=%d no=%d: decision = %q, want %q", tt.yes, tt.no, res.Decision, tt.want)
		}
	}
}

func TestAggregateWithoutBallots(t *testing.T) {
	_, err := Aggregate(panel, nil, 2)
	assert.ErrorIs(t, err, domain.ErrNoBallots)
	assert.Equal(t, domain.CodeNoBallots, domain.ErrorCodeOf(err))
}

func TestCollectBallotsSkipsFailedVoters(t *testing.T) {
	llm := &fakeLLM{vote: func(call int, _ domain.ChatRequest) (string, error) {
		switch call {
		case 0:
			return "", errors.New("boom")
		case 1:
			return `{"scores":{"a":3},"decision":"no","reasoning":"thin"}`, nil
		default:
			return "nope", nil
		}
	}}
	v := NewVoter(llm, "m", 0, testLogger())
	rt := &domain.RoundTable{ID: "rt", Topic: "Tides", Agents: panel}

	ballots := v.CollectBallots(context.Background(), rt, []domain.Agent{{Name: "X"}, {Name: "Y"}, {Name: "Z"}}, nil, "")
	require.Len(t, ballots, 1)
	assert.Equal(t, "voter-2", ballots[0].VoterID)
	assert.Equal(t, "Y", ballots[0].VoterName)
	assert.Equal(t, "thin", ballots[0].Reasoning)
}
