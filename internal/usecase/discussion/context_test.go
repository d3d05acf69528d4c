package discussion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

func TestBuildContextExcludesSelfAndKeepsOrder(t *testing.T) {
	me := domain.Agent{ID: "a", Name: "Ada"}
	prior := []domain.Message{
		{AgentID: "a", AgentName: "Ada", Content: "my old point"},
		{AgentID: "b", AgentName: "Brook", Content: "first"},
		{AgentID: "c", AgentName: "Cyd", Content: "second"},
	}
	current := []domain.Message{
		{AgentID: "c", AgentName: "Cyd", Content: "third"},
		{AgentID: "a", AgentName: "Ada", Content: "should never appear"},
		{AgentID: "b", Content: "fourth"},
	}

	got := BuildContext("topic", 2, me, prior, current)
	require.Len(t, got, 4)
	want := []string{"[Brook]: first", "[Cyd]: second", "[Cyd]: third", "[Participant b]: fourth"}
	for i, m := range got {
		assert.Equal(t, domain.RoleUser, m.Role)
		assert.Equal(t, want[i], m.Content)
		assert.NotContains(t, m.Content, "Ada")
	}
}

func TestBuildContextOpeningPrompt(t *testing.T) {
	me := domain.Agent{ID: "a", Name: "Ada"}
	got := BuildContext("Tidal energy", 1, me, nil, nil)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Content, "Tidal energy")
	assert.Contains(t, got[0].Content, "open the discussion")
}

func TestBuildContextContinuePrompt(t *testing.T) {
	me := domain.Agent{ID: "a", Name: "Ada"}
	// Only the agent's own messages exist, so nothing remains after filtering.
	prior := []domain.Message{{AgentID: "a", AgentName: "Ada", Content: "mine"}}
	got := BuildContext("Tidal energy", 3, me, prior, nil)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Content, "round 3")
	assert.Contains(t, got[0].Content, "continue")
}

func TestSystemPromptLanguage(t *testing.T) {
	agent := domain.Agent{Name: "Ada", Persona: "  You are precise.  "}

	auto := SystemPrompt(agent, "T", domain.LanguageAuto)
	assert.True(t, strings.HasPrefix(auto, "You are precise."))
	assert.Contains(t, auto, "You are Ada,")
	assert.Contains(t, auto, "topic: T")
	assert.NotContains(t, auto, "Always respond in")

	assert.Contains(t, SystemPrompt(agent, "T", domain.LanguageChinese), "Simplified Chinese")
	assert.Contains(t, SystemPrompt(agent, "T", domain.LanguageEnglish), "Always respond in English")
}
