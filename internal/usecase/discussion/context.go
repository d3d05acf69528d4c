// Package discussion runs round-table discussions: it builds each agent's
// view of the conversation, drives one streamed model turn per agent, and
// sequences turns into rounds.
package discussion

import (
	"fmt"
	"strings"
	"time"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

// languageDirectives are appended to the persona prompt when a language is
// forced.
var languageDirectives = map[domain.Language]string{
	domain.LanguageChinese: "Always respond in Simplified Chinese (简体中文), regardless of the language used by other participants.",
	domain.LanguageEnglish: "Always respond in English, regardless of the language used by other participants.",
}

// SystemPrompt combines the agent persona, the discussion topic and an
// optional language directive.
func SystemPrompt(agent domain.Agent, topic string, lang domain.Language) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(agent.Persona))
	fmt.Fprintf(&b, "\n\nYou are %s, one participant in a round-table discussion on the topic: %s\n", agent.Name, topic)
	b.WriteString("Respond to the other participants by name where relevant, keep to your perspective, and use the web_search tool when current facts would strengthen your argument.")
	if d, ok := languageDirectives[lang]; ok {
		b.WriteString("\n\n")
		b.WriteString(d)
	}
	return b.String()
}

// BuildContext renders the conversation for agent: prior rounds followed by
// the current round so far, in creation order, minus the agent's own
// messages. Each remaining message becomes one user turn labeled with its
// author. When nothing remains, an opening or continuation prompt is
// synthesized so the model always has something to answer.
func BuildContext(topic string, roundNumber int, agent domain.Agent, prior, current []domain.Message) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(prior)+len(current))
	for _, group := range [][]domain.Message{prior, current} {
		for _, m := range group {
			if m.AgentID == agent.ID {
				continue
			}
			out = append(out, domain.ChatMessage{
				Role:      domain.RoleUser,
				Content:   fmt.Sprintf("[%s]: %s", speakerName(m), m.Content),
				Timestamp: m.CreatedAt,
			})
		}
	}
	if len(out) > 0 {
		return out
	}

	prompt := fmt.Sprintf("The topic of this round-table discussion is: %s\n\nPlease open the discussion with your perspective.", topic)
	if roundNumber > 1 {
		prompt = fmt.Sprintf("This is round %d of the discussion on: %s\n\nPlease continue the discussion, building on or challenging the points made so far.", roundNumber, topic)
	}
	return []domain.ChatMessage{{Role: domain.RoleUser, Content: prompt, Timestamp: time.Now()}}
}

func speakerName(m domain.Message) string {
	if m.AgentName != "" {
		return m.AgentName
	}
	return "Participant " + m.AgentID
}
