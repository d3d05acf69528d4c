package domain

import "time"

// RoundTableStatus is the lifecycle state of an interactive discussion.
type RoundTableStatus string

const (
	RoundTableActive   RoundTableStatus = "active"
	RoundTablePaused   RoundTableStatus = "paused"
	RoundTableArchived RoundTableStatus = "archived"
)

// Valid reports whether s is a known status.
func (s RoundTableStatus) Valid() bool {
	switch s {
	case RoundTableActive, RoundTablePaused, RoundTableArchived:
		return true
	}
	return false
}

// RoundTable is one discussion instance. It owns its agents and rounds.
type RoundTable struct {
	ID        string           `json:"id"`
	Topic     string           `json:"topic"`
	Status    RoundTableStatus `json:"status"`
	MaxRounds int              `json:"max_rounds"`
	Language  Language         `json:"language,omitempty"`
	Agents    []Agent          `json:"agents"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Agent is a discussion participant. Agents are immutable once the table starts.
type Agent struct {
	ID           string `json:"id"`
	RoundTableID string `json:"round_table_id"`
	Name         string `json:"name"`
	Persona      string `json:"persona"`
	TurnOrder    int    `json:"turn_order"`
}

// RoundStatus is the lifecycle state of a Round.
type RoundStatus string

const (
	RoundInProgress RoundStatus = "in_progress"
	RoundCompleted  RoundStatus = "completed"
)

// Round is one pass of every agent speaking once.
type Round struct {
	ID           string      `json:"id"`
	RoundTableID string      `json:"round_table_id"`
	Number       int         `json:"number"`
	Status       RoundStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}

// Message is one agent's utterance within a round. Created exactly once,
// after the agent's turn has finished streaming.
type Message struct {
	ID          string     `json:"id"`
	RoundID     string     `json:"round_id"`
	RoundNumber int        `json:"round_number,omitempty"`
	AgentID     string     `json:"agent_id"`
	AgentName   string     `json:"agent_name,omitempty"`
	Content     string     `json:"content"`
	ToolCalls   ToolCalls  `json:"tool_calls"`
	Citations   []Citation `json:"citations"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Language selects a response-language directive appended to agent personas.
type Language string

const (
	LanguageAuto    Language = ""
	LanguageChinese Language = "zh"
	LanguageEnglish Language = "en"
)

// Valid reports whether l is a supported language mode.
func (l Language) Valid() bool {
	switch l {
	case LanguageAuto, LanguageChinese, LanguageEnglish:
		return true
	}
	return false
}
