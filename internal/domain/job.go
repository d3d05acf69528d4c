package domain

import (
	"encoding/json"
	"time"
)

// JobType selects the pipeline a background job runs.
type JobType string

const (
	JobTypeDiscussion JobType = "discussion"
	JobTypeMoEVote    JobType = "moe_vote"
)

// JobStatus is the lifecycle state of a background job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// FailureKind distinguishes a deliberate stop from a crash on failed jobs.
type FailureKind string

const (
	FailureNone    FailureKind = ""
	FailureStopped FailureKind = "stopped"
	FailureError   FailureKind = "error"
)

// JobPhase is the progress marker for the stage a job is in.
type JobPhase string

const (
	PhaseNone        JobPhase = ""
	PhaseDiscussion  JobPhase = "discussion"
	PhaseVoting      JobPhase = "voting"
	PhaseAggregating JobPhase = "aggregating"
)

// JobOptions carries per-job execution settings.
type JobOptions struct {
	Language Language `json:"language,omitempty"`
	// Voters is the scoring panel for moe_vote jobs. Voters never take part
	// in the discussion rounds.
	Voters   []Agent `json:"voters,omitempty"`
	Question string  `json:"question,omitempty"`
}

// Job drives a round table through all its rounds in the background.
type Job struct {
	ID           string          `json:"id"`
	Type         JobType         `json:"type"`
	RoundTableID string          `json:"round_table_id"`
	Status       JobStatus       `json:"status"`
	FailureKind  FailureKind     `json:"failure_kind,omitempty"`
	CurrentRound int             `json:"current_round"`
	CurrentPhase JobPhase        `json:"current_phase,omitempty"`
	Options      JobOptions      `json:"options"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// DiscussionResult is the result payload of a discussion job.
type DiscussionResult struct {
	RoundsCompleted int `json:"rounds_completed"`
	MessageCount    int `json:"message_count"`
}

// Ballot is one voter's assessment of the participants.
type Ballot struct {
	VoterID   string         `json:"voter_id"`
	VoterName string         `json:"voter_name"`
	Scores    map[string]int `json:"scores"`
	Decision  bool           `json:"decision"`
	Reasoning string         `json:"reasoning,omitempty"`
}

// ParticipantScore aggregates all ballots for one participant.
type ParticipantScore struct {
	AgentID   string  `json:"agent_id"`
	AgentName string  `json:"agent_name"`
	Total     int     `json:"total"`
	Average   float64 `json:"average"`
}

// MoEVoteResult is the result payload of a moe_vote job.
type MoEVoteResult struct {
	RoundsCompleted int                `json:"rounds_completed"`
	Ballots         []Ballot           `json:"ballots"`
	Scores          []ParticipantScore `json:"scores"`
	WinnerID        string             `json:"winner_id"`
	WinnerName      string             `json:"winner_name"`
	YesVotes        int                `json:"yes_votes"`
	NoVotes         int                `json:"no_votes"`
	Decision        string             `json:"decision"`
}
