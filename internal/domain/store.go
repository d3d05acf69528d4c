package domain

import (
	"context"
	"encoding/json"
	"time"
)

// RoundTableStore persists round tables and their agents.
type RoundTableStore interface {
	// CreateRoundTable inserts the table and all its agents atomically.
	CreateRoundTable(ctx context.Context, rt *RoundTable) error
	GetRoundTable(ctx context.Context, id string) (*RoundTable, error)
	ListRoundTables(ctx context.Context) ([]RoundTable, error)
	UpdateRoundTableStatus(ctx context.Context, id string, status RoundTableStatus) error
	// DeleteRoundTable removes the table with its agents, rounds and messages.
	DeleteRoundTable(ctx context.Context, id string) error
}

// RoundStore persists rounds and their messages.
type RoundStore interface {
	// CreateRound starts the next round, numbered one past the highest existing
	// round. It fails with ErrRoundTableNotActive or ErrMaxRoundsReached when the
	// table cannot take another round.
	CreateRound(ctx context.Context, roundTableID string) (*Round, error)
	// CompleteRound transitions an in-progress round to completed.
	CompleteRound(ctx context.Context, roundID string) error
	CountCompletedRounds(ctx context.Context, roundTableID string) (int, error)
	ListRounds(ctx context.Context, roundTableID string) ([]Round, error)
	SaveMessage(ctx context.Context, msg *Message) error
	// ListMessages returns every message of the table in creation order.
	ListMessages(ctx context.Context, roundTableID string) ([]Message, error)
	ListRoundMessages(ctx context.Context, roundID string) ([]Message, error)
}

// JobStore persists background jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	MarkJobRunning(ctx context.Context, id string) error
	UpdateJobProgress(ctx context.Context, id string, round int, phase JobPhase) error
	CompleteJob(ctx context.Context, id string, result json.RawMessage) error
	FailJob(ctx context.Context, id string, kind FailureKind, message string) error
	// ListStaleJobs returns running jobs started before the cutoff.
	ListStaleJobs(ctx context.Context, startedBefore time.Time) ([]Job, error)
}
