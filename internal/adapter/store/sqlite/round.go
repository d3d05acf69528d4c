package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

// CreateRound numbers the new round one past the table's highest round inside
// a transaction, so numbers stay contiguous from 1. The table must be active
// and have fewer completed rounds than its max_rounds.
func (s *Store) CreateRound(ctx context.Context, roundTableID string) (*domain.Round, error) {
	const op = "store.CreateRound"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer tx.Rollback()

	var (
		status    string
		maxRounds int
		completed int
	)
	err = tx.QueryRowContext(ctx,
		`SELECT status, max_rounds FROM round_tables WHERE id = ?`, roundTableID,
	).Scan(&status, &maxRounds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("roundtable", op, roundTableID)
	}
	if err != nil {
		return nil, persistErr(op, err)
	}
	if domain.RoundTableStatus(status) != domain.RoundTableActive {
		return nil, domain.NewSubSystemError("roundtable", op, domain.ErrRoundTableNotActive, "round table is "+status)
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rounds WHERE round_table_id = ? AND status = ?`, roundTableID, string(domain.RoundCompleted),
	).Scan(&completed); err != nil {
		return nil, persistErr(op, err)
	}
	if completed >= maxRounds {
		return nil, domain.NewSubSystemError("roundtable", op, domain.ErrMaxRoundsReached,
			fmt.Sprintf("%d of %d rounds completed", completed, maxRounds))
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(number), 0) + 1 FROM rounds WHERE round_table_id = ?`, roundTableID,
	).Scan(&next); err != nil {
		return nil, persistErr(op, err)
	}

	r := &domain.Round{
		ID:           newID(),
		RoundTableID: roundTableID,
		Number:       next,
		Status:       domain.RoundInProgress,
		CreatedAt:    s.now(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rounds (id, round_table_id, number, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.RoundTableID, r.Number, string(r.Status), formatTime(r.CreatedAt),
	); err != nil {
		return nil, persistErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, persistErr(op, err)
	}
	return r, nil
}

// CompleteRound moves an in-progress round to completed. Completing a round
// twice is rejected.
func (s *Store) CompleteRound(ctx context.Context, roundID string) error {
	const op = "store.CompleteRound"
	ok, err := execOne(ctx, s.db,
		`UPDATE rounds SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(domain.RoundCompleted), formatTime(s.now()), roundID, string(domain.RoundInProgress))
	if err != nil {
		return persistErr(op, err)
	}
	if ok {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM rounds WHERE id = ?`, roundID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("round", op, roundID)
	}
	if err != nil {
		return persistErr(op, err)
	}
	return domain.NewSubSystemError("round", op, domain.ErrInvalidInput, "round is already "+status)
}

func (s *Store) CountCompletedRounds(ctx context.Context, roundTableID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rounds WHERE round_table_id = ? AND status = ?`,
		roundTableID, string(domain.RoundCompleted),
	).Scan(&n)
	if err != nil {
		return 0, persistErr("store.CountCompletedRounds", err)
	}
	return n, nil
}

func (s *Store) ListRounds(ctx context.Context, roundTableID string) ([]domain.Round, error) {
	const op = "store.ListRounds"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, round_table_id, number, status, created_at, completed_at
		 FROM rounds WHERE round_table_id = ? ORDER BY number`, roundTableID)
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer rows.Close()

	rounds := []domain.Round{}
	for rows.Next() {
		var (
			r           domain.Round
			status      string
			createdAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.RoundTableID, &r.Number, &status, &createdAt, &completedAt); err != nil {
			return nil, persistErr(op, err)
		}
		r.Status = domain.RoundStatus(status)
		r.CreatedAt = parseTime(createdAt)
		r.CompletedAt = parseNullTime(completedAt)
		rounds = append(rounds, r)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(op, err)
	}
	return rounds, nil
}

// SaveMessage inserts msg, filling in its ID and creation time if unset.
func (s *Store) SaveMessage(ctx context.Context, msg *domain.Message) error {
	const op = "store.SaveMessage"
	if msg.ID == "" {
		msg.ID = newID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	if msg.ToolCalls == nil {
		msg.ToolCalls = domain.ToolCalls{}
	}
	if msg.Citations == nil {
		msg.Citations = []domain.Citation{}
	}

	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return persistErr(op, err)
	}
	citations, err := json.Marshal(msg.Citations)
	if err != nil {
		return persistErr(op, err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, round_id, agent_id, content, tool_calls, citations, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.RoundID, msg.AgentID, msg.Content, string(toolCalls), string(citations), formatTime(msg.CreatedAt),
	); err != nil {
		return persistErr(op, err)
	}
	return nil
}

const messageColumns = `m.id, m.round_id, r.number, m.agent_id, a.name, m.content, m.tool_calls, m.citations, m.created_at
	FROM messages m
	JOIN rounds r ON r.id = m.round_id
	JOIN agents a ON a.id = m.agent_id`

// ListMessages returns the table's messages ordered by round, then by
// insertion within the round.
func (s *Store) ListMessages(ctx context.Context, roundTableID string) ([]domain.Message, error) {
	return s.queryMessages(ctx, "store.ListMessages",
		`SELECT `+messageColumns+` WHERE r.round_table_id = ? ORDER BY r.number, m.seq`, roundTableID)
}

func (s *Store) ListRoundMessages(ctx context.Context, roundID string) ([]domain.Message, error) {
	return s.queryMessages(ctx, "store.ListRoundMessages",
		`SELECT `+messageColumns+` WHERE m.round_id = ? ORDER BY m.seq`, roundID)
}

func (s *Store) queryMessages(ctx context.Context, op, query string, args ...any) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		var (
			m                    domain.Message
			toolCalls, citations string
			createdAt            string
		)
		if err := rows.Scan(&m.ID, &m.RoundID, &m.RoundNumber, &m.AgentID, &m.AgentName,
			&m.Content, &toolCalls, &citations, &createdAt); err != nil {
			return nil, persistErr(op, err)
		}
		m.ToolCalls = domain.DecodeToolCalls([]byte(toolCalls))
		if m.ToolCalls == nil {
			m.ToolCalls = domain.ToolCalls{}
		}
		if err := json.Unmarshal([]byte(citations), &m.Citations); err != nil || m.Citations == nil {
			m.Citations = []domain.Citation{}
		}
		m.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(op, err)
	}
	return msgs, nil
}
