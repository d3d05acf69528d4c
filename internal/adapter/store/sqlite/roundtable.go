package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

// CreateRoundTable inserts rt and its agents in one transaction. Missing IDs
// and timestamps are filled in on rt.
func (s *Store) CreateRoundTable(ctx context.Context, rt *domain.RoundTable) error {
	const op = "store.CreateRoundTable"
	if strings.TrimSpace(rt.Topic) == "" {
		return domain.NewSubSystemError("roundtable", op, domain.ErrInvalidInput, "topic is required")
	}
	if rt.MaxRounds <= 0 {
		return domain.NewSubSystemError("roundtable", op, domain.ErrInvalidInput, "max rounds must be positive")
	}
	if rt.ID == "" {
		rt.ID = newID()
	}
	if rt.Status == "" {
		rt.Status = domain.RoundTableActive
	}
	now := s.now()
	rt.CreatedAt, rt.UpdatedAt = now, now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr(op, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO round_tables (id, topic, status, max_rounds, language, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rt.ID, rt.Topic, string(rt.Status), rt.MaxRounds, string(rt.Language), formatTime(now), formatTime(now),
	); err != nil {
		return persistErr(op, err)
	}

	for i := range rt.Agents {
		a := &rt.Agents[i]
		if a.ID == "" {
			a.ID = newID()
		}
		a.RoundTableID = rt.ID
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agents (id, round_table_id, name, persona, turn_order) VALUES (?, ?, ?, ?, ?)`,
			a.ID, a.RoundTableID, a.Name, a.Persona, a.TurnOrder,
		); err != nil {
			return persistErr(op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistErr(op, err)
	}
	sort.SliceStable(rt.Agents, func(i, j int) bool { return rt.Agents[i].TurnOrder < rt.Agents[j].TurnOrder })
	return nil
}

// GetRoundTable loads the table with its agents in turn order.
func (s *Store) GetRoundTable(ctx context.Context, id string) (*domain.RoundTable, error) {
	const op = "store.GetRoundTable"
	row := s.db.QueryRowContext(ctx,
		`SELECT id, topic, status, max_rounds, language, created_at, updated_at FROM round_tables WHERE id = ?`, id)
	rt, err := scanRoundTable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("roundtable", op, id)
	}
	if err != nil {
		return nil, persistErr(op, err)
	}

	agents, err := s.listAgents(ctx, id)
	if err != nil {
		return nil, persistErr(op, err)
	}
	rt.Agents = agents
	return rt, nil
}

// ListRoundTables returns every table, newest first, with agents attached.
func (s *Store) ListRoundTables(ctx context.Context) ([]domain.RoundTable, error) {
	const op = "store.ListRoundTables"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, topic, status, max_rounds, language, created_at, updated_at
		 FROM round_tables ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer rows.Close()

	var out []domain.RoundTable
	for rows.Next() {
		rt, err := scanRoundTable(rows)
		if err != nil {
			return nil, persistErr(op, err)
		}
		out = append(out, *rt)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(op, err)
	}
	rows.Close()

	for i := range out {
		agents, err := s.listAgents(ctx, out[i].ID)
		if err != nil {
			return nil, persistErr(op, err)
		}
		out[i].Agents = agents
	}
	return out, nil
}

func (s *Store) UpdateRoundTableStatus(ctx context.Context, id string, status domain.RoundTableStatus) error {
	const op = "store.UpdateRoundTableStatus"
	if !status.Valid() {
		return domain.NewSubSystemError("roundtable", op, domain.ErrInvalidInput, "unknown status "+string(status))
	}
	ok, err := execOne(ctx, s.db,
		`UPDATE round_tables SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(s.now()), id)
	if err != nil {
		return persistErr(op, err)
	}
	if !ok {
		return notFound("roundtable", op, id)
	}
	return nil
}

// DeleteRoundTable relies on ON DELETE CASCADE for agents, rounds and
// messages. Jobs are kept so their history survives.
func (s *Store) DeleteRoundTable(ctx context.Context, id string) error {
	const op = "store.DeleteRoundTable"
	ok, err := execOne(ctx, s.db, `DELETE FROM round_tables WHERE id = ?`, id)
	if err != nil {
		return persistErr(op, err)
	}
	if !ok {
		return notFound("roundtable", op, id)
	}
	return nil
}

func (s *Store) listAgents(ctx context.Context, roundTableID string) ([]domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, round_table_id, name, persona, turn_order FROM agents
		 WHERE round_table_id = ? ORDER BY turn_order`, roundTableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	agents := []domain.Agent{}
	for rows.Next() {
		var a domain.Agent
		if err := rows.Scan(&a.ID, &a.RoundTableID, &a.Name, &a.Persona, &a.TurnOrder); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRoundTable(row scanner) (*domain.RoundTable, error) {
	var (
		rt                   domain.RoundTable
		status, lang         string
		createdAt, updatedAt string
	)
	if err := row.Scan(&rt.ID, &rt.Topic, &status, &rt.MaxRounds, &lang, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rt.Status = domain.RoundTableStatus(status)
	rt.Language = domain.Language(lang)
	rt.CreatedAt = parseTime(createdAt)
	rt.UpdatedAt = parseTime(updatedAt)
	return &rt, nil
}
