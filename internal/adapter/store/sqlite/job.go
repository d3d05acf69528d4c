package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

const jobColumns = `id, type, round_table_id, status, failure_kind, current_round, current_phase,
	options, result, error, created_at, started_at, completed_at`

// CreateJob inserts job as pending, filling in its ID and creation time.
func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	const op = "store.CreateJob"
	if job.ID == "" {
		job.ID = newID()
	}
	job.Status = domain.JobPending
	job.CreatedAt = s.now()

	opts, err := json.Marshal(job.Options)
	if err != nil {
		return persistErr(op, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, type, round_table_id, status, options, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Type), job.RoundTableID, string(job.Status), string(opts), formatTime(job.CreatedAt),
	); err != nil {
		return persistErr(op, err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	const op = "store.GetJob"
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("job", op, id)
	}
	if err != nil {
		return nil, persistErr(op, err)
	}
	return job, nil
}

// MarkJobRunning claims a pending job. Any other status yields
// ErrJobNotPending.
func (s *Store) MarkJobRunning(ctx context.Context, id string) error {
	const op = "store.MarkJobRunning"
	ok, err := execOne(ctx, s.db,
		`UPDATE jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		string(domain.JobRunning), formatTime(s.now()), id, string(domain.JobPending))
	if err != nil {
		return persistErr(op, err)
	}
	if ok {
		return nil
	}
	if _, err := s.GetJob(ctx, id); err != nil {
		return err
	}
	return domain.NewSubSystemError("job", op, domain.ErrJobNotPending, id)
}

func (s *Store) UpdateJobProgress(ctx context.Context, id string, round int, phase domain.JobPhase) error {
	const op = "store.UpdateJobProgress"
	ok, err := execOne(ctx, s.db,
		`UPDATE jobs SET current_round = ?, current_phase = ? WHERE id = ?`, round, string(phase), id)
	if err != nil {
		return persistErr(op, err)
	}
	if !ok {
		return notFound("job", op, id)
	}
	return nil
}

func (s *Store) CompleteJob(ctx context.Context, id string, result json.RawMessage) error {
	const op = "store.CompleteJob"
	ok, err := execOne(ctx, s.db,
		`UPDATE jobs SET status = ?, result = ?, completed_at = ? WHERE id = ?`,
		string(domain.JobCompleted), string(result), formatTime(s.now()), id)
	if err != nil {
		return persistErr(op, err)
	}
	if !ok {
		return notFound("job", op, id)
	}
	return nil
}

func (s *Store) FailJob(ctx context.Context, id string, kind domain.FailureKind, message string) error {
	const op = "store.FailJob"
	if kind == domain.FailureNone {
		kind = domain.FailureError
	}
	ok, err := execOne(ctx, s.db,
		`UPDATE jobs SET status = ?, failure_kind = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(domain.JobFailed), string(kind), message, formatTime(s.now()), id)
	if err != nil {
		return persistErr(op, err)
	}
	if !ok {
		return notFound("job", op, id)
	}
	return nil
}

func (s *Store) ListStaleJobs(ctx context.Context, startedBefore time.Time) ([]domain.Job, error) {
	const op = "store.ListStaleJobs"
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? AND started_at < ? ORDER BY started_at`,
		string(domain.JobRunning), formatTime(startedBefore))
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, persistErr(op, err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(op, err)
	}
	return jobs, nil
}

func scanJob(row scanner) (*domain.Job, error) {
	var (
		j                        domain.Job
		typ, status, kind, phase string
		opts                     string
		result                   sql.NullString
		createdAt                string
		startedAt, completedAt   sql.NullString
	)
	if err := row.Scan(&j.ID, &typ, &j.RoundTableID, &status, &kind, &j.CurrentRound, &phase,
		&opts, &result, &j.Error, &createdAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	j.Type = domain.JobType(typ)
	j.Status = domain.JobStatus(status)
	j.FailureKind = domain.FailureKind(kind)
	j.CurrentPhase = domain.JobPhase(phase)
	if err := json.Unmarshal([]byte(opts), &j.Options); err != nil {
		return nil, err
	}
	if result.Valid && result.String != "" {
		j.Result = json.RawMessage(result.String)
	}
	j.CreatedAt = parseTime(createdAt)
	j.StartedAt = parseNullTime(startedAt)
	j.CompletedAt = parseNullTime(completedAt)
	return &j, nil
}
