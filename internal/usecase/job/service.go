package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

// Submitter schedules a stored job for execution.
type Submitter interface {
	Submit(jobID string) (*Task, error)
}

// SubmitInput describes a new background job.
type SubmitInput struct {
	Type         domain.JobType    `json:"type"`
	RoundTableID string            `json:"round_table_id"`
	Options      domain.JobOptions `json:"options"`
}

// Service creates jobs and hands them to the worker.
type Service struct {
	store     Store
	submitter Submitter
	bus       domain.EventBus
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(store Store, submitter Submitter, bus domain.EventBus, logger *slog.Logger) *Service {
	return &Service{store: store, submitter: submitter, bus: bus, logger: logger, now: time.Now}
}

// Create validates in and stores a pending job without running it.
func (s *Service) Create(ctx context.Context, in SubmitInput) (*domain.Job, error) {
	const op = "job.Service.Create"
	invalid := func(detail string) error {
		return domain.NewSubSystemError("job", op, domain.ErrInvalidInput, detail)
	}

	if in.Type == "" {
		in.Type = domain.JobTypeDiscussion
	}
	switch in.Type {
	case domain.JobTypeDiscussion, domain.JobTypeMoEVote:
	default:
		return nil, invalid(fmt.Sprintf("unknown job type %q", in.Type))
	}
	if !in.Options.Language.Valid() {
		return nil, invalid(fmt.Sprintf("unsupported language %q", in.Options.Language))
	}
	for i := range in.Options.Voters {
		v := &in.Options.Voters[i]
		v.Name = strings.TrimSpace(v.Name)
		if v.Name == "" {
			return nil, invalid(fmt.Sprintf("voter %d has no name", i+1))
		}
		if v.ID == "" {
			v.ID = fmt.Sprintf("voter-%d", i+1)
		}
	}

	rt, err := s.store.GetRoundTable(ctx, in.RoundTableID)
	if err != nil {
		return nil, err
	}
	if rt.Status != domain.RoundTableActive {
		return nil, domain.NewSubSystemError("roundtable", op, domain.ErrRoundTableNotActive,
			fmt.Sprintf("round table is %s", rt.Status))
	}

	job := &domain.Job{Type: in.Type, RoundTableID: rt.ID, Options: in.Options}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Info("job created", "job_id", job.ID, "type", job.Type, "round_table_id", rt.ID)
	return job, nil
}

// Submit creates a job and schedules it. A job the worker refuses is marked
// failed before the error is returned.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*domain.Job, error) {
	job, err := s.Create(ctx, in)
	if err != nil {
		return nil, err
	}

	if _, err := s.submitter.Submit(job.ID); err != nil {
		if ferr := s.store.FailJob(ctx, job.ID, domain.FailureError, err.Error()); ferr != nil {
			err = errors.Join(err, ferr)
		}
		return nil, err
	}
	if s.bus != nil {
		s.bus.Publish(ctx, domain.Event{Type: domain.EventJobSubmitted, Timestamp: s.now(), JobID: job.ID})
	}
	return job, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Job, error) {
	return s.store.GetJob(ctx, id)
}
