// Package job runs round tables to completion in the background: the
// discussion rounds, the optional voting phases and the job bookkeeping.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
	"github.com/DanielMax937/round-table-sub000/internal/infra/config"
	"github.com/DanielMax937/round-table-sub000/internal/infra/tracer"
	"github.com/DanielMax937/round-table-sub000/internal/usecase/discussion"
)

// Store is the persistence a job needs.
type Store interface {
	domain.RoundTableStore
	domain.RoundStore
	domain.JobStore
}

// ProgressPayload is the payload of job lifecycle events.
type ProgressPayload struct {
	RoundTableID string             `json:"round_table_id"`
	Round        int                `json:"round,omitempty"`
	Phase        domain.JobPhase    `json:"phase,omitempty"`
	Error        string             `json:"error,omitempty"`
	FailureKind  domain.FailureKind `json:"failure_kind,omitempty"`
}

// Driver runs one job from pending to a terminal state. Rounds run strictly
// one after another; the table status is checked before each of them.
type Driver struct {
	store        Store
	orchestrator *discussion.Orchestrator
	voter        *Voter
	bus          domain.EventBus
	cfg          config.DiscussionConfig
	logger       *slog.Logger
	now          func() time.Time
}

func NewDriver(store Store, orchestrator *discussion.Orchestrator, voter *Voter, bus domain.EventBus, cfg config.DiscussionConfig, logger *slog.Logger) *Driver {
	return &Driver{
		store:        store,
		orchestrator: orchestrator,
		voter:        voter,
		bus:          bus,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// Run executes job jobID. Every failure after the job was claimed is recorded
// on the job before being returned.
func (d *Driver) Run(ctx context.Context, jobID string) error {
	ctx, span := tracer.StartSpan(ctx, "job.run", trace.WithAttributes(tracer.StringAttr("job.id", jobID)))
	defer span.End()

	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		tracer.RecordError(span, err)
		return err
	}
	if err := d.store.MarkJobRunning(ctx, jobID); err != nil {
		tracer.RecordError(span, err)
		return err
	}
	job.Status = domain.JobRunning
	span.SetAttributes(tracer.StringAttr("job.type", string(job.Type)), tracer.StringAttr("round_table.id", job.RoundTableID))

	d.logger.Info("job started", "job_id", jobID, "type", job.Type, "round_table_id", job.RoundTableID)
	d.publish(ctx, domain.EventJobStarted, job, ProgressPayload{RoundTableID: job.RoundTableID})

	result, err := d.execute(ctx, job)
	if err != nil {
		tracer.RecordError(span, err)
		d.fail(ctx, job, err)
		return err
	}

	if err := d.store.CompleteJob(ctx, jobID, result); err != nil {
		tracer.RecordError(span, err)
		d.fail(ctx, job, err)
		return err
	}
	tracer.SetOK(span)
	d.logger.Info("job completed", "job_id", jobID)
	d.publish(ctx, domain.EventJobCompleted, job, ProgressPayload{RoundTableID: job.RoundTableID})
	return nil
}

func (d *Driver) execute(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	rounds, err := d.runRounds(ctx, job)
	if err != nil {
		return nil, err
	}

	switch job.Type {
	case domain.JobTypeMoEVote:
		res, err := d.vote(ctx, job, rounds)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	default:
		msgs, err := d.store.ListMessages(ctx, job.RoundTableID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(domain.DiscussionResult{RoundsCompleted: rounds, MessageCount: len(msgs)})
	}
}

// runRounds runs rounds until the table has used up its rounds and returns
// the number of completed rounds.
func (d *Driver) runRounds(ctx context.Context, job *domain.Job) (int, error) {
	for {
		done, finished, err := d.nextRound(ctx, job)
		if err != nil {
			return 0, err
		}
		if finished {
			return done, nil
		}
	}
}

// nextRound claims the table, re-checks it and runs one round unless the
// table has used up its rounds. An interactive round on the same table
// delays the job until it has ended.
func (d *Driver) nextRound(ctx context.Context, job *domain.Job) (done int, finished bool, err error) {
	const op = "Driver.nextRound"
	release, err := d.orchestrator.LockTable(ctx, job.RoundTableID)
	if err != nil {
		return 0, false, err
	}
	defer release()

	rt, err := d.store.GetRoundTable(ctx, job.RoundTableID)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, false, stopped(op, "round table was deleted")
	}
	if err != nil {
		return 0, false, err
	}
	if rt.Status != domain.RoundTableActive {
		return 0, false, stopped(op, fmt.Sprintf("round table is %s", rt.Status))
	}

	done, err = d.store.CountCompletedRounds(ctx, rt.ID)
	if err != nil {
		return 0, false, err
	}
	if done >= rt.MaxRounds {
		return done, true, nil
	}
	return 0, false, d.runRound(ctx, job, rt)
}

func (d *Driver) runRound(ctx context.Context, job *domain.Job, rt *domain.RoundTable) error {
	prior, err := d.store.ListMessages(ctx, rt.ID)
	if err != nil {
		return err
	}
	round, err := d.store.CreateRound(ctx, rt.ID)
	if err != nil {
		return err
	}

	ctx, span := tracer.StartSpan(ctx, "job.round", trace.WithAttributes(
		tracer.StringAttr("job.id", job.ID),
		tracer.IntAttr("round.number", round.Number),
	))
	defer span.End()

	lang := job.Options.Language
	if lang == domain.LanguageAuto {
		lang = discussion.Language(rt, d.cfg)
	}

	results, err := d.orchestrator.RunRound(ctx, discussion.RoundInput{
		RoundTableID: rt.ID,
		Topic:        rt.Topic,
		RoundNumber:  round.Number,
		Agents:       rt.Agents,
		Prior:        prior,
		Language:     lang,
	}, domain.SinkFunc(func(context.Context, domain.RoundEvent) {}))
	if err != nil {
		tracer.RecordError(span, err)
		return err
	}

	for _, res := range results {
		if err := d.store.SaveMessage(ctx, res.Message(round.ID, round.Number)); err != nil {
			tracer.RecordError(span, err)
			return err
		}
	}
	if err := d.store.CompleteRound(ctx, round.ID); err != nil {
		tracer.RecordError(span, err)
		return err
	}
	if err := d.store.UpdateJobProgress(ctx, job.ID, round.Number, domain.PhaseDiscussion); err != nil {
		tracer.RecordError(span, err)
		return err
	}
	tracer.SetOK(span)

	d.logger.Info("job round completed", "job_id", job.ID, "round_table_id", rt.ID, "round", round.Number)
	d.publish(ctx, domain.EventJobRoundCompleted, job, ProgressPayload{
		RoundTableID: rt.ID,
		Round:        round.Number,
		Phase:        domain.PhaseDiscussion,
	})
	return nil
}

func (d *Driver) vote(ctx context.Context, job *domain.Job, rounds int) (*domain.MoEVoteResult, error) {
	ctx, span := tracer.StartSpan(ctx, "job.vote", trace.WithAttributes(tracer.StringAttr("job.id", job.ID)))
	defer span.End()

	rt, err := d.store.GetRoundTable(ctx, job.RoundTableID)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	transcript, err := d.store.ListMessages(ctx, rt.ID)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	if err := d.setPhase(ctx, job, rounds, domain.PhaseVoting); err != nil {
		return nil, err
	}
	voters := job.Options.Voters
	if len(voters) == 0 {
		voters = rt.Agents
	}
	ballots := d.voter.CollectBallots(ctx, rt, voters, transcript, job.Options.Question)

	if err := d.setPhase(ctx, job, rounds, domain.PhaseAggregating); err != nil {
		return nil, err
	}
	res, err := Aggregate(rt.Agents, ballots, rounds)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(tracer.StringAttr("vote.decision", res.Decision))
	tracer.SetOK(span)
	return res, nil
}

func (d *Driver) setPhase(ctx context.Context, job *domain.Job, round int, phase domain.JobPhase) error {
	if err := d.store.UpdateJobProgress(ctx, job.ID, round, phase); err != nil {
		return err
	}
	d.logger.Info("job phase changed", "job_id", job.ID, "phase", phase)
	d.publish(ctx, domain.EventJobPhaseChanged, job, ProgressPayload{RoundTableID: job.RoundTableID, Round: round, Phase: phase})
	return nil
}

// fail records err on the job. A stop caused by the table leaving the active
// state is recorded as FailureStopped, anything else as FailureError.
func (d *Driver) fail(ctx context.Context, job *domain.Job, err error) {
	ctx = context.WithoutCancel(ctx)
	kind := domain.FailureError
	if errors.Is(err, domain.ErrRoundTableNotActive) {
		kind = domain.FailureStopped
	}

	d.logger.Error("job failed", "job_id", job.ID, "round_table_id", job.RoundTableID, "failure_kind", kind, "error", err)
	if ferr := d.store.FailJob(ctx, job.ID, kind, err.Error()); ferr != nil {
		d.logger.Error("record job failure", "job_id", job.ID, "error", ferr)
	}
	d.publish(ctx, domain.EventJobFailed, job, ProgressPayload{
		RoundTableID: job.RoundTableID,
		Error:        err.Error(),
		FailureKind:  kind,
	})
}

func (d *Driver) publish(ctx context.Context, typ domain.EventType, job *domain.Job, payload ProgressPayload) {
	if d.bus == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		d.logger.Warn("marshal job event", "job_id", job.ID, "error", err)
		return
	}
	d.bus.Publish(ctx, domain.Event{Type: typ, Timestamp: d.now(), JobID: job.ID, Payload: raw})
}

func stopped(op, detail string) error {
	return domain.NewSubSystemError("job", op, domain.ErrRoundTableNotActive, "stopped: "+detail)
}
