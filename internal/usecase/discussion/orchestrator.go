package discussion

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
	"github.com/DanielMax937/round-table-sub000/internal/infra/tracer"
)

// AgentResult is one completed turn within a round.
type AgentResult struct {
	AgentID   string
	AgentName string
	Content   string
	ToolCalls domain.ToolCalls
	Citations []domain.Citation
}

// Message converts r into an unsaved message for roundID.
func (r AgentResult) Message(roundID string, roundNumber int) *domain.Message {
	return &domain.Message{
		RoundID:     roundID,
		RoundNumber: roundNumber,
		AgentID:     r.AgentID,
		AgentName:   r.AgentName,
		Content:     r.Content,
		ToolCalls:   r.ToolCalls,
		Citations:   r.Citations,
	}
}

// RoundInput describes one round.
type RoundInput struct {
	RoundTableID string
	Topic        string
	RoundNumber  int
	Agents       []domain.Agent
	// Prior holds every message from earlier rounds in creation order.
	Prior    []domain.Message
	Language domain.Language
	// OnTurnComplete, when set, runs after each agent-complete event. An
	// error aborts the round.
	OnTurnComplete func(ctx context.Context, res AgentResult) error
}

// Orchestrator runs every agent through exactly one turn, strictly in turn
// order, and reports progress as round events.
type Orchestrator struct {
	turns  TurnRunner
	locks  tableLocks
	logger *slog.Logger
	now    func() time.Time
}

// LockTable waits until no other round of table id is running and claims
// the table. Callers check the round limit and create the round while
// holding the claim, and call release once the round has ended.
func (o *Orchestrator) LockTable(ctx context.Context, id string) (release func(), err error) {
	return o.locks.acquire(ctx, id)
}

func NewOrchestrator(turns TurnRunner, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{turns: turns, logger: logger, now: time.Now}
}

// RunRound runs the round and returns results for every agent. The first
// failing turn aborts the round; remaining agents do not speak. Messages are
// not persisted here.
func (o *Orchestrator) RunRound(ctx context.Context, in RoundInput, sink domain.EventSink) ([]AgentResult, error) {
	ctx, span := tracer.StartSpan(ctx, "discussion.round",
		trace.WithAttributes(
			tracer.StringAttr("round_table.id", in.RoundTableID),
			tracer.IntAttr("round.number", in.RoundNumber),
		),
	)
	defer span.End()

	agents := make([]domain.Agent, len(in.Agents))
	copy(agents, in.Agents)
	sort.SliceStable(agents, func(i, j int) bool { return agents[i].TurnOrder < agents[j].TurnOrder })

	emit := func(ev domain.RoundEvent) {
		ev.Timestamp = o.now()
		ev.RoundTableID = in.RoundTableID
		ev.RoundNumber = in.RoundNumber
		sink.Emit(ctx, ev)
	}

	results := make([]AgentResult, 0, len(agents))
	current := make([]domain.Message, 0, len(agents))

	for _, agent := range agents {
		emit(domain.RoundEvent{Type: domain.RoundEventAgentStart, AgentID: agent.ID, AgentName: agent.Name})

		res, err := o.runTurn(ctx, in, agent, current, emit)
		if err != nil {
			tracer.RecordError(span, err)
			o.logger.Error("agent turn failed",
				"round_table_id", in.RoundTableID, "round", in.RoundNumber, "agent_id", agent.ID, "error", err)
			return results, domain.WrapOp("Orchestrator.RunRound",
				fmt.Errorf("agent %q: %w", agent.Name, err))
		}

		result := AgentResult{
			AgentID:   agent.ID,
			AgentName: agent.Name,
			Content:   res.Content,
			ToolCalls: res.ToolCalls,
			Citations: res.Citations,
		}
		emit(domain.RoundEvent{
			Type:      domain.RoundEventAgentComplete,
			AgentID:   agent.ID,
			AgentName: agent.Name,
			Message:   result.Message("", in.RoundNumber),
		})

		if in.OnTurnComplete != nil {
			if err := in.OnTurnComplete(ctx, result); err != nil {
				tracer.RecordError(span, err)
				return results, domain.WrapOp("Orchestrator.RunRound", err)
			}
		}

		results = append(results, result)
		current = append(current, domain.Message{
			AgentID:     agent.ID,
			AgentName:   agent.Name,
			RoundNumber: in.RoundNumber,
			Content:     res.Content,
			CreatedAt:   o.now(),
		})
	}

	emit(domain.RoundEvent{Type: domain.RoundEventRoundComplete})
	tracer.SetOK(span)
	return results, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, in RoundInput, agent domain.Agent, current []domain.Message, emit func(domain.RoundEvent)) (*TurnResult, error) {
	events := o.turns.Stream(ctx, TurnInput{
		Agent:    agent,
		Topic:    in.Topic,
		Context:  BuildContext(in.Topic, in.RoundNumber, agent, in.Prior, current),
		Language: in.Language,
	})

	for ev := range events {
		switch ev.Kind {
		case TurnChunk:
			emit(domain.RoundEvent{Type: domain.RoundEventChunk, AgentID: agent.ID, AgentName: agent.Name, Chunk: ev.Chunk})
		case TurnToolCall:
			emit(domain.RoundEvent{Type: domain.RoundEventToolCall, AgentID: agent.ID, AgentName: agent.Name, ToolCall: ev.ToolCall})
		case TurnDone:
			return ev.Result, nil
		case TurnError:
			return nil, ev.Err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: turn ended without a result", domain.ErrStreamFailed)
}
