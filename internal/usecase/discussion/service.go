package discussion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
	"github.com/DanielMax937/round-table-sub000/internal/infra/config"
)

// Store is the persistence the discussion service needs.
type Store interface {
	domain.RoundTableStore
	domain.RoundStore
}

// AgentInput describes a participant of a new round table.
type AgentInput struct {
	Name    string `json:"name"`
	Persona string `json:"persona"`
}

// CreateRoundTableInput describes a new round table.
type CreateRoundTableInput struct {
	Topic     string          `json:"topic"`
	MaxRounds int             `json:"max_rounds"`
	Language  domain.Language `json:"language,omitempty"`
	Agents    []AgentInput    `json:"agents"`
}

// Service manages round tables and runs interactive rounds.
type Service struct {
	store        Store
	orchestrator *Orchestrator
	cfg          config.DiscussionConfig
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(store Store, orchestrator *Orchestrator, cfg config.DiscussionConfig, logger *slog.Logger) *Service {
	return &Service{store: store, orchestrator: orchestrator, cfg: cfg, logger: logger, now: time.Now}
}

// CreateRoundTable validates in and stores the table with its agents. Agents
// speak in the order given.
func (s *Service) CreateRoundTable(ctx context.Context, in CreateRoundTableInput) (*domain.RoundTable, error) {
	const op = "Service.CreateRoundTable"
	invalid := func(detail string) error {
		return domain.NewSubSystemError("roundtable", op, domain.ErrInvalidInput, detail)
	}

	topic := strings.TrimSpace(in.Topic)
	if topic == "" {
		return nil, invalid("topic is required")
	}
	if n := len(in.Agents); n < s.cfg.MinAgents || (s.cfg.MaxAgents > 0 && n > s.cfg.MaxAgents) {
		return nil, invalid(fmt.Sprintf("need between %d and %d agents, got %d", s.cfg.MinAgents, s.cfg.MaxAgents, n))
	}
	if in.MaxRounds <= 0 {
		return nil, invalid("max_rounds must be positive")
	}
	if s.cfg.MaxRoundsLimit > 0 && in.MaxRounds > s.cfg.MaxRoundsLimit {
		return nil, invalid(fmt.Sprintf("max_rounds exceeds limit %d", s.cfg.MaxRoundsLimit))
	}
	if !in.Language.Valid() {
		return nil, invalid(fmt.Sprintf("unsupported language %q", in.Language))
	}

	rt := &domain.RoundTable{
		Topic:     topic,
		Status:    domain.RoundTableActive,
		MaxRounds: in.MaxRounds,
		Language:  in.Language,
		Agents:    make([]domain.Agent, 0, len(in.Agents)),
	}
	for i, a := range in.Agents {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return nil, invalid(fmt.Sprintf("agent %d has no name", i+1))
		}
		rt.Agents = append(rt.Agents, domain.Agent{Name: name, Persona: strings.TrimSpace(a.Persona), TurnOrder: i + 1})
	}

	if err := s.store.CreateRoundTable(ctx, rt); err != nil {
		return nil, err
	}
	s.logger.Info("round table created", "round_table_id", rt.ID, "agents", len(rt.Agents), "max_rounds", rt.MaxRounds)
	return rt, nil
}

func (s *Service) GetRoundTable(ctx context.Context, id string) (*domain.RoundTable, error) {
	return s.store.GetRoundTable(ctx, id)
}

func (s *Service) ListRoundTables(ctx context.Context) ([]domain.RoundTable, error) {
	return s.store.ListRoundTables(ctx)
}

func (s *Service) SetStatus(ctx context.Context, id string, status domain.RoundTableStatus) error {
	if err := s.store.UpdateRoundTableStatus(ctx, id, status); err != nil {
		return err
	}
	s.logger.Info("round table status changed", "round_table_id", id, "status", status)
	return nil
}

func (s *Service) DeleteRoundTable(ctx context.Context, id string) error {
	return s.store.DeleteRoundTable(ctx, id)
}

func (s *Service) ListMessages(ctx context.Context, id string) ([]domain.Message, error) {
	if _, err := s.store.GetRoundTable(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, id)
}

// CheckCanStart rejects a round for a table that is not active or has used
// up its rounds.
func CheckCanStart(ctx context.Context, store domain.RoundStore, rt *domain.RoundTable) error {
	const op = "discussion.CheckCanStart"
	if rt.Status != domain.RoundTableActive {
		return domain.NewSubSystemError("roundtable", op, domain.ErrRoundTableNotActive,
			fmt.Sprintf("round table is %s", rt.Status))
	}
	done, err := store.CountCompletedRounds(ctx, rt.ID)
	if err != nil {
		return err
	}
	if done >= rt.MaxRounds {
		return domain.NewSubSystemError("roundtable", op, domain.ErrMaxRoundsReached,
			fmt.Sprintf("%d of %d rounds completed", done, rt.MaxRounds))
	}
	return nil
}

// Language resolves the table's language against the configured default.
func Language(rt *domain.RoundTable, cfg config.DiscussionConfig) domain.Language {
	if rt.Language != domain.LanguageAuto {
		return rt.Language
	}
	return domain.Language(cfg.DefaultLanguage)
}

// RunRound runs the next round of table id interactively. Each message is
// saved as soon as its agent finishes and announced with message-saved; the
// round is completed once every message is stored. Failures are reported to
// sink as an error event and returned.
func (s *Service) RunRound(ctx context.Context, id string, sink domain.EventSink) (*domain.Round, error) {
	release, err := s.orchestrator.LockTable(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	rt, err := s.store.GetRoundTable(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckCanStart(ctx, s.store, rt); err != nil {
		return nil, err
	}

	prior, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	round, err := s.store.CreateRound(ctx, id)
	if err != nil {
		return nil, err
	}

	emit := func(ev domain.RoundEvent) {
		ev.Timestamp = s.now()
		ev.RoundTableID = id
		ev.RoundNumber = round.Number
		sink.Emit(ctx, ev)
	}
	fail := func(err error) (*domain.Round, error) {
		s.logger.Error("round failed", "round_table_id", id, "round", round.Number, "error", err)
		emit(domain.RoundEvent{Type: domain.RoundEventError, Error: err.Error(), ErrorCode: domain.ErrorCodeOf(err)})
		return nil, err
	}

	emit(domain.RoundEvent{Type: domain.RoundEventRoundStart})
	s.logger.Info("round started", "round_table_id", id, "round", round.Number)

	_, err = s.orchestrator.RunRound(ctx, RoundInput{
		RoundTableID: id,
		Topic:        rt.Topic,
		RoundNumber:  round.Number,
		Agents:       rt.Agents,
		Prior:        prior,
		Language:     Language(rt, s.cfg),
		OnTurnComplete: func(ctx context.Context, res AgentResult) error {
			msg := res.Message(round.ID, round.Number)
			if err := s.store.SaveMessage(ctx, msg); err != nil {
				return err
			}
			emit(domain.RoundEvent{Type: domain.RoundEventMessageSaved, AgentID: msg.AgentID, AgentName: msg.AgentName, Message: msg})
			return nil
		},
	}, sink)
	if err != nil {
		return fail(err)
	}

	if err := s.store.CompleteRound(ctx, round.ID); err != nil {
		return fail(err)
	}
	round.Status = domain.RoundCompleted
	emit(domain.RoundEvent{Type: domain.RoundEventDone})
	s.logger.Info("round completed", "round_table_id", id, "round", round.Number)
	return round, nil
}
