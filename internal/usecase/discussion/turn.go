package discussion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
	"github.com/DanielMax937/round-table-sub000/internal/infra/tracer"
)

// TurnEventKind tags a TurnEvent.
type TurnEventKind int

const (
	TurnChunk TurnEventKind = iota + 1
	TurnToolCall
	TurnDone
	TurnError
)

// TurnEvent is one item of a turn's ordered event stream. Exactly one of the
// payload fields is set, matching Kind. TurnDone and TurnError are terminal.
type TurnEvent struct {
	Kind     TurnEventKind
	Chunk    string
	ToolCall domain.ToolCallRecord
	Result   *TurnResult
	Err      error
}

// TurnResult is what one agent produced in one turn.
type TurnResult struct {
	Content   string
	ToolCalls domain.ToolCalls
	Citations []domain.Citation
}

// TurnInput describes the turn to run.
type TurnInput struct {
	Agent    domain.Agent
	Topic    string
	Context  []domain.ChatMessage
	Language domain.Language
}

// TurnConfig bounds a turn.
type TurnConfig struct {
	Model             string
	MaxTokens         int
	Temperature       float64
	MaxToolIterations int
}

// TurnRunner streams a single agent turn.
type TurnRunner interface {
	Stream(ctx context.Context, in TurnInput) <-chan TurnEvent
}

// TurnExecutor drives one model turn: it streams text, runs requested tools
// between model calls, and derives citations at the end.
type TurnExecutor struct {
	llm    domain.StreamingLLMProvider
	tools  domain.ToolExecutor // nil means no tools are offered
	cfg    TurnConfig
	logger *slog.Logger
}

func NewTurnExecutor(llm domain.StreamingLLMProvider, tools domain.ToolExecutor, cfg TurnConfig, logger *slog.Logger) *TurnExecutor {
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = 3
	}
	return &TurnExecutor{llm: llm, tools: tools, cfg: cfg, logger: logger}
}

// Stream starts the turn and returns its event channel. The channel is closed
// after a TurnDone or TurnError event, or early if ctx is cancelled.
func (e *TurnExecutor) Stream(ctx context.Context, in TurnInput) <-chan TurnEvent {
	ch := make(chan TurnEvent, 16)
	go func() {
		defer close(ch)
		emit := func(ev TurnEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		res, err := e.run(ctx, in, emit)
		if err != nil {
			emit(TurnEvent{Kind: TurnError, Err: err})
			return
		}
		emit(TurnEvent{Kind: TurnDone, Result: res})
	}()
	return ch
}

// Run executes the turn and returns only its result.
func (e *TurnExecutor) Run(ctx context.Context, in TurnInput) (*TurnResult, error) {
	return Collect(e.Stream(ctx, in))
}

// Collect drains a turn stream and returns its terminal result.
func Collect(events <-chan TurnEvent) (*TurnResult, error) {
	for ev := range events {
		switch ev.Kind {
		case TurnDone:
			return ev.Result, nil
		case TurnError:
			return nil, ev.Err
		}
	}
	return nil, fmt.Errorf("%w: turn ended without a result", domain.ErrStreamFailed)
}

func (e *TurnExecutor) run(ctx context.Context, in TurnInput, emit func(TurnEvent) bool) (*TurnResult, error) {
	ctx, span := tracer.StartSpan(ctx, "discussion.turn",
		trace.WithAttributes(
			tracer.StringAttr("agent.id", in.Agent.ID),
			tracer.StringAttr("agent.name", in.Agent.Name),
		),
	)
	defer span.End()

	messages := make([]domain.ChatMessage, 0, len(in.Context)+1)
	messages = append(messages, domain.ChatMessage{
		Role:      domain.RoleSystem,
		Content:   SystemPrompt(in.Agent, in.Topic, in.Language),
		Timestamp: time.Now(),
	})
	messages = append(messages, in.Context...)

	var (
		content strings.Builder
		records domain.ToolCalls
	)

	for i := 0; ; i++ {
		req := domain.ChatRequest{
			Model:       e.cfg.Model,
			Messages:    messages,
			MaxTokens:   e.cfg.MaxTokens,
			Temperature: e.cfg.Temperature,
		}
		// The last allowed call goes out without tools so the model must answer.
		offerTools := e.tools != nil && i < e.cfg.MaxToolIterations
		if offerTools {
			req.Tools = e.tools.Schemas()
		}
		span.AddEvent("turn.llm_call", trace.WithAttributes(tracer.IntAttr("iteration", i)))

		msg, err := e.streamOnce(ctx, req, &content, emit)
		if err != nil {
			tracer.RecordError(span, err)
			return nil, err
		}

		calls := completeCalls(msg.ToolCalls)
		if len(calls) == 0 || !offerTools {
			break
		}

		msg.ToolCalls = calls
		messages = append(messages, msg)
		for _, call := range calls {
			toolMsg, rec := e.executeTool(ctx, in.Agent, call)
			messages = append(messages, toolMsg)
			if rec == nil {
				continue
			}
			records = append(records, rec)
			if !emit(TurnEvent{Kind: TurnToolCall, ToolCall: rec}) {
				return nil, ctx.Err()
			}
		}
	}

	text := content.String()
	if records == nil {
		records = domain.ToolCalls{}
	}
	res := &TurnResult{
		Content:   text,
		ToolCalls: records,
		Citations: ExtractCitations(text, records),
	}
	span.SetAttributes(
		tracer.IntAttr("turn.tool_calls", len(records)),
		tracer.IntAttr("turn.content_len", len(text)),
	)
	tracer.SetOK(span)
	return res, nil
}

// streamOnce runs one model call, relaying text deltas as chunks and
// appending them to content. It returns the accumulated assistant message.
func (e *TurnExecutor) streamOnce(ctx context.Context, req domain.ChatRequest, content *strings.Builder, emit func(TurnEvent) bool) (domain.ChatMessage, error) {
	deltas, err := e.llm.ChatStream(ctx, req)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("start model stream: %w", err)
	}

	acc := newStreamAccumulator()
	for delta := range deltas {
		if delta.Err != nil {
			return domain.ChatMessage{}, delta.Err
		}
		acc.addDelta(delta)
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if !emit(TurnEvent{Kind: TurnChunk, Chunk: delta.Content}) {
				return domain.ChatMessage{}, ctx.Err()
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return domain.ChatMessage{}, err
	}
	return acc.build(), nil
}

// executeTool runs call and returns the tool message for the model plus the
// record to keep, if the tool produced one.
func (e *TurnExecutor) executeTool(ctx context.Context, agent domain.Agent, call domain.ToolCall) (domain.ChatMessage, domain.ToolCallRecord) {
	reply := func(content string) domain.ChatMessage {
		return domain.ChatMessage{
			Role:      domain.RoleTool,
			Content:   content,
			ToolCalls: []domain.ToolCall{{ID: call.ID, Name: call.Name}},
			Timestamp: time.Now(),
		}
	}

	tool, err := e.tools.Get(call.Name)
	if err != nil {
		e.logger.Warn("model requested unknown tool", "agent_id", agent.ID, "tool", call.Name)
		return reply(fmt.Sprintf("Error: unknown tool %q", call.Name)), nil
	}

	args := call.Arguments
	if len(args) == 0 {
		args = []byte("{}")
	}
	result, err := tool.Execute(ctx, args)
	if err != nil {
		e.logger.Warn("tool execution failed", "agent_id", agent.ID, "tool", call.Name, "error", err)
		return reply("Error: " + err.Error()), nil
	}

	e.logger.Debug("tool executed", "agent_id", agent.ID, "tool", call.Name, "is_error", result.IsError)
	return reply(result.Content), result.Record
}

// completeCalls drops accumulator slots that never received a tool name.
func completeCalls(calls []domain.ToolCall) []domain.ToolCall {
	out := calls[:0:0]
	for i, c := range calls {
		if c.Name == "" {
			continue
		}
		if c.ID == "" {
			c.ID = fmt.Sprintf("call_%d", i)
		}
		out = append(out, c)
	}
	return out
}

// maxToolCallSlots limits the number of tool call slots the accumulator
// will allocate. Slots beyond this bound are dropped.
const maxToolCallSlots = 32

// streamAccumulator collects incremental deltas into a complete message.
type streamAccumulator struct {
	content   strings.Builder
	toolCalls []domain.ToolCall // accumulated by slot
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{}
}

// addDelta merges a single streaming delta. Tool calls are tracked by
// position in delta.ToolCalls: the first fragment for a slot carries ID and
// Name, later ones append to Arguments.
func (acc *streamAccumulator) addDelta(delta domain.StreamDelta) {
	acc.content.WriteString(delta.Content)

	for idx, tc := range delta.ToolCalls {
		if idx >= maxToolCallSlots {
			break
		}
		for len(acc.toolCalls) <= idx {
			acc.toolCalls = append(acc.toolCalls, domain.ToolCall{})
		}

		existing := &acc.toolCalls[idx]
		if tc.ID != "" {
			existing.ID = tc.ID
		}
		if tc.Name != "" {
			existing.Name = tc.Name
		}
		if len(tc.Arguments) > 0 {
			existing.Arguments = append(existing.Arguments, tc.Arguments...)
		}
	}
}

func (acc *streamAccumulator) build() domain.ChatMessage {
	return domain.ChatMessage{
		Role:      domain.RoleAssistant,
		Content:   acc.content.String(),
		ToolCalls: acc.toolCalls,
		Timestamp: time.Now(),
	}
}
