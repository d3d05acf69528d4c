package domain

import (
	"context"
	"encoding/json"
	"time"
)

// RoundEventType names a streamed discussion event. The value doubles as the
// SSE "event:" field.
type RoundEventType string

const (
	RoundEventRoundStart    RoundEventType = "round-start"
	RoundEventAgentStart    RoundEventType = "agent-start"
	RoundEventChunk         RoundEventType = "chunk"
	RoundEventToolCall      RoundEventType = "tool-call"
	RoundEventAgentComplete RoundEventType = "agent-complete"
	RoundEventRoundComplete RoundEventType = "round-complete"
	RoundEventMessageSaved  RoundEventType = "message-saved"
	RoundEventDone          RoundEventType = "done"
	RoundEventError         RoundEventType = "error"
)

// RoundEvent is a single event in a round's ordered event stream.
type RoundEvent struct {
	Type         RoundEventType `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	RoundTableID string         `json:"roundTableId,omitempty"`
	RoundNumber  int            `json:"roundNumber,omitempty"`
	AgentID      string         `json:"agentId,omitempty"`
	AgentName    string         `json:"agentName,omitempty"`
	Chunk        string         `json:"chunk,omitempty"`
	ToolCall     ToolCallRecord `json:"toolCall,omitempty"`
	Message      *Message       `json:"message,omitempty"`
	Error        string         `json:"error,omitempty"`
	ErrorCode    ErrorCode      `json:"errorCode,omitempty"`
}

// MarshalJSON inlines the tool-call type tag.
func (e RoundEvent) MarshalJSON() ([]byte, error) {
	type plain RoundEvent
	out := struct {
		plain
		ToolCall json.RawMessage `json:"toolCall,omitempty"`
	}{plain: plain(e)}
	if e.ToolCall != nil {
		list, err := ToolCalls{e.ToolCall}.MarshalJSON()
		if err != nil {
			return nil, err
		}
		var items []json.RawMessage
		if err := json.Unmarshal(list, &items); err != nil {
			return nil, err
		}
		out.ToolCall = items[0]
	}
	return json.Marshal(out)
}

// EventSink receives round events in order. Implementations must not block
// indefinitely and must tolerate calls after their consumer has gone away.
type EventSink interface {
	Emit(ctx context.Context, ev RoundEvent)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, ev RoundEvent)

func (f SinkFunc) Emit(ctx context.Context, ev RoundEvent) { f(ctx, ev) }

// EventType identifies the kind of event published on the event bus.
type EventType string

const (
	EventJobSubmitted      EventType = "job.submitted"
	EventJobStarted        EventType = "job.started"
	EventJobRoundCompleted EventType = "job.round_completed"
	EventJobPhaseChanged   EventType = "job.phase_changed"
	EventJobCompleted      EventType = "job.completed"
	EventJobFailed         EventType = "job.failed"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	JobID     string          `json:"job_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
