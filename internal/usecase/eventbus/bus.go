// Package eventbus fans job lifecycle events out to in-process subscribers
// such as the WebSocket feed.
package eventbus

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

const allTopic = "*"

func typeTopic(t domain.EventType) string { return "type:" + string(t) }

func jobTopic(id string) string { return "job:" + id }

type subscription struct {
	id      uint64
	handler domain.EventHandler
}

// Bus is an in-process, goroutine-safe event bus. Handlers run on their own
// goroutines, so delivery order across events is not guaranteed.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]subscription
	nextID atomic.Uint64
	logger *slog.Logger
	wg     sync.WaitGroup
	closed atomic.Bool
}

func New(logger *slog.Logger) *Bus {
	return &Bus{
		topics: make(map[string][]subscription),
		logger: logger,
	}
}

// Publish delivers event to the subscribers of its type, of its job and of
// all events. Panicking handlers are recovered and logged.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	var subs []subscription
	subs = append(subs, b.topics[typeTopic(event.Type)]...)
	if event.JobID != "" {
		subs = append(subs, b.topics[jobTopic(event.JobID)]...)
	}
	subs = append(subs, b.topics[allTopic]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.dispatch(ctx, event, sub)
	}
}

func (b *Bus) dispatch(ctx context.Context, event domain.Event, sub subscription) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("event handler panicked",
					"event", string(event.Type),
					"job_id", event.JobID,
					"panic", r,
				)
			}
		}()
		sub.handler(ctx, event)
	}()
}

// Subscribe registers a handler for one event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.subscribe(typeTopic(eventType), handler)
}

// SubscribeJob registers a handler for every event of one job.
// Returns an unsubscribe function.
func (b *Bus) SubscribeJob(jobID string, handler domain.EventHandler) func() {
	return b.subscribe(jobTopic(jobID), handler)
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.subscribe(allTopic, handler)
}

func (b *Bus) subscribe(topic string, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := slices.DeleteFunc(slices.Clone(b.topics[topic]), func(s subscription) bool { return s.id == id })
		if len(subs) == 0 {
			delete(b.topics, topic)
			return
		}
		b.topics[topic] = subs
	}
}

// Close stops new publishes and waits for in-flight handlers. It is safe to
// call more than once.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}

var _ domain.EventBus = (*Bus)(nil)
