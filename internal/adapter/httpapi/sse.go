package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

// sseSink writes round events as Server-Sent Events. Headers are sent with
// the first event, so a request that fails before any event can still get a
// plain JSON error. After Close or a failed write every Emit is a no-op.
type sseSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
	closed  bool
	logger  *slog.Logger
}

func newSSESink(w http.ResponseWriter, logger *slog.Logger) *sseSink {
	return &sseSink{w: w, rc: http.NewResponseController(w), logger: logger}
}

func (s *sseSink) Emit(_ context.Context, ev domain.RoundEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("encode round event", "type", ev.Type, "error", err)
		return
	}

	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		s.logger.Debug("sse client gone", "error", err)
		s.closed = true
		return
	}
	if err := s.rc.Flush(); err != nil {
		s.closed = true
	}
}

// Started reports whether any event was written.
func (s *sseSink) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *sseSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
