package httpapi

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

const eventQueueSize = 64

var defaultOriginPatterns = []string{
	"localhost",
	"localhost:*",
	"127.0.0.1",
	"127.0.0.1:*",
	"[::1]",
	"[::1]:*",
}

// handleEvents upgrades to a WebSocket and pushes job events as JSON
// frames. With ?job_id= only that job's events are sent. Slow clients lose
// events rather than stall the bus. The subscription is in place before the
// upgrade completes, so a client sees every event published after dialling.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	queue := make(chan domain.Event, eventQueueSize)
	forward := func(_ context.Context, ev domain.Event) {
		select {
		case queue <- ev:
		default:
			s.logger.Warn("dropped job event for slow websocket client", "job_id", ev.JobID, "event", ev.Type)
		}
	}

	jobID := r.URL.Query().Get("job_id")
	var unsub func()
	if jobID != "" {
		unsub = s.feed.SubscribeJob(jobID, forward)
	} else {
		unsub = s.feed.SubscribeAll(forward)
	}
	defer unsub()

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = defaultOriginPatterns
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: origins})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer ws.Close(websocket.StatusInternalError, "")

	s.logger.Info("event feed client connected", "job_id", jobID)
	ctx := ws.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("event feed client disconnected", "job_id", jobID)
			ws.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-queue:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, ws, ev)
			cancel()
			if err != nil {
				s.logger.Debug("event feed write failed", "error", err)
				return
			}
		}
	}
}
