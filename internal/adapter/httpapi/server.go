// Package httpapi exposes round tables, interactive rounds and background
// jobs over HTTP, with rounds streamed as Server-Sent Events and job events
// pushed over WebSocket.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
	"github.com/DanielMax937/round-table-sub000/internal/infra/config"
	"github.com/DanielMax937/round-table-sub000/internal/infra/middleware"
	"github.com/DanielMax937/round-table-sub000/internal/usecase/discussion"
	"github.com/DanielMax937/round-table-sub000/internal/usecase/job"
)

const maxBodyBytes = 1 << 20

// RoundTables is the round-table and interactive round API.
type RoundTables interface {
	CreateRoundTable(ctx context.Context, in discussion.CreateRoundTableInput) (*domain.RoundTable, error)
	GetRoundTable(ctx context.Context, id string) (*domain.RoundTable, error)
	ListRoundTables(ctx context.Context) ([]domain.RoundTable, error)
	SetStatus(ctx context.Context, id string, status domain.RoundTableStatus) error
	DeleteRoundTable(ctx context.Context, id string) error
	ListMessages(ctx context.Context, id string) ([]domain.Message, error)
	RunRound(ctx context.Context, id string, sink domain.EventSink) (*domain.Round, error)
}

// Jobs is the background job API.
type Jobs interface {
	Submit(ctx context.Context, in job.SubmitInput) (*domain.Job, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
}

// EventFeed is the subscription side of the job event bus.
type EventFeed interface {
	SubscribeAll(handler domain.EventHandler) func()
	SubscribeJob(jobID string, handler domain.EventHandler) func()
}

// Server serves the HTTP API.
type Server struct {
	tables    RoundTables
	jobs      Jobs
	feed      EventFeed
	cfg       config.ServerConfig
	logger    *slog.Logger
	httpSrv   *http.Server
	boundAddr string
}

func NewServer(tables RoundTables, jobs Jobs, feed EventFeed, cfg config.ServerConfig, logger *slog.Logger) *Server {
	return &Server{tables: tables, jobs: jobs, feed: feed, cfg: cfg, logger: logger}
}

// Handler returns the routed handler with the middleware stack applied. ctx
// bounds the rate limiter's cleanup goroutine.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/roundtables", s.handleCreateRoundTable)
	mux.HandleFunc("GET /api/roundtables", s.handleListRoundTables)
	mux.HandleFunc("GET /api/roundtables/{id}", s.handleGetRoundTable)
	mux.HandleFunc("PATCH /api/roundtables/{id}", s.handleUpdateRoundTable)
	mux.HandleFunc("DELETE /api/roundtables/{id}", s.handleDeleteRoundTable)
	mux.HandleFunc("GET /api/roundtables/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/roundtables/{id}/rounds", s.handleRunRound)

	mux.HandleFunc("POST /api/jobs", s.handleSubmitJob)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)

	mux.HandleFunc("GET /ws", s.handleEvents)

	return middleware.Chain(mux,
		middleware.Recover(s.logger),
		middleware.RequestLogger(s.logger),
		middleware.SecurityHeaders,
		middleware.RateLimit(ctx, middleware.RateLimitConfig{
			RequestsPerMin: s.cfg.RateLimitRPM,
			BurstSize:      s.cfg.RateLimitBurst,
			TrustedProxies: s.cfg.TrustedProxies,
		}),
	)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.boundAddr = ln.Addr().String()

	readHeader := s.cfg.ReadHeaderTimeout
	if readHeader <= 0 {
		readHeader = 10 * time.Second
	}
	s.httpSrv = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: readHeader,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown", "error", err)
		}
	}()

	s.logger.Info("http api started", "addr", s.boundAddr)
	if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

// BoundAddr returns the address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
