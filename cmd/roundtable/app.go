package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DanielMax937/round-table-sub000/internal/adapter/cache"
	"github.com/DanielMax937/round-table-sub000/internal/adapter/fetch"
	"github.com/DanielMax937/round-table-sub000/internal/adapter/httpapi"
	"github.com/DanielMax937/round-table-sub000/internal/adapter/search"
	"github.com/DanielMax937/round-table-sub000/internal/adapter/store/sqlite"
	"github.com/DanielMax937/round-table-sub000/internal/adapter/tool"
	"github.com/DanielMax937/round-table-sub000/internal/domain"
	"github.com/DanielMax937/round-table-sub000/internal/infra/config"
	"github.com/DanielMax937/round-table-sub000/internal/usecase/discussion"
	"github.com/DanielMax937/round-table-sub000/internal/usecase/eventbus"
	"github.com/DanielMax937/round-table-sub000/internal/usecase/job"
	"github.com/DanielMax937/round-table-sub000/internal/usecase/scheduling"
)

// app holds every long-lived component. Close releases them in reverse
// order of construction.
type app struct {
	logger    *slog.Logger
	store     *sqlite.Store
	bus       *eventbus.Bus
	tables    *discussion.Service
	driver    *job.Driver
	worker    *job.Worker
	jobs      *job.Service
	scheduler *scheduling.Scheduler
	api       *httpapi.Server

	closers []func() error
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.store, err = sqlite.Open(ctx, cfg.Store.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	provider, model, err := initLLM(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	registry, purgers, err := a.initTools(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	turns := discussion.NewTurnExecutor(provider, registry, discussion.TurnConfig{
		Model:             model,
		MaxTokens:         cfg.Discussion.MaxTokens,
		Temperature:       cfg.Discussion.Temperature,
		MaxToolIterations: cfg.Discussion.MaxToolIterations,
	}, logger)
	orchestrator := discussion.NewOrchestrator(turns, logger)
	a.tables = discussion.NewService(a.store, orchestrator, cfg.Discussion, logger)

	a.bus = eventbus.New(logger)
	a.closers = append(a.closers, func() error { a.bus.Close(); return nil })

	voter := job.NewVoter(provider, model, cfg.Jobs.VoteScoreMax, logger)
	a.driver = job.NewDriver(a.store, orchestrator, voter, a.bus, cfg.Discussion, logger)
	a.worker = job.NewWorker(a.driver, cfg.Jobs, logger)
	a.jobs = job.NewService(a.store, a.worker, a.bus, logger)

	if cfg.Scheduler.Enabled {
		a.scheduler = scheduling.NewScheduler(logger)
		if err := scheduling.Housekeeping(a.scheduler, cfg.Scheduler, a.store, logger, purgers...); err != nil {
			return nil, fmt.Errorf("scheduler: %w", err)
		}
	}

	a.api = httpapi.NewServer(a.tables, a.jobs, a.bus, cfg.Server, logger)
	return a, nil
}

// initTools builds the web_search tool with its fetcher and cache. The
// returned purgers are the caches that need periodic expiry sweeps.
func (a *app) initTools(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*tool.Registry, []scheduling.Purger, error) {
	discovery, err := search.New(cfg.Search, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("search: %w", err)
	}

	var opts []tool.WebSearchOption
	var purgers []scheduling.Purger

	switch cfg.Search.Enrich.Fetcher {
	case "http":
		opts = append(opts, tool.WithFetcher(fetch.NewHTTPFetcher(cfg.Search.Enrich, logger)))
	case "chromedp":
		browser := fetch.NewBrowserFetcher(cfg.Search.Enrich, logger)
		a.closers = append(a.closers, func() error { browser.Close(); return nil })
		opts = append(opts, tool.WithFetcher(browser))
	case "", "none":
	default:
		return nil, nil, fmt.Errorf("unknown fetcher %q", cfg.Search.Enrich.Fetcher)
	}

	switch cfg.Search.Cache.Backend {
	case "memory":
		mem := cache.NewMemory()
		opts = append(opts, tool.WithCache(mem))
		purgers = append(purgers, mem)
	case "redis":
		rc, err := cache.NewRedis(ctx, cfg.Search.Cache.RedisURL, cfg.Search.Cache.KeyPrefix, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		a.closers = append(a.closers, rc.Close)
		// redis expires keys on its own
		opts = append(opts, tool.WithCache(rc))
	case "sqlite":
		sc := a.store.SearchCache()
		opts = append(opts, tool.WithCache(sc))
		purgers = append(purgers, sc)
	case "", "none":
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Search.Cache.Backend)
	}

	// Register validates arguments against the tool's schema.
	registry := tool.NewRegistry(logger)
	if err := registry.Register(tool.NewWebSearchTool(discovery, cfg.Search, logger, opts...)); err != nil {
		return nil, nil, err
	}
	return registry, purgers, nil
}

// drainJobErrors logs background job failures until ctx is done.
func (a *app) drainJobErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case te := <-a.worker.Errors():
			a.logger.Error("background job failed", "job_id", te.JobID, "error", te.Err, "code", domain.ErrorCodeOf(te.Err))
		}
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown step failed", "error", err)
		}
	}
	a.closers = nil
}
