package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
// Provider API keys are checked when the provider is constructed, so commands
// that never call a model (migrate, encrypt-secret) still load.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateLLM(cfg, ve)
	validateSearch(cfg, ve)
	validateDiscussion(cfg, ve)
	validateJobs(cfg, ve)
	validateStore(cfg, ve)
	validateScheduler(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	if cfg.Server.Addr == "" {
		ve.Add("server.addr is required")
	} else if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		ve.Add("server.addr %q is invalid: %v", cfg.Server.Addr, err)
	}
	if cfg.Server.RateLimitRPM < 0 || cfg.Server.RateLimitBurst < 0 {
		ve.Add("server.rate_limit_rpm and server.rate_limit_burst must be >= 0")
	}
}

var validProviderTypes = map[string]bool{
	"openai":     true,
	"openrouter": true,
	"ollama":     true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}

	seen := make(map[string]bool)
	foundDefault := false
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if p.Type != "" && !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: openai, openrouter, ollama)", i, p.Type)
		}
		if p.Model == "" {
			ve.Add("llm.providers[%d] (%s): model is required", i, p.Name)
		}
		if p.Name == cfg.LLM.DefaultProvider {
			foundDefault = true
		}
	}

	if !foundDefault && cfg.LLM.DefaultProvider != "" {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}

	cb := cfg.LLM.CircuitBreaker
	if cb.Enabled && (cb.MaxFailures == 0 || cb.Timeout <= 0) {
		ve.Add("llm.circuit_breaker.max_failures and timeout must be > 0 when enabled")
	}
}

func validateSearch(cfg *Config, ve *ValidationError) {
	s := cfg.Search
	switch s.Backend {
	case "searxng":
		if s.SearXNGURL == "" {
			ve.Add("search.searxng_url is required for the searxng backend")
		}
	case "serper", "brave":
	default:
		ve.Add("search.backend %q is invalid (want: searxng, serper, brave)", s.Backend)
	}
	if s.MaxResults <= 0 {
		ve.Add("search.max_results must be > 0")
	}
	if s.MaxQueryLength <= 0 {
		ve.Add("search.max_query_length must be > 0")
	}

	switch s.Cache.Backend {
	case "memory", "sqlite", "none":
	case "redis":
		if s.Cache.RedisURL == "" {
			ve.Add("search.cache.redis_url is required for the redis cache")
		}
	default:
		ve.Add("search.cache.backend %q is invalid (want: memory, redis, sqlite, none)", s.Cache.Backend)
	}
	if s.Cache.Backend != "none" && s.Cache.TTL <= 0 {
		ve.Add("search.cache.ttl must be > 0")
	}

	switch s.Enrich.Fetcher {
	case "http", "chromedp", "none":
	default:
		ve.Add("search.enrich.fetcher %q is invalid (want: http, chromedp, none)", s.Enrich.Fetcher)
	}
	if s.Enrich.Fetcher != "none" {
		if s.Enrich.Concurrency <= 0 {
			ve.Add("search.enrich.concurrency must be > 0")
		}
		if s.Enrich.FetchTimeout <= 0 {
			ve.Add("search.enrich.fetch_timeout must be > 0")
		}
	}
}

func validateDiscussion(cfg *Config, ve *ValidationError) {
	d := cfg.Discussion
	switch d.DefaultLanguage {
	case "", "zh", "en":
	default:
		ve.Add("discussion.default_language %q is invalid (want: \"\", zh, en)", d.DefaultLanguage)
	}
	if d.MinAgents < 1 {
		ve.Add("discussion.min_agents must be >= 1")
	}
	if d.MaxAgents < d.MinAgents {
		ve.Add("discussion.max_agents must be >= min_agents")
	}
	if d.MaxRoundsLimit <= 0 {
		ve.Add("discussion.max_rounds_limit must be > 0")
	}
	if d.MaxToolIterations < 0 {
		ve.Add("discussion.max_tool_iterations must be >= 0")
	}
}

func validateJobs(cfg *Config, ve *ValidationError) {
	if cfg.Jobs.MaxConcurrent <= 0 {
		ve.Add("jobs.max_concurrent must be > 0")
	}
	if cfg.Jobs.VoteScoreMax <= 0 {
		ve.Add("jobs.vote_score_max must be > 0")
	}
}

func validateStore(cfg *Config, ve *ValidationError) {
	if cfg.Store.Path == "" {
		ve.Add("store.path is required")
	}
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	if cfg.Scheduler.CachePurge == "" && cfg.Scheduler.StaleJobReap == "" {
		ve.Add("scheduler is enabled but no schedules are set")
	}
	if cfg.Scheduler.StaleJobReap != "" && cfg.Scheduler.StaleJobAfter <= 0 {
		ve.Add("scheduler.stale_job_after must be > 0")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}
