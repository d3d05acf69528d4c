package main

import (
	"fmt"
	"log/slog"

	"github.com/DanielMax937/round-table-sub000/internal/adapter/llm"
	"github.com/DanielMax937/round-table-sub000/internal/domain"
	"github.com/DanielMax937/round-table-sub000/internal/infra/config"
)

// initLLM builds the default provider and returns it with its model name.
// Every agent and voter talks to the same provider.
func initLLM(cfg config.LLMConfig, log *slog.Logger) (domain.StreamingLLMProvider, string, error) {
	pc, err := findProvider(cfg)
	if err != nil {
		return nil, "", err
	}

	base, err := llm.NewOpenAIProvider(pc, log)
	if err != nil {
		return nil, "", fmt.Errorf("llm provider %s: %w", pc.Name, err)
	}

	var provider domain.StreamingLLMProvider = base
	if cb := cfg.CircuitBreaker; cb.Enabled {
		provider = llm.NewCircuitBreakerProvider(base, cb, log)
		log.Info("llm circuit breaker enabled",
			"max_failures", cb.MaxFailures,
			"timeout", cb.Timeout,
			"interval", cb.Interval,
		)
	}
	return provider, pc.Model, nil
}

func findProvider(cfg config.LLMConfig) (config.ProviderConfig, error) {
	if len(cfg.Providers) == 0 {
		return config.ProviderConfig{}, fmt.Errorf("no llm providers configured")
	}
	if cfg.DefaultProvider == "" {
		return cfg.Providers[0], nil
	}
	for _, pc := range cfg.Providers {
		if pc.Name == cfg.DefaultProvider {
			return pc, nil
		}
	}
	return config.ProviderConfig{}, fmt.Errorf("default llm provider %q not configured", cfg.DefaultProvider)
}
