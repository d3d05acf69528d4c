// Package integration holds end-to-end tests that talk to a real model
// endpoint and search backend. They only build with -tags integration.
package integration

import (
	"context"
	"os"
	"testing"
	"time"
)

// Config holds integration test configuration from environment
type Config struct {
	LLMBaseURL  string
	LLMAPIKey   string
	LLMModel    string
	SearXNGURL  string
	TestTimeout time.Duration
}

// LoadConfig loads integration test configuration from environment
func LoadConfig() *Config {
	cfg := &Config{
		LLMBaseURL:  os.Getenv("ROUNDTABLE_IT_BASE_URL"),
		LLMAPIKey:   os.Getenv("ROUNDTABLE_IT_API_KEY"),
		LLMModel:    os.Getenv("ROUNDTABLE_IT_MODEL"),
		SearXNGURL:  os.Getenv("ROUNDTABLE_IT_SEARXNG_URL"),
		TestTimeout: 3 * time.Minute,
	}
	if cfg.LLMBaseURL == "" {
		cfg.LLMBaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLMModel == "" {
		cfg.LLMModel = "gpt-4o-mini"
	}
	return cfg
}

// SkipIfUnset skips the test when an env-provided value is missing.
func SkipIfUnset(t *testing.T, value, env string) {
	t.Helper()
	if value == "" {
		t.Skipf("Skipping integration test: %s not set", env)
	}
}

// SkipIfShort skips integration tests in short mode
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
