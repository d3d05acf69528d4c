// Package search implements domain.SearchDiscovery against SearXNG, Serper
// and Brave.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
	"github.com/DanielMax937/round-table-sub000/internal/infra/config"
)

const (
	maxSearchBodySize = 512 * 1024
	defaultTimeout    = 15 * time.Second
)

// New returns the discovery backend selected by cfg.Backend.
func New(cfg config.SearchConfig, logger *slog.Logger) (domain.SearchDiscovery, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &http.Client{Timeout: timeout}

	switch cfg.Backend {
	case "searxng":
		return NewSearXNG(cfg.SearXNGURL, client, logger), nil
	case "serper":
		if cfg.SerperAPIKey == "" {
			return nil, domain.NewSubSystemError("search", "search.New", domain.ErrAuthInvalid, "serper_api_key is empty")
		}
		return NewSerper(cfg.SerperAPIKey, client, logger), nil
	case "brave":
		if cfg.BraveAPIKey == "" {
			return nil, domain.NewSubSystemError("search", "search.New", domain.ErrAuthInvalid, "brave_api_key is empty")
		}
		return NewBrave(cfg.BraveAPIKey, client, logger), nil
	default:
		return nil, domain.NewSubSystemError("search", "search.New", domain.ErrInvalidInput,
			fmt.Sprintf("unknown backend %q", cfg.Backend))
	}
}

// do executes req and returns the body of a 200 response. Failures are mapped
// to the sentinels the web_search tool reports back to the model.
func do(client *http.Client, req *http.Request, op string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, domain.NewSubSystemError("search", op, domain.ErrTimeout, err.Error())
		}
		return nil, domain.NewSubSystemError("search", op, domain.ErrProviderError, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBodySize))
	if err != nil {
		return nil, domain.NewSubSystemError("search", op, domain.ErrProviderError, fmt.Sprintf("read response: %v", err))
	}

	detail := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, domain.NewSubSystemError("search", op, domain.ErrAuthInvalid, detail)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.NewSubSystemError("search", op, domain.ErrRateLimit, detail)
	case resp.StatusCode == http.StatusGatewayTimeout:
		return nil, domain.NewSubSystemError("search", op, domain.ErrTimeout, detail)
	default:
		return nil, domain.NewSubSystemError("search", op, domain.ErrProviderError, detail)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
