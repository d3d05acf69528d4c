package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

const serperEndpoint = "https://google.serper.dev/search"

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

// Serper queries Google results through serper.dev.
type Serper struct {
	apiKey   string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewSerper(apiKey string, client *http.Client, logger *slog.Logger) *Serper {
	return &Serper{apiKey: apiKey, endpoint: serperEndpoint, client: client, logger: logger}
}

func (s *Serper) Name() string { return "serper" }

func (s *Serper) Search(ctx context.Context, query string, count int) ([]domain.SearchResult, error) {
	payload, err := json.Marshal(map[string]any{"q": query, "num": count})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	body, err := do(s.client, req, "serper.Search")
	if err != nil {
		return nil, err
	}

	var resp serperResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.NewSubSystemError("search", "serper.Search", domain.ErrProviderError, fmt.Sprintf("parse response: %v", err))
	}

	var out []domain.SearchResult
	for _, r := range resp.Organic {
		if len(out) >= count {
			break
		}
		out = append(out, domain.SearchResult{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	s.logger.Debug("serper search completed", "query", query, "results", len(out))
	return out, nil
}
