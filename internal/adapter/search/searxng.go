package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
		Engine  string `json:"engine"`
	} `json:"results"`
}

// SearXNG queries a self-hosted SearXNG instance through its JSON API.
type SearXNG struct {
	client      *http.Client
	instanceURL string
	logger      *slog.Logger
}

func NewSearXNG(instanceURL string, client *http.Client, logger *slog.Logger) *SearXNG {
	return &SearXNG{
		client:      client,
		instanceURL: strings.TrimRight(instanceURL, "/"),
		logger:      logger,
	}
}

func (b *SearXNG) Name() string { return "searxng" }

func (b *SearXNG) Search(ctx context.Context, query string, count int) ([]domain.SearchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.instanceURL+"/search", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("pageno", "1")
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")

	body, err := do(b.client, req, "searxng.Search")
	if err != nil {
		return nil, err
	}

	var resp searxngResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.NewSubSystemError("search", "searxng.Search", domain.ErrProviderError, fmt.Sprintf("parse response: %v", err))
	}

	results := make([]domain.SearchResult, 0, min(count, len(resp.Results)))
	for _, r := range resp.Results {
		if len(results) >= count {
			break
		}
		results = append(results, domain.SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}

	b.logger.Debug("searxng search completed", "query", query, "results", len(results))
	return results, nil
}
