package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Brave queries the Brave Search web API.
type Brave struct {
	apiKey   string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewBrave(apiKey string, client *http.Client, logger *slog.Logger) *Brave {
	return &Brave{apiKey: apiKey, endpoint: braveEndpoint, client: client, logger: logger}
}

func (b *Brave) Name() string { return "brave" }

func (b *Brave) Search(ctx context.Context, query string, count int) ([]domain.SearchResult, error) {
	u, err := url.Parse(b.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	body, err := do(b.client, req, "brave.Search")
	if err != nil {
		return nil, err
	}

	var resp braveResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.NewSubSystemError("search", "brave.Search", domain.ErrProviderError, fmt.Sprintf("parse response: %v", err))
	}

	var out []domain.SearchResult
	for _, r := range resp.Web.Results {
		if len(out) >= count {
			break
		}
		out = append(out, domain.SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	b.logger.Debug("brave search completed", "query", query, "results", len(out))
	return out, nil
}
