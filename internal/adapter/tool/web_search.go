package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
	"github.com/DanielMax937/round-table-sub000/internal/infra/config"
	"github.com/DanielMax937/round-table-sub000/internal/infra/tracer"
)

const (
	defaultMaxResults     = 5
	defaultMaxQueryLength = 400
	defaultConcurrency    = 3
	defaultFetchTimeout   = 10 * time.Second
	defaultCacheTTL       = 24 * time.Hour

	// maxContentPerResult bounds each result in the text handed to the model.
	maxContentPerResult = 1500
)

// WebSearchTool discovers results for a query, enriches each one with the
// page's extracted text, and caches the enriched list by normalized query.
type WebSearchTool struct {
	discovery domain.SearchDiscovery
	fetcher   domain.ContentFetcher // nil disables enrichment
	cache     domain.SearchCache    // nil disables caching
	logger    *slog.Logger
	now       func() time.Time

	maxResults     int
	maxQueryLength int
	concurrency    int
	fetchTimeout   time.Duration
	cacheTTL       time.Duration
}

// WebSearchOption customizes a WebSearchTool.
type WebSearchOption func(*WebSearchTool)

// WithFetcher enables enrichment through f.
func WithFetcher(f domain.ContentFetcher) WebSearchOption {
	return func(t *WebSearchTool) { t.fetcher = f }
}

// WithCache stores enriched results in c.
func WithCache(c domain.SearchCache) WebSearchOption {
	return func(t *WebSearchTool) { t.cache = c }
}

// WithClock overrides the clock used for tool-call timestamps.
func WithClock(now func() time.Time) WebSearchOption {
	return func(t *WebSearchTool) { t.now = now }
}

// NewWebSearchTool builds the web_search tool. Zero values in cfg fall back
// to defaults.
func NewWebSearchTool(discovery domain.SearchDiscovery, cfg config.SearchConfig, logger *slog.Logger, opts ...WebSearchOption) *WebSearchTool {
	t := &WebSearchTool{
		discovery:      discovery,
		logger:         logger,
		now:            time.Now,
		maxResults:     cfg.MaxResults,
		maxQueryLength: cfg.MaxQueryLength,
		concurrency:    cfg.Enrich.Concurrency,
		fetchTimeout:   cfg.Enrich.FetchTimeout,
		cacheTTL:       cfg.Cache.TTL,
	}
	if t.maxResults <= 0 {
		t.maxResults = defaultMaxResults
	}
	if t.maxQueryLength <= 0 {
		t.maxQueryLength = defaultMaxQueryLength
	}
	if t.concurrency <= 0 {
		t.concurrency = defaultConcurrency
	}
	if t.fetchTimeout <= 0 {
		t.fetchTimeout = defaultFetchTimeout
	}
	if t.cacheTTL <= 0 {
		t.cacheTTL = defaultCacheTTL
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web for current information. Returns titles, URLs and extracted page text."
}

func (t *WebSearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query"}
			},
			"required": ["query"]
		}`),
	}
}

type webSearchParams struct {
	Query string `json:"query"`
}

// Execute runs a search and always attaches a WebSearchCall record, even
// when the search fails.
func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.web_search", t.logger, params, t.run, t.failedCall)
}

func (t *WebSearchTool) run(ctx context.Context, span trace.Span, p webSearchParams) (*domain.ToolResult, error) {
	query := strings.TrimSpace(p.Query)
	span.SetAttributes(tracer.StringAttr("search.query", query))

	started := t.now()
	results, err := t.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(tracer.IntAttr("search.results", len(results)))
	return &domain.ToolResult{
		Content: formatResults(query, results),
		Record:  &domain.WebSearchCall{Query: query, Timestamp: started, Results: results},
	}, nil
}

func (t *WebSearchTool) failedCall(p webSearchParams, err error) domain.ToolCallRecord {
	return &domain.WebSearchCall{Query: strings.TrimSpace(p.Query), Timestamp: t.now(), Error: err.Error()}
}

// RejectedRecord records a call whose arguments were refused before the
// search ran. Whatever query can be read from params is kept.
func (t *WebSearchTool) RejectedRecord(params json.RawMessage, err error) domain.ToolCallRecord {
	var p webSearchParams
	_ = json.Unmarshal(params, &p)
	return t.failedCall(p, err)
}

// Search returns enriched results for query, serving from the cache when an
// entry for the normalized query is still fresh.
func (t *WebSearchTool) Search(ctx context.Context, query string) ([]domain.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.NewSubSystemError("search", "WebSearchTool.Search", domain.ErrInvalidInput, "query is required")
	}
	query = truncateQuery(query, t.maxQueryLength)
	key := strings.ToLower(query)

	if t.cache != nil {
		cached, err := t.cache.Get(ctx, key)
		switch {
		case err == nil:
			t.logger.Debug("search cache hit", "query", key, "results", len(cached))
			return cached, nil
		case !errors.Is(err, domain.ErrCacheMiss):
			t.logger.Warn("search cache read failed", "query", key, "error", err)
		}
	}

	results, err := t.discover(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return []domain.SearchResult{}, nil
	}

	results = dedupeByURL(results)
	t.enrich(ctx, results)

	if t.cache != nil {
		if err := t.cache.Set(ctx, key, results, t.cacheTTL); err != nil {
			t.logger.Warn("search cache write failed", "query", key, "error", err)
		}
	}
	return results, nil
}

func (t *WebSearchTool) discover(ctx context.Context, query string) ([]domain.SearchResult, error) {
	ctx, span := tracer.StartSpan(ctx, "search.discover",
		trace.WithAttributes(tracer.StringAttr("search.backend", t.discovery.Name())),
	)
	defer span.End()

	results, err := t.discovery.Search(ctx, query, t.maxResults)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	if len(results) > t.maxResults {
		results = results[:t.maxResults]
	}
	tracer.SetOK(span)
	return results, nil
}

// enrich fills Content and Source on every result in place. A failed or
// empty fetch falls back to the snippet.
func (t *WebSearchTool) enrich(ctx context.Context, results []domain.SearchResult) {
	ctx, span := tracer.StartSpan(ctx, "search.enrich",
		trace.WithAttributes(tracer.IntAttr("search.urls", len(results))),
	)
	defer span.End()

	if t.fetcher == nil {
		for i := range results {
			fallback(&results[i])
		}
		tracer.SetOK(span)
		return
	}

	var g errgroup.Group
	g.SetLimit(t.concurrency)
	for i := range results {
		r := &results[i]
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, t.fetchTimeout)
			defer cancel()

			text, err := t.fetcher.Fetch(fetchCtx, r.URL)
			if err != nil || strings.TrimSpace(text) == "" {
				t.logger.Debug("enrichment fell back to snippet", "url", r.URL, "error", err)
				fallback(r)
				return nil
			}
			r.Content = text
			r.Source = domain.SourceFetched
			return nil
		})
	}
	_ = g.Wait()
	tracer.SetOK(span)
}

func fallback(r *domain.SearchResult) {
	r.Content = r.Snippet
	r.Source = domain.SourceFallback
}

// dedupeByURL copies results, dropping repeated URLs.
func dedupeByURL(results []domain.SearchResult) []domain.SearchResult {
	seen := make(map[string]struct{}, len(results))
	out := make([]domain.SearchResult, 0, len(results))
	for _, r := range results {
		if _, dup := seen[r.URL]; dup {
			continue
		}
		seen[r.URL] = struct{}{}
		out = append(out, r)
	}
	return out
}

func truncateQuery(q string, max int) string {
	if utf8.RuneCountInString(q) <= max {
		return q
	}
	return strings.TrimSpace(string([]rune(q)[:max]))
}

func formatResults(query string, results []domain.SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n", query)
	for i, r := range results {
		content := r.Content
		if content == "" {
			content = r.Snippet
		}
		if utf8.RuneCountInString(content) > maxContentPerResult {
			content = string([]rune(content)[:maxContentPerResult]) + "..."
		}
		fmt.Fprintf(&b, "\n%d. %s\n   URL: %s\n   %s\n", i+1, r.Title, r.URL, content)
	}
	return b.String()
}
