package domain

import (
	"context"
	"time"
)

// ResultSource marks how a search result's Content was obtained.
type ResultSource string

const (
	SourceFetched  ResultSource = "fetched"
	SourceFallback ResultSource = "fallback"
)

// SearchResult is one ranked web result, optionally enriched with page text.
type SearchResult struct {
	Title   string       `json:"title"`
	URL     string       `json:"url"`
	Snippet string       `json:"snippet"`
	Content string       `json:"content,omitempty"`
	Source  ResultSource `json:"source,omitempty"`
}

// SearchDiscovery returns up to count ranked results for a query.
// Implementations report ErrAuthInvalid, ErrRateLimit or ErrTimeout where applicable.
type SearchDiscovery interface {
	Search(ctx context.Context, query string, count int) ([]SearchResult, error)
	Name() string
}

// ContentFetcher extracts readable page text for a URL.
type ContentFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// SearchCache stores enriched results keyed by normalized query.
// Get returns ErrCacheMiss when the key is absent or expired.
type SearchCache interface {
	Get(ctx context.Context, key string) ([]SearchResult, error)
	Set(ctx context.Context, key string, results []SearchResult, ttl time.Duration) error
}
