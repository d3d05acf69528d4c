package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
	"github.com/DanielMax937/round-table-sub000/internal/infra/config"
	"github.com/DanielMax937/round-table-sub000/internal/security"
)

const (
	maxPageSize      = 2 * 1024 * 1024
	defaultUserAgent = "roundtable/1.0 (+https://github.com/DanielMax937/round-table-sub000)"
)

// HTTPFetcher downloads pages with a plain HTTP GET. Every host is checked
// against the private-address blocklist before dialling.
type HTTPFetcher struct {
	client    *http.Client
	validate  func(context.Context, string) error
	userAgent string
	maxChars  int
	logger    *slog.Logger
}

// HTTPOption configures an HTTPFetcher.
type HTTPOption func(*HTTPFetcher)

// AllowPrivateHosts disables the private-address guard. Only for tests and
// fully trusted deployments.
func AllowPrivateHosts() HTTPOption {
	return func(f *HTTPFetcher) {
		f.client = &http.Client{Timeout: f.client.Timeout}
		f.validate = func(context.Context, string) error { return nil }
	}
}

func NewHTTPFetcher(cfg config.EnrichConfig, logger *slog.Logger, opts ...HTTPOption) *HTTPFetcher {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	f := &HTTPFetcher{
		client: &http.Client{
			Transport:     security.NewSafeTransport(timeout),
			CheckRedirect: security.CheckRedirect,
			Timeout:       timeout,
		},
		validate:  security.ValidateURL,
		userAgent: cfg.UserAgent,
		maxChars:  cfg.MaxChars,
		logger:    logger,
	}
	if f.userAgent == "" {
		f.userAgent = defaultUserAgent
	}
	if f.maxChars <= 0 {
		f.maxChars = defaultMaxChars
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch implements domain.ContentFetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if err := f.validate(ctx, rawURL); err != nil {
		return "", err
	}
	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", domain.NewSubSystemError("fetch", "HTTPFetcher.Fetch", domain.ErrProviderError,
			fmt.Sprintf("%s returned HTTP %d", rawURL, resp.StatusCode))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return "", domain.NewSubSystemError("fetch", "HTTPFetcher.Fetch", domain.ErrEmptyContent,
			fmt.Sprintf("%s is %s, not html", rawURL, ct))
	}

	text, err := extract(io.LimitReader(resp.Body, maxPageSize), pageURL, f.maxChars)
	if err != nil {
		return "", err
	}
	f.logger.Debug("page fetched", "url", rawURL, "chars", len(text))
	return text, nil
}

var _ domain.ContentFetcher = (*HTTPFetcher)(nil)
