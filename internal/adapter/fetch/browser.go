package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
	"github.com/DanielMax937/round-table-sub000/internal/infra/config"
	"github.com/DanielMax937/round-table-sub000/internal/security"
)

// BrowserFetcher renders pages in a shared headless Chrome so script-built
// pages yield their text. Chrome starts lazily on the first Fetch; each
// Fetch opens and closes its own tab.
type BrowserFetcher struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	startOnce     sync.Once
	startErr      error
	timeout       time.Duration
	maxChars      int
	logger        *slog.Logger
}

func NewBrowserFetcher(cfg config.EnrichConfig, logger *slog.Logger) *BrowserFetcher {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	opts := make([]chromedp.ExecAllocatorOption, len(chromedp.DefaultExecAllocatorOptions))
	copy(opts, chromedp.DefaultExecAllocatorOptions[:])
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(userAgent),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	f := &BrowserFetcher{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		timeout:       cfg.FetchTimeout,
		maxChars:      cfg.MaxChars,
		logger:        logger,
	}
	if f.timeout <= 0 {
		f.timeout = 20 * time.Second
	}
	if f.maxChars <= 0 {
		f.maxChars = defaultMaxChars
	}
	return f
}

// Fetch implements domain.ContentFetcher.
func (f *BrowserFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if err := security.ValidateURL(ctx, rawURL); err != nil {
		return "", err
	}
	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	if err := f.start(); err != nil {
		return "", err
	}

	tabCtx, cancelTab := chromedp.NewContext(f.browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, f.timeout)
	defer cancelTimeout()

	// Stop the tab when the caller gives up.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var html string
	if err := chromedp.Run(tabCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("render %s: %w", rawURL, err)
	}

	text, err := extract(strings.NewReader(html), pageURL, f.maxChars)
	if err != nil {
		return "", err
	}
	f.logger.Debug("page rendered", "url", rawURL, "chars", len(text))
	return text, nil
}

// start launches Chrome bound to browserCtx so tabs share one process.
func (f *BrowserFetcher) start() error {
	f.startOnce.Do(func() {
		if err := chromedp.Run(f.browserCtx); err != nil {
			f.startErr = fmt.Errorf("start browser: %w", err)
		}
	})
	return f.startErr
}

// Close shuts the browser down.
func (f *BrowserFetcher) Close() {
	if f.browserCancel != nil {
		f.browserCancel()
	}
	if f.allocCancel != nil {
		f.allocCancel()
	}
}

var _ domain.ContentFetcher = (*BrowserFetcher)(nil)
