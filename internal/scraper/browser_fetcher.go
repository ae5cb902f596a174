package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/price-aggregator/internal/browser"
)

// PageRenderer returns the rendered HTML of a page.
type PageRenderer interface {
	Content(ctx context.Context, url string, attempts int, retryDelay time.Duration) (string, error)
}

// BrowserFetcher renders pages in headless Chromium for sites whose
// listings are built client-side.
type BrowserFetcher struct {
	renderer    PageRenderer
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
}

func NewBrowserFetcher(renderer PageRenderer, maxAttempts int, retryDelay time.Duration, logger *slog.Logger) *BrowserFetcher {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &BrowserFetcher{
		renderer:    renderer,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		logger:      logger.With("component", "browser_fetcher"),
	}
}

func (f *BrowserFetcher) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	html, err := f.renderer.Content(ctx, url, f.maxAttempts, f.retryDelay)
	if err != nil {
		f.logger.Error("fetch failed", "url", url, "error", err)
		if errors.Is(err, browser.ErrBlocked) {
			return nil, NewNetworkError(url, 0, fmt.Errorf("%w: %w", ErrBlocked, err))
		}
		return nil, NewNetworkError(url, 0, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, NewParseError("", url, fmt.Errorf("failed to parse HTML: %w", err))
	}
	return doc, nil
}
