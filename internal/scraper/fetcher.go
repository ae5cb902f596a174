package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/price-aggregator/internal/ratelimit"
)

const (
	DefaultTimeout        = 10 * time.Second
	DefaultMaxAttempts    = 3
	DefaultRetryDelay     = 2 * time.Second
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultAcceptLanguage = "ja-JP,ja;q=0.9,en-US;q=0.8,en;q=0.7"

	maxBodyBytes = 10 << 20
)

// Fetcher retrieves a page and returns it as a parsed document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*goquery.Document, error)
}

type FetcherOptions struct {
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
	// MaxAttempts counts the first request too.
	MaxAttempts int
	RetryDelay  time.Duration
	Limiter     ratelimit.RateLimiter
}

func DefaultFetcherOptions() FetcherOptions {
	return FetcherOptions{
		UserAgent:      DefaultUserAgent,
		AcceptLanguage: DefaultAcceptLanguage,
		Timeout:        DefaultTimeout,
		MaxAttempts:    DefaultMaxAttempts,
		RetryDelay:     DefaultRetryDelay,
	}
}

// HTTPFetcher issues GET requests over one shared client so connections are
// pooled across retries and calls.
type HTTPFetcher struct {
	client *http.Client
	opts   FetcherOptions
	logger *slog.Logger
}

func NewHTTPFetcher(opts FetcherOptions, logger *slog.Logger) *HTTPFetcher {
	defaults := DefaultFetcherOptions()
	if opts.UserAgent == "" {
		opts.UserAgent = defaults.UserAgent
	}
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = defaults.AcceptLanguage
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:   opts,
		logger: logger.With("component", "fetcher"),
	}
}

// Fetch retries transient failures (transport errors, timeouts, 5xx, 429)
// with a linear backoff of RetryDelay*attempt. Other non-2xx statuses fail
// immediately. Every failure is a *ScrapingError of kind network.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	var lastErr *ScrapingError
	attempt := 1

	for ; attempt <= f.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := f.opts.RetryDelay * time.Duration(attempt-1)
			f.logger.Warn("retrying fetch", "url", url, "attempt", attempt, "delay", delay, "error", lastErr)
			if err := sleep(ctx, delay); err != nil {
				return nil, NewNetworkError(url, 0, err)
			}
		}

		doc, retryable, err := f.fetchOnce(ctx, url)
		if err == nil {
			f.recordSuccess()
			return doc, nil
		}

		f.recordError()
		lastErr = err
		if !retryable || ctx.Err() != nil {
			break
		}
	}

	f.logger.Error("fetch failed", "url", url, "attempts", min(attempt, f.opts.MaxAttempts), "error", lastErr)
	return nil, lastErr
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, url string) (*goquery.Document, bool, *ScrapingError) {
	if f.opts.Limiter != nil {
		if err := f.opts.Limiter.Wait(ctx); err != nil {
			return nil, false, NewNetworkError(url, 0, fmt.Errorf("failed to wait for rate limiter: %w", err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, NewNetworkError(url, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept-Language", f.opts.AcceptLanguage)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, true, NewNetworkError(url, 0, fmt.Errorf("failed to execute request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, NewNetworkError(url, resp.StatusCode, fmt.Errorf("unexpected status: %s", resp.Status))
	}

	// html.Parse only fails on read errors, so a failure here is a transport problem.
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, true, NewNetworkError(url, resp.StatusCode, fmt.Errorf("failed to read body: %w", err))
	}

	return doc, false, nil
}

func (f *HTTPFetcher) recordSuccess() {
	if fb, ok := f.opts.Limiter.(ratelimit.Feedback); ok {
		fb.RecordSuccess()
	}
}

func (f *HTTPFetcher) recordError() {
	if fb, ok := f.opts.Limiter.(ratelimit.Feedback); ok {
		fb.RecordError()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
