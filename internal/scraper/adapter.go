package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/price-aggregator/internal/models"
	"github.com/maltedev/price-aggregator/internal/parser"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/maltedev/price-aggregator/internal/scraper"

// SiteAdapter is the per-site search capability the aggregator fans out to.
type SiteAdapter interface {
	Source() models.Source
	MatchesURL(rawURL string) bool
	BuildSearchURL(query string, page int) string
	Search(ctx context.Context, query string, maxResults int, opts models.SearchOptions) ([]models.SearchResult, error)
	SearchByBarcode(ctx context.Context, barcode string, maxResults int, opts models.SearchOptions) ([]models.SearchResult, error)
	ParseProductDetails(ctx context.Context, productURL string) (*models.SearchResult, error)
}

// siteAdapter holds what every adapter shares; concrete adapters embed it
// and override SearchByBarcode when the site has a dedicated lookup.
type siteAdapter struct {
	source    models.Source
	domains   []string
	searchURL func(query string, page int) string
	fetcher   Fetcher
	parser    parser.Parser
	tracer    trace.Tracer
	logger    *slog.Logger
}

func newSiteAdapter(p parser.Parser, domains []string, searchURL func(string, int) string, fetcher Fetcher, logger *slog.Logger) *siteAdapter {
	return &siteAdapter{
		source:    p.Source(),
		domains:   domains,
		searchURL: searchURL,
		fetcher:   fetcher,
		parser:    p,
		tracer:    otel.Tracer(instrumentationName),
		logger:    logger.With("component", "adapter", "source", string(p.Source())),
	}
}

func (a *siteAdapter) Source() models.Source {
	return a.source
}

func (a *siteAdapter) Domains() []string {
	return a.domains
}

// BuildSearchURL returns the URL of the 1-based result page for query.
func (a *siteAdapter) BuildSearchURL(query string, page int) string {
	if page < 1 {
		page = 1
	}
	return a.searchURL(query, page)
}

// MatchesURL reports whether rawURL's host is one of the adapter's domains or a subdomain of one.
func (a *siteAdapter) MatchesURL(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range a.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func (a *siteAdapter) Search(ctx context.Context, query string, maxResults int, opts models.SearchOptions) ([]models.SearchResult, error) {
	return a.searchURLResults(ctx, a.BuildSearchURL(query, 1), query, maxResults, opts)
}

// SearchByBarcode has no dedicated path here and searches for the code as text.
func (a *siteAdapter) SearchByBarcode(ctx context.Context, barcode string, maxResults int, opts models.SearchOptions) ([]models.SearchResult, error) {
	return a.Search(ctx, barcode, maxResults, opts)
}

func (a *siteAdapter) searchURLResults(ctx context.Context, searchURL, query string, maxResults int, opts models.SearchOptions) ([]models.SearchResult, error) {
	ctx, span := a.tracer.Start(ctx, "adapter.search", trace.WithAttributes(
		attribute.String("source", string(a.source)),
		attribute.String("query", query),
	))
	defer span.End()

	doc, err := a.fetcher.Fetch(ctx, searchURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, withSource(err, a.source)
	}

	results := a.ParseSearchResults(doc, maxResults, opts)
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

// ParseSearchResults extracts the valid records of a search page. Malformed
// cards are logged and skipped, invalid records are counted and dropped.
func (a *siteAdapter) ParseSearchResults(doc *goquery.Document, maxResults int, opts models.SearchOptions) []models.SearchResult {
	listing := a.parser.ParseSearchResults(doc, parser.ParseOptions{
		MaxResults:      maxResults,
		IncludeShipping: opts.IncludeShipping,
	})

	for _, item := range listing.Items {
		if item.Err != nil {
			a.logger.Warn("failed to parse listing", "index", item.Index, "error", item.Err)
		}
	}

	kept, dropped := parser.FilterValid(listing.Results())
	if dropped > 0 {
		a.logger.Debug("dropped invalid records", "dropped", dropped)
	}
	return kept
}

// ParseProductDetails fetches and parses one product page. Any failure,
// including a failed fetch, is returned as a parse error.
func (a *siteAdapter) ParseProductDetails(ctx context.Context, productURL string) (*models.SearchResult, error) {
	ctx, span := a.tracer.Start(ctx, "adapter.product_details", trace.WithAttributes(
		attribute.String("source", string(a.source)),
	))
	defer span.End()

	doc, err := a.fetcher.Fetch(ctx, productURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, NewParseError(a.source, productURL, fmt.Errorf("failed to fetch product page: %w", withSource(err, a.source)))
	}

	result, err := a.parser.ParseProductPage(doc, productURL)
	if err != nil {
		a.logger.Warn("failed to parse product page", "url", productURL, "error", err)
		return nil, NewParseError(a.source, productURL, err)
	}

	if !parser.ValidateResult(*result) {
		return nil, NewParseError(a.source, productURL, fmt.Errorf("product page yielded an invalid record"))
	}
	return result, nil
}
