package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/price-aggregator/internal/models"
	"github.com/maltedev/price-aggregator/internal/scraper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPoolSize = 3
	DefaultDeadline = 30 * time.Second

	instrumentationName = "github.com/maltedev/price-aggregator/internal/aggregator"
)

// ResultCache stores merged search results. Implementations must return
// copies the caller may keep.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]models.SearchResult, bool, error)
	Set(ctx context.Context, key string, results []models.SearchResult) error
}

type Options struct {
	PoolSize int
	Deadline time.Duration
	Cache    ResultCache
}

// Manager fans queries out to the registered site adapters and merges what
// comes back. A failing, panicking or slow adapter only costs its own results.
type Manager struct {
	adapters []scraper.SiteAdapter
	bySource map[models.Source]scraper.SiteAdapter
	poolSize int
	deadline time.Duration
	cache    ResultCache
	logger   *slog.Logger
	tracer   trace.Tracer

	searches  metric.Int64Counter
	failures  metric.Int64Counter
	abandoned metric.Int64Counter
}

func NewManager(adapters []scraper.SiteAdapter, opts Options, logger *slog.Logger) (*Manager, error) {
	m := &Manager{
		bySource: make(map[models.Source]scraper.SiteAdapter, len(adapters)),
		poolSize: opts.PoolSize,
		deadline: opts.Deadline,
		cache:    opts.Cache,
		logger:   logger.With("component", "aggregator"),
		tracer:   otel.Tracer(instrumentationName),
	}
	if m.poolSize < 1 {
		m.poolSize = DefaultPoolSize
	}
	if m.deadline <= 0 {
		m.deadline = DefaultDeadline
	}

	for _, a := range adapters {
		if a == nil {
			return nil, fmt.Errorf("nil adapter")
		}
		if _, dup := m.bySource[a.Source()]; dup {
			return nil, fmt.Errorf("duplicate adapter for source %q", a.Source())
		}
		m.bySource[a.Source()] = a
		m.adapters = append(m.adapters, a)
	}

	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) initMetrics() error {
	meter := otel.Meter(instrumentationName)

	var err error
	if m.searches, err = meter.Int64Counter("aggregator.searches",
		metric.WithDescription("Fan-out searches by operation"),
		metric.WithUnit("{searches}")); err != nil {
		return fmt.Errorf("failed to create searches counter: %w", err)
	}
	if m.failures, err = meter.Int64Counter("aggregator.adapter.failures",
		metric.WithDescription("Adapter tasks that failed, by source and kind"),
		metric.WithUnit("{tasks}")); err != nil {
		return fmt.Errorf("failed to create failures counter: %w", err)
	}
	if m.abandoned, err = meter.Int64Counter("aggregator.adapter.abandoned",
		metric.WithDescription("Adapter tasks still running at the deadline"),
		metric.WithUnit("{tasks}")); err != nil {
		return fmt.Errorf("failed to create abandoned counter: %w", err)
	}
	return nil
}

// Sources lists the registered sources in registration order.
func (m *Manager) Sources() []models.Source {
	sources := make([]models.Source, len(m.adapters))
	for i, a := range m.adapters {
		sources[i] = a.Source()
	}
	return sources
}

// SearchAll queries every adapter and returns the merged results sorted by
// price, unpriced records last. It never fails because of an adapter.
func (m *Manager) SearchAll(ctx context.Context, query string, maxResultsPerSite int, opts models.SearchOptions) ([]models.SearchResult, error) {
	key := cacheKey("search", query, maxResultsPerSite, opts)
	if cached, ok := m.cacheGet(ctx, key); ok {
		return cached, nil
	}

	results, succeeded := m.fanOut(ctx, "search_all", query, m.adapters, opts, func(ctx context.Context, a scraper.SiteAdapter) ([]models.SearchResult, error) {
		return a.Search(ctx, query, maxResultsPerSite, opts)
	})

	// Partial results would hide a briefly failing site for the whole TTL.
	if succeeded == len(m.adapters) {
		m.cacheSet(ctx, key, results)
	}
	return results, nil
}

// SearchSite queries a single adapter. An unknown key or a failing adapter
// yields an empty result.
func (m *Manager) SearchSite(ctx context.Context, siteKey, query string, maxResults int, opts models.SearchOptions) ([]models.SearchResult, error) {
	adapter, ok := m.bySource[models.Source(strings.ToLower(strings.TrimSpace(siteKey)))]
	if !ok {
		m.logger.Warn("unknown site key", "site", siteKey, "query", query)
		return []models.SearchResult{}, nil
	}

	results, _ := m.fanOut(ctx, "search_site", query, []scraper.SiteAdapter{adapter}, opts, func(ctx context.Context, a scraper.SiteAdapter) ([]models.SearchResult, error) {
		return a.Search(ctx, query, maxResults, opts)
	})
	return results, nil
}

// SearchByBarcode is SearchAll through each adapter's barcode-aware path.
func (m *Manager) SearchByBarcode(ctx context.Context, barcode string, maxResults int, opts models.SearchOptions) ([]models.SearchResult, error) {
	key := cacheKey("barcode", barcode, maxResults, opts)
	if cached, ok := m.cacheGet(ctx, key); ok {
		return cached, nil
	}

	results, succeeded := m.fanOut(ctx, "search_by_barcode", barcode, m.adapters, opts, func(ctx context.Context, a scraper.SiteAdapter) ([]models.SearchResult, error) {
		return a.SearchByBarcode(ctx, barcode, maxResults, opts)
	})

	if succeeded == len(m.adapters) {
		m.cacheSet(ctx, key, results)
	}
	return results, nil
}

// DetectSource maps a product URL to the adapter whose domain it belongs to.
func (m *Manager) DetectSource(rawURL string) (models.Source, error) {
	for _, a := range m.adapters {
		if a.MatchesURL(rawURL) {
			return a.Source(), nil
		}
	}
	return "", scraper.NewUnsupportedSourceError(rawURL)
}

// GetProductDetails resolves one product page. sourceHint may be empty, in
// which case the source is detected from the URL.
func (m *Manager) GetProductDetails(ctx context.Context, rawURL string, sourceHint models.Source) (*models.SearchResult, error) {
	source := sourceHint
	if source == "" {
		detected, err := m.DetectSource(rawURL)
		if err != nil {
			return nil, err
		}
		source = detected
	}

	adapter, ok := m.bySource[source]
	if !ok {
		return nil, &scraper.ScrapingError{
			Kind:   scraper.KindUnsupportedSource,
			Source: source,
			URL:    rawURL,
			Err:    fmt.Errorf("no adapter registered for %q", source),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, m.deadline)
	defer cancel()

	result, err := adapter.ParseProductDetails(ctx, rawURL)
	if err != nil {
		m.logger.Error("product details failed", "source", source, "url", rawURL, "kind", scraper.KindOf(err), "error", err)
		return nil, err
	}
	return result, nil
}

type searchCall func(ctx context.Context, a scraper.SiteAdapter) ([]models.SearchResult, error)

type outcome struct {
	index   int
	results []models.SearchResult
	err     error
}

// fanOut runs call once per adapter on a bounded pool and joins at a single
// barrier bounded by the deadline. Each task owns its bucket; nothing is
// merged until collection ends, so an adapter contributes all or nothing.
func (m *Manager) fanOut(ctx context.Context, op, query string, adapters []scraper.SiteAdapter, opts models.SearchOptions, call searchCall) ([]models.SearchResult, int) {
	deadline := m.deadline
	if opts.Deadline > 0 {
		deadline = opts.Deadline
	}

	ctx, span := m.tracer.Start(ctx, "aggregator."+op, trace.WithAttributes(
		attribute.String("query", query),
		attribute.Int("adapters", len(adapters)),
	))
	defer span.End()
	m.searches.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	// Buffered so tasks abandoned at the deadline never block on send.
	outcomes := make(chan outcome, len(adapters))

	g := new(errgroup.Group)
	g.SetLimit(m.poolSize)
	go func() {
		for i, a := range adapters {
			g.Go(func() error {
				outcomes <- runTask(ctx, i, a, call)
				return nil
			})
		}
	}()

	buckets := make([][]models.SearchResult, len(adapters))
	done := make([]bool, len(adapters))
	succeeded := 0

collect:
	for remaining := len(adapters); remaining > 0; remaining-- {
		select {
		case o := <-outcomes:
			done[o.index] = true
			source := adapters[o.index].Source()
			if o.err != nil {
				kind := scraper.KindOf(o.err)
				m.logger.Error("adapter search failed", "source", source, "query", query, "kind", kind, "error", o.err)
				m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(source)), attribute.String("kind", kind)))
				continue
			}
			buckets[o.index] = o.results
			succeeded++
		case <-ctx.Done():
			for i, finished := range done {
				if !finished {
					source := adapters[i].Source()
					m.logger.Warn("adapter abandoned at deadline", "source", source, "query", query, "deadline", deadline)
					m.abandoned.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("source", string(source))))
				}
			}
			break collect
		}
	}

	merged := merge(buckets)
	span.SetAttributes(attribute.Int("results", len(merged)), attribute.Int("succeeded", succeeded))
	return merged, succeeded
}

func runTask(ctx context.Context, index int, a scraper.SiteAdapter, call searchCall) (o outcome) {
	o.index = index
	defer func() {
		if r := recover(); r != nil {
			o.results = nil
			o.err = fmt.Errorf("adapter %s panicked: %v", a.Source(), r)
		}
	}()

	if err := ctx.Err(); err != nil {
		o.err = err
		return o
	}
	o.results, o.err = call(ctx, a)
	return o
}

// merge concatenates buckets in registration order into a new slice and
// sorts it by price.
func merge(buckets [][]models.SearchResult) []models.SearchResult {
	total := 0
	for _, b := range buckets {
		total += len(b)
	}

	merged := make([]models.SearchResult, 0, total)
	for _, b := range buckets {
		merged = append(merged, b...)
	}
	SortByPrice(merged)
	return merged
}

// SortByPrice orders results by ascending price with unpriced records last.
// Ties keep their discovery order.
func SortByPrice(results []models.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].Price, results[j].Price
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
}

func cacheKey(op, query string, maxResults int, opts models.SearchOptions) string {
	return strings.Join([]string{op, query, strconv.Itoa(maxResults), strconv.FormatBool(opts.IncludeShipping)}, ":")
}

func (m *Manager) cacheGet(ctx context.Context, key string) ([]models.SearchResult, bool) {
	if m.cache == nil {
		return nil, false
	}
	results, ok, err := m.cache.Get(ctx, key)
	if err != nil {
		m.logger.Warn("failed to read search cache", "key", key, "error", err)
		return nil, false
	}
	if ok {
		m.logger.Debug("search cache hit", "key", key)
	}
	return results, ok
}

func (m *Manager) cacheSet(ctx context.Context, key string, results []models.SearchResult) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Set(ctx, key, results); err != nil {
		m.logger.Warn("failed to write search cache", "key", key, "error", err)
	}
}
