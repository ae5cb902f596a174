package aggregator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maltedev/price-aggregator/internal/models"
	"github.com/maltedev/price-aggregator/internal/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	source    models.Source
	domain    string
	search    func(ctx context.Context, query string) ([]models.SearchResult, error)
	byBarcode func(ctx context.Context, code string) ([]models.SearchResult, error)
	details   func(ctx context.Context, url string) (*models.SearchResult, error)
}

func (f *fakeAdapter) Source() models.Source { return f.source }

func (f *fakeAdapter) MatchesURL(rawURL string) bool {
	return f.domain != "" && strings.Contains(rawURL, f.domain)
}

func (f *fakeAdapter) BuildSearchURL(query string, page int) string {
	return "https://" + f.domain + "/search?q=" + query
}

func (f *fakeAdapter) Search(ctx context.Context, query string, maxResults int, opts models.SearchOptions) ([]models.SearchResult, error) {
	return f.search(ctx, query)
}

func (f *fakeAdapter) SearchByBarcode(ctx context.Context, barcode string, maxResults int, opts models.SearchOptions) ([]models.SearchResult, error) {
	if f.byBarcode == nil {
		return f.search(ctx, barcode)
	}
	return f.byBarcode(ctx, barcode)
}

func (f *fakeAdapter) ParseProductDetails(ctx context.Context, url string) (*models.SearchResult, error) {
	return f.details(ctx, url)
}

func returning(results ...models.SearchResult) func(context.Context, string) ([]models.SearchResult, error) {
	return func(context.Context, string) ([]models.SearchResult, error) {
		return results, nil
	}
}

func failing(err error) func(context.Context, string) ([]models.SearchResult, error) {
	return func(context.Context, string) ([]models.SearchResult, error) {
		return nil, err
	}
}

func priced(source models.Source, name string, price float64) models.SearchResult {
	return models.SearchResult{Name: name, URL: "https://example.com/" + name, Price: models.Float(price), Source: source}
}

func unpriced(source models.Source, name string) models.SearchResult {
	return models.SearchResult{Name: name, URL: "https://example.com/" + name, Source: source, PriceUnknown: true}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, opts Options, adapters ...scraper.SiteAdapter) *Manager {
	t.Helper()
	m, err := NewManager(adapters, opts, testLogger())
	require.NoError(t, err)
	return m
}

func prices(results []models.SearchResult) []any {
	out := make([]any, len(results))
	for i, r := range results {
		if r.Price == nil {
			out[i] = nil
		} else {
			out[i] = *r.Price
		}
	}
	return out
}

func assertSorted(t *testing.T, results []models.SearchResult) {
	t.Helper()
	seenNil := false
	var last float64
	for i, r := range results {
		if r.Price == nil {
			seenNil = true
			continue
		}
		assert.False(t, seenNil, "priced result at %d after an unpriced one", i)
		if i > 0 {
			assert.GreaterOrEqual(t, *r.Price, last)
		}
		last = *r.Price
	}
}

func TestSearchAllScenario(t *testing.T) {
	m := newTestManager(t, Options{},
		&fakeAdapter{source: models.SourceAmazon, search: returning(
			priced(models.SourceAmazon, "a50000", 50000),
			priced(models.SourceAmazon, "a45000", 45000),
			unpriced(models.SourceAmazon, "a-unknown"),
		)},
		&fakeAdapter{source: models.SourceRakuten, search: returning(
			priced(models.SourceRakuten, "r48000", 48000),
		)},
		&fakeAdapter{source: models.SourceYahoo, search: failing(scraper.NewNetworkError("https://shopping.yahoo.co.jp/search?p=x", 0, errors.New("connection refused")))},
	)

	results, err := m.SearchAll(context.Background(), "スマートフォン", 10, models.DefaultSearchOptions())
	require.NoError(t, err)

	resp := models.NewAggregatedSearchResponse("スマートフォン", results)
	assert.Equal(t, 4, resp.TotalResults, "unknown-price records are surfaced and counted")
	assert.Equal(t, []any{45000.0, 48000.0, 50000.0, nil}, prices(resp.Results))
	assert.Equal(t, "a-unknown", resp.Results[3].Name)
	assert.True(t, resp.Results[3].PriceUnknown)
}

func TestSearchAllIsolatesFailingAdapter(t *testing.T) {
	errs := []error{
		scraper.NewNetworkError("u", 503, errors.New("unavailable")),
		scraper.NewParseError(models.SourceYahoo, "u", errors.New("bad markup")),
		errors.New("unexpected"),
	}

	for _, failure := range errs {
		t.Run(scraper.KindOf(failure), func(t *testing.T) {
			m := newTestManager(t, Options{},
				&fakeAdapter{source: models.SourceAmazon, search: returning(priced(models.SourceAmazon, "a", 300))},
				&fakeAdapter{source: models.SourceRakuten, search: failing(failure)},
				&fakeAdapter{source: models.SourceYahoo, search: returning(priced(models.SourceYahoo, "y", 100), priced(models.SourceYahoo, "y2", 200))},
			)

			results, err := m.SearchAll(context.Background(), "q", 10, models.DefaultSearchOptions())
			require.NoError(t, err)
			require.Len(t, results, 3)
			for _, r := range results {
				assert.NotEqual(t, models.SourceRakuten, r.Source)
			}
		})
	}
}

func TestSearchAllAllAdaptersFail(t *testing.T) {
	m := newTestManager(t, Options{},
		&fakeAdapter{source: models.SourceAmazon, search: failing(errors.New("x"))},
		&fakeAdapter{source: models.SourceRakuten, search: failing(errors.New("y"))},
	)

	results, err := m.SearchAll(context.Background(), "q", 10, models.DefaultSearchOptions())
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestSearchAllRecoversAdapterPanic(t *testing.T) {
	m := newTestManager(t, Options{},
		&fakeAdapter{source: models.SourceAmazon, search: func(context.Context, string) ([]models.SearchResult, error) {
			panic("selector exploded")
		}},
		&fakeAdapter{source: models.SourceRakuten, search: returning(priced(models.SourceRakuten, "r", 10))},
	)

	results, err := m.SearchAll(context.Background(), "q", 10, models.DefaultSearchOptions())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.SourceRakuten, results[0].Source)
}

func TestSortInvariantRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		var adapters []scraper.SiteAdapter
		for _, source := range models.AllSources() {
			var batch []models.SearchResult
			n := rng.Intn(8)
			for i := 0; i < n; i++ {
				name := string(source) + "-" + string(rune('a'+i))
				if rng.Intn(4) == 0 {
					batch = append(batch, unpriced(source, name))
				} else {
					batch = append(batch, priced(source, name, float64(rng.Intn(20)*100+100)))
				}
			}
			adapters = append(adapters, &fakeAdapter{source: source, search: returning(batch...)})
		}

		m := newTestManager(t, Options{}, adapters...)

		all, err := m.SearchAll(context.Background(), "q", 10, models.DefaultSearchOptions())
		require.NoError(t, err)
		assertSorted(t, all)

		site, err := m.SearchSite(context.Background(), "rakuten", "q", 10, models.DefaultSearchOptions())
		require.NoError(t, err)
		assertSorted(t, site)

		byCode, err := m.SearchByBarcode(context.Background(), "4901234567894", 10, models.DefaultSearchOptions())
		require.NoError(t, err)
		assertSorted(t, byCode)
	}
}

func TestSortIsStableForEqualPrices(t *testing.T) {
	m := newTestManager(t, Options{},
		&fakeAdapter{source: models.SourceAmazon, search: returning(priced(models.SourceAmazon, "a1", 100), unpriced(models.SourceAmazon, "a-nil"))},
		&fakeAdapter{source: models.SourceRakuten, search: returning(priced(models.SourceRakuten, "r1", 100), unpriced(models.SourceRakuten, "r-nil"))},
		&fakeAdapter{source: models.SourceYahoo, search: returning(priced(models.SourceYahoo, "y1", 100))},
	)

	for i := 0; i < 10; i++ {
		results, err := m.SearchAll(context.Background(), "q", 10, models.DefaultSearchOptions())
		require.NoError(t, err)

		names := make([]string, len(results))
		for j, r := range results {
			names[j] = r.Name
		}
		assert.Equal(t, []string{"a1", "r1", "y1", "a-nil", "r-nil"}, names)
	}
}

func TestSearchAllDoesNotMutateAdapterOutput(t *testing.T) {
	amazonOut := []models.SearchResult{priced(models.SourceAmazon, "a-high", 900), priced(models.SourceAmazon, "a-low", 100)}
	m := newTestManager(t, Options{},
		&fakeAdapter{source: models.SourceAmazon, search: returning(amazonOut...)},
		&fakeAdapter{source: models.SourceRakuten, search: returning(priced(models.SourceRakuten, "r", 500))},
	)

	results, err := m.SearchAll(context.Background(), "q", 10, models.DefaultSearchOptions())
	require.NoError(t, err)
	assert.Equal(t, []any{100.0, 500.0, 900.0}, prices(results))
	assert.Equal(t, "a-high", amazonOut[0].Name)
	assert.Equal(t, "a-low", amazonOut[1].Name)
}

func TestSearchAllAbandonsSlowAdapterAtDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	m := newTestManager(t, Options{Deadline: 100 * time.Millisecond},
		&fakeAdapter{source: models.SourceAmazon, search: returning(priced(models.SourceAmazon, "fast", 100))},
		&fakeAdapter{source: models.SourceRakuten, search: func(ctx context.Context, _ string) ([]models.SearchResult, error) {
			<-release
			return []models.SearchResult{priced(models.SourceRakuten, "late", 1)}, nil
		}},
	)

	start := time.Now()
	results, err := m.SearchAll(context.Background(), "q", 10, models.DefaultSearchOptions())
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "fast", results[0].Name)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestSearchOptionsDeadlineOverridesDefault(t *testing.T) {
	m := newTestManager(t, Options{Deadline: time.Hour},
		&fakeAdapter{source: models.SourceAmazon, search: func(ctx context.Context, _ string) ([]models.SearchResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
	)

	start := time.Now()
	results, err := m.SearchAll(context.Background(), "q", 10, models.SearchOptions{Deadline: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestFanOutRespectsPoolSize(t *testing.T) {
	var running, peak atomic.Int32
	var mu sync.Mutex
	slow := func(ctx context.Context, _ string) ([]models.SearchResult, error) {
		n := running.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		running.Add(-1)
		return nil, nil
	}

	m := newTestManager(t, Options{PoolSize: 2},
		&fakeAdapter{source: models.SourceAmazon, search: slow},
		&fakeAdapter{source: models.SourceRakuten, search: slow},
		&fakeAdapter{source: models.SourceYahoo, search: slow},
	)

	_, err := m.SearchAll(context.Background(), "q", 10, models.DefaultSearchOptions())
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestSearchSite(t *testing.T) {
	m := newTestManager(t, Options{},
		&fakeAdapter{source: models.SourceAmazon, search: returning(priced(models.SourceAmazon, "a2", 200), priced(models.SourceAmazon, "a1", 100))},
		&fakeAdapter{source: models.SourceRakuten, search: failing(errors.New("down"))},
	)

	results, err := m.SearchSite(context.Background(), "Amazon", "q", 10, models.DefaultSearchOptions())
	require.NoError(t, err)
	assert.Equal(t, []any{100.0, 200.0}, prices(results))

	results, err = m.SearchSite(context.Background(), "ebay", "q", 10, models.DefaultSearchOptions())
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)

	results, err = m.SearchSite(context.Background(), "rakuten", "q", 10, models.DefaultSearchOptions())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchByBarcodeUsesBarcodePath(t *testing.T) {
	m := newTestManager(t, Options{},
		&fakeAdapter{
			source: models.SourceYahoo,
			search: failing(errors.New("text search should not be used")),
			byBarcode: func(_ context.Context, code string) ([]models.SearchResult, error) {
				return []models.SearchResult{priced(models.SourceYahoo, "jan-"+code, 700)}, nil
			},
		},
		&fakeAdapter{source: models.SourceRakuten, search: returning(priced(models.SourceRakuten, "text", 650))},
	)

	results, err := m.SearchByBarcode(context.Background(), "4901234567894", 5, models.DefaultSearchOptions())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "text", results[0].Name)
	assert.Equal(t, "jan-4901234567894", results[1].Name)
}

func TestDetectSource(t *testing.T) {
	m := newTestManager(t, Options{},
		&fakeAdapter{source: models.SourceAmazon, domain: "amazon.co.jp"},
		&fakeAdapter{source: models.SourceRakuten, domain: "rakuten.co.jp"},
	)

	source, err := m.DetectSource("https://www.amazon.co.jp/dp/B0C1234567")
	require.NoError(t, err)
	assert.Equal(t, models.SourceAmazon, source)

	source, err = m.DetectSource("https://item.rakuten.co.jp/shop/x/")
	require.NoError(t, err)
	assert.Equal(t, models.SourceRakuten, source)

	_, err = m.DetectSource("https://www.ebay.com/itm/1")
	assert.ErrorIs(t, err, scraper.ErrUnsupportedSource)
	var se *scraper.ScrapingError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, scraper.KindUnsupportedSource, se.Kind)
}

func TestGetProductDetails(t *testing.T) {
	item := priced(models.SourceRakuten, "item", 1200)
	m := newTestManager(t, Options{},
		&fakeAdapter{source: models.SourceAmazon, domain: "amazon.co.jp", details: func(context.Context, string) (*models.SearchResult, error) {
			return nil, scraper.NewParseError(models.SourceAmazon, "u", errors.New("no title"))
		}},
		&fakeAdapter{source: models.SourceRakuten, domain: "rakuten.co.jp", details: func(_ context.Context, url string) (*models.SearchResult, error) {
			r := item
			r.URL = url
			return &r, nil
		}},
	)

	got, err := m.GetProductDetails(context.Background(), "https://item.rakuten.co.jp/shop/x/", "")
	require.NoError(t, err)
	assert.Equal(t, "https://item.rakuten.co.jp/shop/x/", got.URL)

	got, err = m.GetProductDetails(context.Background(), "https://mirror.example.com/x", models.SourceRakuten)
	require.NoError(t, err, "hint bypasses detection")
	assert.Equal(t, "item", got.Name)

	_, err = m.GetProductDetails(context.Background(), "https://www.amazon.co.jp/dp/B0C1234567", "")
	assert.ErrorIs(t, err, scraper.ErrParse)

	_, err = m.GetProductDetails(context.Background(), "https://www.ebay.com/itm/1", "")
	assert.ErrorIs(t, err, scraper.ErrUnsupportedSource)

	_, err = m.GetProductDetails(context.Background(), "https://shopping.yahoo.co.jp/x", models.SourceYahoo)
	assert.ErrorIs(t, err, scraper.ErrUnsupportedSource, "hint for an unregistered source")
}

func TestNewManagerRejectsDuplicates(t *testing.T) {
	_, err := NewManager([]scraper.SiteAdapter{
		&fakeAdapter{source: models.SourceAmazon},
		&fakeAdapter{source: models.SourceAmazon},
	}, Options{}, testLogger())
	assert.Error(t, err)
}

func TestSources(t *testing.T) {
	m := newTestManager(t, Options{},
		&fakeAdapter{source: models.SourceYahoo},
		&fakeAdapter{source: models.SourceAmazon},
	)
	assert.Equal(t, []models.Source{models.SourceYahoo, models.SourceAmazon}, m.Sources())
	assert.Equal(t, DefaultPoolSize, m.poolSize)
	assert.Equal(t, DefaultDeadline, m.deadline)
}

type MockResultCache struct {
	mock.Mock
}

func (m *MockResultCache) Get(ctx context.Context, key string) ([]models.SearchResult, bool, error) {
	args := m.Called(ctx, key)
	results, _ := args.Get(0).([]models.SearchResult)
	return results, args.Bool(1), args.Error(2)
}

func (m *MockResultCache) Set(ctx context.Context, key string, results []models.SearchResult) error {
	args := m.Called(ctx, key, results)
	return args.Error(0)
}

func TestSearchAllUsesCache(t *testing.T) {
	t.Run("Hit skips adapters", func(t *testing.T) {
		cache := &MockResultCache{}
		cached := []models.SearchResult{priced(models.SourceAmazon, "cached", 1)}
		cache.On("Get", mock.Anything, "search:q:10:true").Return(cached, true, nil)

		m := newTestManager(t, Options{Cache: cache},
			&fakeAdapter{source: models.SourceAmazon, search: failing(errors.New("should not run"))},
		)

		results, err := m.SearchAll(context.Background(), "q", 10, models.DefaultSearchOptions())
		require.NoError(t, err)
		assert.Equal(t, cached, results)
		cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Miss stores merged results", func(t *testing.T) {
		cache := &MockResultCache{}
		cache.On("Get", mock.Anything, "search:q:10:true").Return(nil, false, nil)
		cache.On("Set", mock.Anything, "search:q:10:true", mock.MatchedBy(func(r []models.SearchResult) bool {
			return len(r) == 1 && r[0].Name == "fresh"
		})).Return(nil)

		m := newTestManager(t, Options{Cache: cache},
			&fakeAdapter{source: models.SourceAmazon, search: returning(priced(models.SourceAmazon, "fresh", 1))},
		)

		_, err := m.SearchAll(context.Background(), "q", 10, models.DefaultSearchOptions())
		require.NoError(t, err)
		cache.AssertExpectations(t)
	})

	t.Run("Total failure is not cached", func(t *testing.T) {
		cache := &MockResultCache{}
		cache.On("Get", mock.Anything, mock.Anything).Return(nil, false, nil)

		m := newTestManager(t, Options{Cache: cache},
			&fakeAdapter{source: models.SourceAmazon, search: failing(errors.New("down"))},
		)

		_, err := m.SearchAll(context.Background(), "q", 10, models.DefaultSearchOptions())
		require.NoError(t, err)
		cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Partial failure is not cached", func(t *testing.T) {
		cache := &MockResultCache{}
		cache.On("Get", mock.Anything, mock.Anything).Return(nil, false, nil)

		m := newTestManager(t, Options{Cache: cache},
			&fakeAdapter{source: models.SourceAmazon, search: returning(priced(models.SourceAmazon, "live", 1))},
			&fakeAdapter{source: models.SourceRakuten, search: failing(errors.New("down"))},
		)

		results, err := m.SearchAll(context.Background(), "q", 10, models.DefaultSearchOptions())
		require.NoError(t, err)
		require.Len(t, results, 1)
		cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Cache errors fall through to adapters", func(t *testing.T) {
		cache := &MockResultCache{}
		cache.On("Get", mock.Anything, mock.Anything).Return(nil, false, errors.New("redis down"))
		cache.On("Set", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down"))

		m := newTestManager(t, Options{Cache: cache},
			&fakeAdapter{source: models.SourceAmazon, search: returning(priced(models.SourceAmazon, "live", 1))},
		)

		results, err := m.SearchAll(context.Background(), "q", 10, models.DefaultSearchOptions())
		require.NoError(t, err)
		require.Len(t, results, 1)
	})
}
