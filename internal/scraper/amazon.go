package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"

	"github.com/maltedev/price-aggregator/internal/models"
	"github.com/maltedev/price-aggregator/internal/parser"
)

var (
	asinPattern       = regexp.MustCompile(`^[A-Z0-9]{10}$`)
	productURLPattern = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?amazon\.co\.jp/(?:.*?/)?(?:dp|gp/product)/([A-Z0-9]{10})`)
)

type AmazonAdapter struct {
	*siteAdapter
}

func NewAmazonAdapter(fetcher Fetcher, logger *slog.Logger) *AmazonAdapter {
	return &AmazonAdapter{
		siteAdapter: newSiteAdapter(parser.NewAmazonParser(), []string{"amazon.co.jp"}, amazonSearchURL, fetcher, logger),
	}
}

func amazonSearchURL(query string, page int) string {
	return fmt.Sprintf("%s/s?k=%s&page=%d", parser.AmazonBaseURL, url.QueryEscape(query), page)
}

func ProductURL(asin string) string {
	return fmt.Sprintf("%s/dp/%s", parser.AmazonBaseURL, asin)
}

// IsASIN reports whether code looks like an Amazon standard identification
// number. Ten-digit ISBNs match too and are valid ASINs for books.
func IsASIN(code string) bool {
	return asinPattern.MatchString(code)
}

func ExtractASIN(rawURL string) (string, error) {
	matches := productURLPattern.FindStringSubmatch(rawURL)
	if len(matches) < 2 {
		return "", fmt.Errorf("no ASIN in %q", rawURL)
	}
	return matches[1], nil
}

// SearchByBarcode resolves an ASIN directly through its product page and
// falls back to a text search when the code is not an ASIN or the page
// yields nothing.
func (a *AmazonAdapter) SearchByBarcode(ctx context.Context, barcode string, maxResults int, opts models.SearchOptions) ([]models.SearchResult, error) {
	if IsASIN(barcode) {
		result, err := a.ParseProductDetails(ctx, ProductURL(barcode))
		if err == nil {
			if !opts.IncludeShipping {
				result.Shipping = nil
			}
			return []models.SearchResult{*result}, nil
		}
		a.logger.Info("direct ASIN lookup failed, falling back to search", "barcode", barcode, "kind", KindOf(err))
	}

	return a.Search(ctx, barcode, maxResults, opts)
}
