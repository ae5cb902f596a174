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

const yahooPageSize = 30

var janPattern = regexp.MustCompile(`^(?:\d{10}|\d{13})$`)

type YahooAdapter struct {
	*siteAdapter
}

func NewYahooAdapter(fetcher Fetcher, logger *slog.Logger) *YahooAdapter {
	return &YahooAdapter{
		siteAdapter: newSiteAdapter(parser.NewYahooParser(), []string{"shopping.yahoo.co.jp"}, yahooSearchURL, fetcher, logger),
	}
}

// Yahoo paginates with a 1-based result offset.
func yahooSearchURL(query string, page int) string {
	u := fmt.Sprintf("%s/search?p=%s", parser.YahooBaseURL, url.QueryEscape(query))
	if page > 1 {
		u += fmt.Sprintf("&b=%d", (page-1)*yahooPageSize+1)
	}
	return u
}

func yahooJANSearchURL(code string) string {
	return fmt.Sprintf("%s/search?p=%s&jan=%s", parser.YahooBaseURL, code, code)
}

// IsJAN reports whether code is a 13-digit JAN/EAN or a 10-digit ISBN.
func IsJAN(code string) bool {
	return janPattern.MatchString(code)
}

// SearchByBarcode queries the JAN-filtered listing first and falls back to a
// text search when it fails or comes back empty.
func (a *YahooAdapter) SearchByBarcode(ctx context.Context, barcode string, maxResults int, opts models.SearchOptions) ([]models.SearchResult, error) {
	if IsJAN(barcode) {
		results, err := a.searchURLResults(ctx, yahooJANSearchURL(barcode), barcode, maxResults, opts)
		if err == nil && len(results) > 0 {
			return results, nil
		}
		if err != nil {
			a.logger.Info("JAN lookup failed, falling back to search", "barcode", barcode, "kind", KindOf(err))
		}
	}

	return a.Search(ctx, barcode, maxResults, opts)
}
