package scraper

import (
	"fmt"
	"log/slog"
	"net/url"

	"github.com/maltedev/price-aggregator/internal/parser"
)

// RakutenAdapter has no barcode-specific lookup; barcodes go through text search.
type RakutenAdapter struct {
	*siteAdapter
}

func NewRakutenAdapter(fetcher Fetcher, logger *slog.Logger) *RakutenAdapter {
	return &RakutenAdapter{
		siteAdapter: newSiteAdapter(parser.NewRakutenParser(), []string{"rakuten.co.jp"}, rakutenSearchURL, fetcher, logger),
	}
}

func rakutenSearchURL(query string, page int) string {
	return fmt.Sprintf("%s/search/mall/%s/?p=%d", parser.RakutenBaseURL, url.PathEscape(query), page)
}
