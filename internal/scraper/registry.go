package scraper

import (
	"fmt"
	"log/slog"

	"github.com/maltedev/price-aggregator/internal/models"
)

func NewAdapter(source models.Source, fetcher Fetcher, logger *slog.Logger) (SiteAdapter, error) {
	switch source {
	case models.SourceAmazon:
		return NewAmazonAdapter(fetcher, logger), nil
	case models.SourceRakuten:
		return NewRakutenAdapter(fetcher, logger), nil
	case models.SourceYahoo:
		return NewYahooAdapter(fetcher, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, source)
	}
}

// NewAdapters builds one adapter per source, in the given order, sharing fetcher.
func NewAdapters(sources []models.Source, fetcher Fetcher, logger *slog.Logger) ([]SiteAdapter, error) {
	adapters := make([]SiteAdapter, 0, len(sources))
	for _, source := range sources {
		adapter, err := NewAdapter(source, fetcher, logger)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	}
	return adapters, nil
}
