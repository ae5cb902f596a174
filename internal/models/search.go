package models

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies the e-commerce site an adapter scrapes.
type Source string

const (
	SourceAmazon  Source = "amazon"
	SourceRakuten Source = "rakuten"
	SourceYahoo   Source = "yahoo"
)

var displayNames = map[Source]string{
	SourceAmazon:  "Amazon",
	SourceRakuten: "楽天市場",
	SourceYahoo:   "Yahoo!ショッピング",
}

// AllSources returns the known sources in their default registration order.
func AllSources() []Source {
	return []Source{SourceAmazon, SourceRakuten, SourceYahoo}
}

func ParseSource(key string) (Source, error) {
	s := Source(strings.ToLower(strings.TrimSpace(key)))
	if !s.IsValid() {
		return "", fmt.Errorf("unknown source %q", key)
	}
	return s, nil
}

func (s Source) IsValid() bool {
	_, ok := displayNames[s]
	return ok
}

func (s Source) DisplayName() string {
	if name, ok := displayNames[s]; ok {
		return name
	}
	return string(s)
}

func (s Source) String() string {
	return string(s)
}

// SearchResult is one normalized listing. It is owned by the call that
// produced it; the aggregator copies, never mutates, adapter output.
type SearchResult struct {
	Name         string   `json:"name" yaml:"name"`
	URL          string   `json:"url" yaml:"url"`
	Price        *float64 `json:"price" yaml:"price"`
	PriceText    string   `json:"price_text,omitempty" yaml:"price_text,omitempty"`
	PriceUnknown bool     `json:"price_unknown,omitempty" yaml:"price_unknown,omitempty"`
	Shipping     *string  `json:"shipping,omitempty" yaml:"shipping,omitempty"`
	ImageURL     string   `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	Source       Source   `json:"source" yaml:"source"`
}

func (r SearchResult) HasPrice() bool {
	return r.Price != nil
}

// AggregatedSearchResponse is what callers of the aggregator receive.
type AggregatedSearchResponse struct {
	Query        string         `json:"query" yaml:"query"`
	Results      []SearchResult `json:"results" yaml:"results"`
	TotalResults int            `json:"total_results" yaml:"total_results"`
}

func NewAggregatedSearchResponse(query string, results []SearchResult) *AggregatedSearchResponse {
	if results == nil {
		results = []SearchResult{}
	}
	return &AggregatedSearchResponse{
		Query:        query,
		Results:      results,
		TotalResults: len(results),
	}
}

// SearchOptions tunes a single search call.
type SearchOptions struct {
	IncludeShipping bool
	// Deadline overrides the manager default when positive.
	Deadline time.Duration
}

func DefaultSearchOptions() SearchOptions {
	return SearchOptions{IncludeShipping: true}
}

// Float returns a pointer to v, for optional prices.
func Float(v float64) *float64 {
	return &v
}

// String returns a pointer to v, for optional text fields.
func String(v string) *string {
	return &v
}
