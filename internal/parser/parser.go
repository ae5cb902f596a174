package parser

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/price-aggregator/internal/models"
)

var (
	ErrMissingField = errors.New("required field missing")
	ErrNoDocument   = errors.New("no document")
)

// Parser turns a fetched page of one site into SearchResult records.
type Parser interface {
	Source() models.Source
	ParseSearchResults(doc *goquery.Document, opts ParseOptions) *Listing
	ParseProductPage(doc *goquery.Document, pageURL string) (*models.SearchResult, error)
}

type ParseOptions struct {
	// MaxResults caps the number of cards inspected; zero means no cap.
	MaxResults      int
	IncludeShipping bool
}

// FieldError reports a listing card or product page that lacks a required element.
type FieldError struct {
	Source models.Source
	Field  string
	Index  int
}

func (e *FieldError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s card %d: missing %s", e.Source, e.Index, e.Field)
	}
	return fmt.Sprintf("%s product page: missing %s", e.Source, e.Field)
}

func (e *FieldError) Unwrap() error {
	return ErrMissingField
}

// ListingItem is the outcome of parsing one card: exactly one of Result or Err is set.
type ListingItem struct {
	Index  int
	Result *models.SearchResult
	Err    error
}

// Listing collects per-card outcomes so that a malformed card is recorded
// without dropping its siblings.
type Listing struct {
	Source models.Source
	Items  []ListingItem
}

func newListing(source models.Source) *Listing {
	return &Listing{Source: source}
}

func (l *Listing) add(index int, result *models.SearchResult, err error) {
	l.Items = append(l.Items, ListingItem{Index: index, Result: result, Err: err})
}

// Results returns the successfully parsed records in page order.
func (l *Listing) Results() []models.SearchResult {
	results := make([]models.SearchResult, 0, len(l.Items))
	for _, item := range l.Items {
		if item.Err == nil && item.Result != nil {
			results = append(results, *item.Result)
		}
	}
	return results
}

func (l *Listing) Errors() []error {
	var errs []error
	for _, item := range l.Items {
		if item.Err != nil {
			errs = append(errs, item.Err)
		}
	}
	return errs
}

func (l *Listing) Failed() int {
	return len(l.Errors())
}

// New returns the parser registered for source.
func New(source models.Source) (Parser, error) {
	switch source {
	case models.SourceAmazon:
		return NewAmazonParser(), nil
	case models.SourceRakuten:
		return NewRakutenParser(), nil
	case models.SourceYahoo:
		return NewYahooParser(), nil
	default:
		return nil, fmt.Errorf("no parser for source %q", source)
	}
}

func firstText(s *goquery.Selection, selectors ...string) string {
	for _, selector := range selectors {
		if text := strings.TrimSpace(s.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func firstAttr(s *goquery.Selection, attr string, selectors ...string) string {
	for _, selector := range selectors {
		if v, ok := s.Find(selector).First().Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// absoluteURL resolves href against base; it returns "" when href is empty or unparsable.
func absoluteURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		if !ref.IsAbs() {
			return ""
		}
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// priceFromText tries strict normalization first and then falls back to
// pulling the first price-like token out of surrounding text.
func priceFromText(text string) *float64 {
	if text == "" {
		return nil
	}
	if p := NormalizePrice(text); p != nil {
		return p
	}
	return ExtractPrice(text)
}

func buildResult(source models.Source, name, link, priceText, image string, shipping *string) *models.SearchResult {
	price := priceFromText(priceText)
	return &models.SearchResult{
		Name:         name,
		URL:          link,
		Price:        price,
		PriceText:    priceText,
		PriceUnknown: price == nil,
		Shipping:     shipping,
		ImageURL:     image,
		Source:       source,
	}
}
