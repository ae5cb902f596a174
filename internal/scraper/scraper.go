package scraper

import (
	"errors"
	"fmt"

	"github.com/maltedev/price-aggregator/internal/models"
)

var (
	ErrNetwork           = errors.New("network error")
	ErrParse             = errors.New("parse error")
	ErrUnsupportedSource = errors.New("unsupported source")
	ErrBlocked           = errors.New("blocked by anti-bot page")
)

type Kind string

const (
	KindNetwork           Kind = "network"
	KindParse             Kind = "parse"
	KindUnsupportedSource Kind = "unsupported_source"
	KindUnknown           Kind = "unknown"
)

func (k Kind) sentinel() error {
	switch k {
	case KindNetwork:
		return ErrNetwork
	case KindParse:
		return ErrParse
	case KindUnsupportedSource:
		return ErrUnsupportedSource
	default:
		return nil
	}
}

// ScrapingError is the typed failure returned by fetchers and adapters.
// errors.Is matches it against the sentinel of its Kind as well as the cause.
type ScrapingError struct {
	Kind   Kind
	Source models.Source
	URL    string
	Status int
	Err    error
}

func (e *ScrapingError) Error() string {
	msg := string(e.Kind) + " error"
	if e.Source != "" {
		msg = string(e.Source) + ": " + msg
	}
	if e.URL != "" {
		msg += " for " + e.URL
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ScrapingError) Unwrap() error {
	return e.Err
}

func (e *ScrapingError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

func NewNetworkError(url string, status int, err error) *ScrapingError {
	return &ScrapingError{Kind: KindNetwork, URL: url, Status: status, Err: err}
}

func NewParseError(source models.Source, url string, err error) *ScrapingError {
	return &ScrapingError{Kind: KindParse, Source: source, URL: url, Err: err}
}

func NewUnsupportedSourceError(url string) *ScrapingError {
	return &ScrapingError{Kind: KindUnsupportedSource, URL: url, Err: fmt.Errorf("no adapter matches %q", url)}
}

// KindOf classifies err for logging.
func KindOf(err error) string {
	var se *ScrapingError
	if errors.As(err, &se) {
		return string(se.Kind)
	}
	switch {
	case errors.Is(err, ErrNetwork):
		return string(KindNetwork)
	case errors.Is(err, ErrParse):
		return string(KindParse)
	case errors.Is(err, ErrUnsupportedSource):
		return string(KindUnsupportedSource)
	}
	return string(KindUnknown)
}

// withSource tags a ScrapingError inside err with source when it has none.
func withSource(err error, source models.Source) error {
	var se *ScrapingError
	if errors.As(err, &se) && se.Source == "" {
		se.Source = source
	}
	return err
}
