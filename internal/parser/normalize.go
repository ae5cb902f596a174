package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/maltedev/price-aggregator/internal/models"
	"golang.org/x/text/unicode/norm"
)

var (
	// NFKC folds full-width digits and the full-width yen sign, so only the
	// half-width forms need stripping.
	priceNoise = strings.NewReplacer(
		"¥", "",
		"$", "",
		"€", "",
		"円", "",
		"JPY", "",
		",", "",
		"、", "",
	)
	decimalPattern = regexp.MustCompile(`^\d+(?:\.\d+)?$`)
	pricePattern   = regexp.MustCompile(`\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?`)

	// A fee needs a currency mark; bare numbers in shipping texts are
	// usually delivery dates.
	feePattern = regexp.MustCompile(`[¥$]\s*(\d{1,3}(?:,\d{3})+|\d+)|(\d{1,3}(?:,\d{3})+|\d+)\s*円`)

	freeShippingMarkers = []string{"無料", "free", "送料込"}
)

// NormalizePrice converts locale-formatted price text such as "￥1,980" or
// "１，２３４円" into a number. It returns nil when what remains after
// stripping currency marks and separators is not a plain decimal.
func NormalizePrice(text string) *float64 {
	s := norm.NFKC.String(text)
	s = priceNoise.Replace(s)
	s = strings.Join(strings.Fields(s), "")
	if s == "" || !decimalPattern.MatchString(s) {
		return nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// ExtractPrice finds the first price-like token in free text, for cells like
// "1,980円 (税込)" that NormalizePrice rejects as a whole.
func ExtractPrice(text string) *float64 {
	s := norm.NFKC.String(text)
	match := pricePattern.FindString(s)
	if match == "" {
		return nil
	}
	return NormalizePrice(match)
}

// ShippingFee interprets a shipping text. Free shipping yields 0, a
// currency-marked amount yields that amount, anything else yields nil.
func ShippingFee(text *string) *float64 {
	if text == nil {
		return nil
	}
	s := strings.ToLower(norm.NFKC.String(*text))
	for _, marker := range freeShippingMarkers {
		if strings.Contains(s, marker) {
			zero := 0.0
			return &zero
		}
	}
	m := feePattern.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	amount := m[1]
	if amount == "" {
		amount = m[2]
	}
	return NormalizePrice(amount)
}

// ValidateResult reports whether r has a name, a URL and, if priced, a positive price.
func ValidateResult(r models.SearchResult) bool {
	if strings.TrimSpace(r.Name) == "" {
		return false
	}
	if strings.TrimSpace(r.URL) == "" {
		return false
	}
	if r.Price != nil && *r.Price <= 0 {
		return false
	}
	return true
}

// FilterValid returns a new slice holding the valid records and the number dropped.
func FilterValid(results []models.SearchResult) ([]models.SearchResult, int) {
	kept := make([]models.SearchResult, 0, len(results))
	dropped := 0
	for _, r := range results {
		if !ValidateResult(r) {
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	return kept, dropped
}
