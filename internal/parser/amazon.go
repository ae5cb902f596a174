package parser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/price-aggregator/internal/models"
)

const AmazonBaseURL = "https://www.amazon.co.jp"

type AmazonParser struct {
	base           *url.URL
	cardSelector   string
	priceSelectors []string
}

func NewAmazonParser() *AmazonParser {
	return &AmazonParser{
		base:         mustParseURL(AmazonBaseURL),
		cardSelector: `div[data-component-type="s-search-result"]`,
		priceSelectors: []string{
			".a-price .a-offscreen",
			"span.a-price.a-text-price.a-size-medium.apexPriceToPay .a-offscreen",
			".a-price-whole",
			"#priceblock_dealprice",
			"#priceblock_ourprice",
			".a-price-range",
		},
	}
}

func (p *AmazonParser) Source() models.Source {
	return models.SourceAmazon
}

func (p *AmazonParser) ParseSearchResults(doc *goquery.Document, opts ParseOptions) *Listing {
	listing := newListing(models.SourceAmazon)
	if doc == nil {
		return listing
	}

	doc.Find(p.cardSelector).EachWithBreak(func(i int, card *goquery.Selection) bool {
		if opts.MaxResults > 0 && i >= opts.MaxResults {
			return false
		}
		result, err := p.parseCard(i, card, opts)
		listing.add(i, result, err)
		return true
	})

	return listing
}

func (p *AmazonParser) parseCard(index int, card *goquery.Selection, opts ParseOptions) (*models.SearchResult, error) {
	name := firstText(card, "h2 a span", "h2 span")
	if name == "" {
		return nil, &FieldError{Source: models.SourceAmazon, Field: "name", Index: index}
	}

	link := absoluteURL(p.base, firstAttr(card, "href", "h2 a", "a.a-link-normal"))
	if link == "" {
		return nil, &FieldError{Source: models.SourceAmazon, Field: "url", Index: index}
	}

	var shipping *string
	if opts.IncludeShipping {
		if text := firstText(card, `div[data-cy="delivery-recipe"]`); text != "" {
			shipping = &text
		}
	}

	return buildResult(
		models.SourceAmazon,
		name,
		link,
		firstText(card, p.priceSelectors...),
		firstAttr(card, "src", "img.s-image"),
		shipping,
	), nil
}

func (p *AmazonParser) ParseProductPage(doc *goquery.Document, pageURL string) (*models.SearchResult, error) {
	if doc == nil {
		return nil, ErrNoDocument
	}

	page := doc.Selection
	name := strings.Join(strings.Fields(firstText(page, "#productTitle", "#title")), " ")
	if name == "" {
		return nil, &FieldError{Source: models.SourceAmazon, Field: "name", Index: -1}
	}

	var shipping *string
	if text := firstText(page, "#deliveryBlockMessage", "#mir-layout-DELIVERY_BLOCK"); text != "" {
		shipping = &text
	}

	return buildResult(
		models.SourceAmazon,
		name,
		absoluteURL(p.base, pageURL),
		firstText(page, p.priceSelectors...),
		firstAttr(page, "src", "#landingImage", "#imgBlkFront"),
		shipping,
	), nil
}
