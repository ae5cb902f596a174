package parser

import (
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/price-aggregator/internal/models"
)

const (
	YahooBaseURL = "https://shopping.yahoo.co.jp"

	yahooNoShippingInfo = "送料情報なし"
)

type YahooParser struct {
	base *url.URL
}

func NewYahooParser() *YahooParser {
	return &YahooParser{base: mustParseURL(YahooBaseURL)}
}

func (p *YahooParser) Source() models.Source {
	return models.SourceYahoo
}

func (p *YahooParser) ParseSearchResults(doc *goquery.Document, opts ParseOptions) *Listing {
	listing := newListing(models.SourceYahoo)
	if doc == nil {
		return listing
	}

	doc.Find("div.LoopList__item").EachWithBreak(func(i int, card *goquery.Selection) bool {
		if opts.MaxResults > 0 && i >= opts.MaxResults {
			return false
		}
		result, err := p.parseCard(i, card, opts)
		listing.add(i, result, err)
		return true
	})

	return listing
}

func (p *YahooParser) parseCard(index int, card *goquery.Selection, opts ParseOptions) (*models.SearchResult, error) {
	title := card.Find("a._2EW-04-9Eayr").First()
	name := firstText(card, "a._2EW-04-9Eayr")
	if name == "" {
		return nil, &FieldError{Source: models.SourceYahoo, Field: "name", Index: index}
	}

	href, _ := title.Attr("href")
	link := absoluteURL(p.base, href)
	if link == "" {
		return nil, &FieldError{Source: models.SourceYahoo, Field: "url", Index: index}
	}

	var shipping *string
	if opts.IncludeShipping {
		text := firstText(card, "span._3izCJ6Kc-TF4")
		if text == "" {
			text = yahooNoShippingInfo
		}
		shipping = &text
	}

	return buildResult(
		models.SourceYahoo,
		name,
		link,
		firstText(card, "span._3-CgJZLU91dR"),
		firstAttr(card, "src", "img._2Qs-G5Q0"),
		shipping,
	), nil
}

func (p *YahooParser) ParseProductPage(doc *goquery.Document, pageURL string) (*models.SearchResult, error) {
	if doc == nil {
		return nil, ErrNoDocument
	}

	page := doc.Selection
	name := firstText(page, ".mdItemName .elName", "h1")
	if name == "" {
		name = firstAttr(page, "content", `meta[property="og:title"]`)
	}
	if name == "" {
		return nil, &FieldError{Source: models.SourceYahoo, Field: "name", Index: -1}
	}

	priceText := firstText(page, ".elPriceNumber", ".mdItemPrice .elPrice")
	if priceText == "" {
		priceText = firstAttr(page, "content", `meta[itemprop="price"]`)
	}

	var shipping *string
	if text := firstText(page, ".elPostageValue", ".mdPostage"); text != "" {
		shipping = &text
	}

	return buildResult(
		models.SourceYahoo,
		name,
		absoluteURL(p.base, pageURL),
		priceText,
		firstAttr(page, "content", `meta[property="og:image"]`),
		shipping,
	), nil
}
