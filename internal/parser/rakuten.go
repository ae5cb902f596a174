package parser

import (
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/price-aggregator/internal/models"
)

const RakutenBaseURL = "https://search.rakuten.co.jp"

type RakutenParser struct {
	base *url.URL
}

func NewRakutenParser() *RakutenParser {
	return &RakutenParser{base: mustParseURL(RakutenBaseURL)}
}

func (p *RakutenParser) Source() models.Source {
	return models.SourceRakuten
}

func (p *RakutenParser) ParseSearchResults(doc *goquery.Document, opts ParseOptions) *Listing {
	listing := newListing(models.SourceRakuten)
	if doc == nil {
		return listing
	}

	doc.Find("div.searchresultitem").EachWithBreak(func(i int, card *goquery.Selection) bool {
		if opts.MaxResults > 0 && i >= opts.MaxResults {
			return false
		}
		result, err := p.parseCard(i, card, opts)
		listing.add(i, result, err)
		return true
	})

	return listing
}

func (p *RakutenParser) parseCard(index int, card *goquery.Selection, opts ParseOptions) (*models.SearchResult, error) {
	title := card.Find("h2.title a, .title a").First()
	name := firstText(card, "h2.title a", ".title a")
	if name == "" {
		return nil, &FieldError{Source: models.SourceRakuten, Field: "name", Index: index}
	}

	href, _ := title.Attr("href")
	link := absoluteURL(p.base, href)
	if link == "" {
		return nil, &FieldError{Source: models.SourceRakuten, Field: "url", Index: index}
	}

	var shipping *string
	if opts.IncludeShipping {
		if text := firstText(card, ".shipping", ".dui-tag.-free-shipping"); text != "" {
			shipping = &text
		}
	}

	return buildResult(
		models.SourceRakuten,
		name,
		link,
		firstText(card, ".important", ".price"),
		firstAttr(card, "src", ".image img"),
		shipping,
	), nil
}

func (p *RakutenParser) ParseProductPage(doc *goquery.Document, pageURL string) (*models.SearchResult, error) {
	if doc == nil {
		return nil, ErrNoDocument
	}

	page := doc.Selection
	name := firstText(page, "#itemName", ".item_name", "h1")
	if name == "" {
		return nil, &FieldError{Source: models.SourceRakuten, Field: "name", Index: -1}
	}

	var shipping *string
	if text := firstText(page, ".dsf-shipping", ".shipping"); text != "" {
		shipping = &text
	}

	return buildResult(
		models.SourceRakuten,
		name,
		absoluteURL(p.base, pageURL),
		firstText(page, ".price2", ".price"),
		firstAttr(page, "content", `meta[property="og:image"]`),
		shipping,
	), nil
}
