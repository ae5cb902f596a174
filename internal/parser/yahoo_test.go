package parser

import (
	"testing"

	"github.com/maltedev/price-aggregator/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yahooSearchHTML = `<html><body>
	<div class="LoopList__item">
		<img class="_2Qs-G5Q0" src="https://item-shopping.c.yimg.jp/a.jpg">
		<a class="_2EW-04-9Eayr" href="https://store.shopping.yahoo.co.jp/shop/a.html">ヤフー スマホ</a>
		<span class="_3-CgJZLU91dR">46,500円</span>
		<span class="_3izCJ6Kc-TF4">送料無料</span>
	</div>
	<div class="LoopList__item">
		<a class="_2EW-04-9Eayr" href="https://store.shopping.yahoo.co.jp/shop/b.html">送料不明</a>
		<span class="_3-CgJZLU91dR">価格未定</span>
	</div>
</body></html>`

func TestYahooParseSearchResults(t *testing.T) {
	parser := NewYahooParser()

	tests := []struct {
		name             string
		includeShipping  bool
		expectedShipping []*string
	}{
		{
			name:             "With shipping",
			includeShipping:  true,
			expectedShipping: []*string{models.String("送料無料"), models.String("送料情報なし")},
		},
		{
			name:             "Without shipping",
			includeShipping:  false,
			expectedShipping: []*string{nil, nil},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listing := parser.ParseSearchResults(mustDocument(t, yahooSearchHTML), ParseOptions{IncludeShipping: tt.includeShipping})
			results := listing.Results()
			require.Len(t, results, 2)
			assert.Empty(t, listing.Errors())

			for i, want := range tt.expectedShipping {
				assert.Equal(t, want, results[i].Shipping)
			}

			require.NotNil(t, results[0].Price)
			assert.Equal(t, 46500.0, *results[0].Price)
			assert.Equal(t, models.SourceYahoo, results[0].Source)
			assert.Equal(t, "https://item-shopping.c.yimg.jp/a.jpg", results[0].ImageURL)

			assert.Nil(t, results[1].Price)
			assert.Equal(t, "価格未定", results[1].PriceText)
		})
	}
}

func TestYahooParseProductPage(t *testing.T) {
	parser := NewYahooParser()

	html := `<html><head>
		<meta property="og:title" content="ヤフー スマホ 詳細">
		<meta itemprop="price" content="46500">
	</head><body></body></html>`

	result, err := parser.ParseProductPage(mustDocument(t, html), "https://store.shopping.yahoo.co.jp/shop/a.html")
	require.NoError(t, err)
	assert.Equal(t, "ヤフー スマホ 詳細", result.Name)
	require.NotNil(t, result.Price)
	assert.Equal(t, 46500.0, *result.Price)
}
