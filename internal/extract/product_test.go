package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jsonLDPage = `<html><head>
<title>Fallback Title</title>
<script type="application/ld+json">
{"@context":"https://schema.org","@graph":[
  {"@type":"BreadcrumbList","itemListElement":[]},
  {"@type":["Product","Thing"],"name":"Bamboo Coffee Mug 350 ml","sku":"BM-350",
   "description":"Handmade bamboo fibre mug",
   "brand":{"@type":"Brand","name":"Earthy"},
   "image":["https://shop.test/img/mug.jpg","https://shop.test/img/mug2.jpg"],
   "offers":[{"@type":"Offer","price":"1,299.00","priceCurrency":"INR","availability":"https://schema.org/OutOfStock"}]}
]}
</script></head><body><h1>Bamboo Coffee Mug</h1><span itemprop="price" content="5.00"></span></body></html>`

func TestProductFromJSONLD(t *testing.T) {
	rec, err := NewParser().Product("Earthy Store", "https://shop.test/products/bamboo-mug", jsonLDPage)
	require.NoError(t, err)

	assert.Equal(t, "Earthy Store", rec.Origin)
	assert.Equal(t, "Bamboo Coffee Mug 350 ml", rec.Title)
	require.NotNil(t, rec.Price)
	assert.InDelta(t, 1299.0, *rec.Price, 0.001)
	assert.Equal(t, "INR", rec.Currency)
	assert.Equal(t, "Earthy", rec.Brand)
	assert.Equal(t, "BM-350", rec.ProductID)
	assert.Equal(t, "https://shop.test/img/mug.jpg", rec.ImageURL)
	assert.False(t, rec.InStock)
	assert.Equal(t, len(jsonLDPage), rec.Metadata["html_length"])

	sources, ok := rec.Metadata["sources"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, sourceJSONLD, sources["title"])
	assert.Equal(t, sourceJSONLD, sources["price"])
}

func TestProductStructuredPriceBeatsInlineText(t *testing.T) {
	page := `<html><head><title>Steel Water Bottle</title>
<script type="application/ld+json">{"@type":"Product","name":"Steel Water Bottle",
 "offers":{"@type":"Offer","price":"19.99","priceCurrency":"USD"}}</script>
</head><body><h1>Steel Water Bottle</h1><p class="promo">Was $9.99 last week</p><span class="price">$9.99</span></body></html>`

	rec, err := NewParser().Product("s", "https://shop.test/products/steel-bottle", page)
	require.NoError(t, err)

	require.NotNil(t, rec.Price)
	assert.InDelta(t, 19.99, *rec.Price, 0.001)
	assert.Equal(t, "USD", rec.Currency)
	assert.Equal(t, sourceJSONLD, rec.Metadata["sources"].(map[string]string)["price"])
}

func TestProductMicrodataPrice(t *testing.T) {
	page := `<html><head><title>Cork Notebook</title>
<script type="application/ld+json">{"@type":"Product","name":"Cork Notebook A5","brand":"Corkly"}</script>
</head><body><span itemprop="price">$ 24.50</span></body></html>`

	rec, err := NewParser().Product("s", "https://shop.test/product/cork-notebook", page)
	require.NoError(t, err)

	assert.Equal(t, "Cork Notebook A5", rec.Title)
	assert.Equal(t, "Corkly", rec.Brand)
	require.NotNil(t, rec.Price)
	assert.InDelta(t, 24.5, *rec.Price, 0.001)
	assert.Equal(t, "USD", rec.Currency)
	assert.True(t, rec.InStock)
	assert.Equal(t, sourceMicrodata, rec.Metadata["sources"].(map[string]string)["price"])
}

func TestProductHeuristics(t *testing.T) {
	page := `<html><head>
<meta property="og:title" content="OG Title">
<meta property="product:brand" content="Silkworks">
<meta name="description" content="Pure mulberry silk stole">
<meta property="og:image" content="https://shop.test/stole.png">
</head><body><h1>Mulberry Silk Stole</h1><p>Now only £45.00</p></body></html>`

	rec, err := NewParser().Product("s", "https://shop.test/shop/silk-stole", page)
	require.NoError(t, err)

	assert.Equal(t, "Mulberry Silk Stole", rec.Title)
	require.NotNil(t, rec.Price)
	assert.InDelta(t, 45.0, *rec.Price, 0.001)
	assert.Equal(t, "GBP", rec.Currency)
	assert.Equal(t, "Silkworks", rec.Brand)
	assert.Equal(t, "Pure mulberry silk stole", rec.Description)
	assert.Equal(t, "https://shop.test/stole.png", rec.ImageURL)
}

func TestProductScriptPrice(t *testing.T) {
	page := `<html><head><title>Steel Bottle</title></head><body>
<script>var meta = {"product":{"price": "899"}, "brand": "Hydra"};</script>
<p>Was $1,200</p></body></html>`

	rec, err := NewParser().Product("s", "https://shop.test/products/steel-bottle", page)
	require.NoError(t, err)
	assert.InDelta(t, 899.0, *rec.Price, 0.001)
	assert.Equal(t, "Hydra", rec.Brand)
}

func TestProductRejections(t *testing.T) {
	p := NewParser()

	_, err := p.Product("s", "https://shop.test/products/x", `<html><body><p>$10</p></body></html>`)
	assert.ErrorIs(t, err, ErrMissingTitle)

	_, err = p.Product("s", "https://shop.test/products/x", `<html><head><title>Wooden Stand</title></head><body>Call us</body></html>`)
	assert.ErrorIs(t, err, ErrMissingPrice)

	_, err = p.Product("s", "https://shop.test/products/x", `<html><head><title>Test Product Mug</title></head><body>$10</body></html>`)
	assert.ErrorIs(t, err, ErrNotAuthentic)

	_, err = p.Product("s", "https://shop.test/products/demo_mug", `<html><head><title>Coffee Mug</title></head><body>$10</body></html>`)
	assert.ErrorIs(t, err, ErrNotAuthentic)
}

func TestAuthentic(t *testing.T) {
	assert.True(t, Authentic("Contest Winner Mug", "https://shop.test/products/contest-mug"))
	assert.True(t, Authentic("Bamboo Lunchbox", "https://shop.test/products/bamboo-lunchbox"))
	assert.False(t, Authentic("Lorem Ipsum Scarf", "https://shop.test/products/scarf"))
	assert.False(t, Authentic("Silk Scarf - Coming Soon", "https://shop.test/products/scarf"))
	assert.False(t, Authentic("Silk Scarf", "https://shop.test/products/qa-scarf"))
}

func TestParsePrice(t *testing.T) {
	cases := map[string]float64{
		"1,299.00": 1299,
		"$ 24.50":  24.5,
		"45":       45,
		"Rs. 350":  350,
	}
	for in, want := range cases {
		got, ok := parsePrice(in)
		require.True(t, ok, in)
		assert.InDelta(t, want, got, 0.001, in)
	}

	_, ok := parsePrice("free")
	assert.False(t, ok)
}
