package extract

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"competitor/scraper/internal/domain"
	"competitor/scraper/internal/fetch"
	"competitor/scraper/internal/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	pages map[string]*fetch.Result
	errs  map[string]error
	calls []string
}

func (g *fakeGetter) Get(_ context.Context, url string) (*fetch.Result, error) {
	g.calls = append(g.calls, url)
	if err, ok := g.errs[url]; ok {
		return nil, err
	}
	if res, ok := g.pages[url]; ok {
		return res, nil
	}
	return nil, &fetch.Error{Kind: fetch.KindHTTP, URL: url, StatusCode: http.StatusNotFound}
}

var testOrigin = domain.Origin{Name: "Shop", BaseURL: "https://shop.test", SearchPath: "/search"}

func htmlResult(url, body string) *fetch.Result {
	return &fetch.Result{URL: url, Body: body, StatusCode: 200, ContentType: "text/html"}
}

func TestParseListingHTML(t *testing.T) {
	body := `<html><body>
<a href="/products/bamboo-mug">Mug</a>
<a href="/products/bamboo-mug#reviews">Mug again</a>
<a href="https://shop.test/shop/cork-stand?variant=2">Stand</a>
<a href="/collections/mugs">Collection</a>
<a href="/products">All</a>
<a href="/cart">Cart</a>
<a href="/products/help-desk-gift">Blacklisted</a>
<a href="/products/image.jpg">Image</a>
<a href="https://other.test/products/x">Elsewhere</a>
<a href="item-42.html">Relative</a>
<a href="mailto:hi@shop.test">Mail</a>
</body></html>`

	urls := ParseListing(testOrigin, htmlResult("https://shop.test/search?q=mug", body))
	assert.Equal(t, []string{
		"https://shop.test/products/bamboo-mug",
		"https://shop.test/shop/cork-stand?variant=2",
		"https://shop.test/item-42.html",
	}, urls)
}

func TestParseListingItemList(t *testing.T) {
	body := `<html><head><script type="application/ld+json">
{"@type":"ItemList","itemListElement":[
 {"@type":"ListItem","position":1,"url":"/products/a"},
 {"@type":"ListItem","position":2,"item":{"@id":"https://shop.test/products/b"}}
]}</script></head><body><a href="/products/a">dup</a><a href="/products/c">c</a></body></html>`

	urls := ParseListing(testOrigin, htmlResult("https://shop.test/search?q=x", body))
	assert.Equal(t, []string{
		"https://shop.test/products/a",
		"https://shop.test/products/b",
		"https://shop.test/products/c",
	}, urls)
}

func TestParseListingItemListKeepsSlugURLs(t *testing.T) {
	body := `<html><head><script type="application/ld+json">
{"@type":"ItemList","itemListElement":[
 {"@type":"ListItem","position":1,"url":"https://shop.test/coffee-mug-blue"},
 {"@type":"ListItem","position":2,"url":"/collections/mugs/enamel-mug"},
 {"@type":"ListItem","position":3,"url":"/assets/mug.png"},
 {"@type":"ListItem","position":4,"url":"https://other.test/coffee-mug-red"}
]}</script></head><body>
<a href="/coffee-mug-green">Slug link</a>
</body></html>`

	urls := ParseListing(testOrigin, htmlResult("https://shop.test/search?q=mug", body))
	assert.Equal(t, []string{
		"https://shop.test/coffee-mug-blue",
		"https://shop.test/collections/mugs/enamel-mug",
	}, urls)
}

func TestParseListingJSONKeepsSlugURLs(t *testing.T) {
	res := &fetch.Result{
		URL:         "https://shop.test/wp-json/wc/store/products?search=mug",
		ContentType: "application/json",
		Body:        `[{"id":1,"permalink":"https://shop.test/enamel-mug/"},{"id":2,"permalink":"https://shop.test/about-us/"}]`,
	}
	assert.Equal(t, []string{
		"https://shop.test/enamel-mug/",
		"https://shop.test/about-us/",
	}, ParseListing(testOrigin, res))
}

func TestParseListingShopifyJSON(t *testing.T) {
	suggest := &fetch.Result{
		URL:         "https://shop.test/search/suggest.json?q=mug",
		ContentType: "application/json",
		Body: `{"resources":{"results":{"products":[
			{"title":"Mug","url":"/products/mug?_pos=1&_sid=abc","featured_image":{"url":"https://cdn.shopify.com/mug.jpg"}},
			{"title":"Cup","url":"/products/cup?_pos=2"}
		]}}}`,
	}
	assert.Equal(t, []string{
		"https://shop.test/products/mug",
		"https://shop.test/products/cup",
	}, ParseListing(testOrigin, suggest))

	catalog := &fetch.Result{
		URL:         "https://shop.test/products.json?page=1",
		ContentType: "application/json",
		Body:        `{"products":[{"handle":"teak-stand","images":[{"src":"https://cdn.shopify.com/a.png"}]},{"handle":"silk-stole"}]}`,
	}
	assert.Equal(t, []string{
		"https://shop.test/products/teak-stand",
		"https://shop.test/products/silk-stole",
	}, ParseListing(testOrigin, catalog))
}

func TestParseListingWooCommerce(t *testing.T) {
	res := &fetch.Result{
		URL:         "https://shop.test/wp-json/wc/store/products?search=mug",
		ContentType: "application/json; charset=UTF-8",
		Body:        `[{"id":1,"permalink":"https://shop.test/product/mug/"},{"id":2,"permalink":"https://shop.test/product/cup/"}]`,
	}
	assert.Equal(t, []string{
		"https://shop.test/product/mug/",
		"https://shop.test/product/cup/",
	}, ParseListing(testOrigin, res))
}

func TestParseListingFeed(t *testing.T) {
	res := &fetch.Result{
		URL:         "https://shop.test/collections/all.atom",
		ContentType: "application/atom+xml",
		Body: `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Shop</title>
  <entry><title>Mug</title><link rel="alternate" type="text/html" href="https://shop.test/products/mug"/><id>1</id></entry>
  <entry><title>Stand</title><link rel="alternate" type="text/html" href="https://shop.test/products/stand"/><id>2</id></entry>
</feed>`,
	}
	assert.Equal(t, []string{
		"https://shop.test/products/mug",
		"https://shop.test/products/stand",
	}, ParseListing(testOrigin, res))
}

func TestEndpoints(t *testing.T) {
	origin := testOrigin
	origin.FeedPath = "/collections/all.atom"

	eps := Endpoints(origin, "bamboo mug", 1, domain.PlatformShopify)
	require.Len(t, eps, 6)
	assert.Equal(t, SourceShopify, eps[0].Source)
	assert.Contains(t, eps[0].URL, "/search/suggest.json?q=bamboo+mug")
	assert.Equal(t, "https://shop.test/products.json?limit=50&page=1", eps[1].URL)
	assert.Equal(t, "https://shop.test/collections/all.atom", eps[2].URL)
	assert.Equal(t, "https://shop.test/search?q=bamboo+mug", eps[3].URL)
	assert.Equal(t, "https://shop.test/search?query=bamboo+mug", eps[4].URL)
	assert.Equal(t, "https://shop.test/?s=bamboo+mug", eps[5].URL)

	eps = Endpoints(origin, "mug", 2, domain.PlatformWooCommerce)
	require.Len(t, eps, 4)
	assert.Equal(t, "https://shop.test/wp-json/wc/store/products?search=mug&page=2&per_page=20", eps[0].URL)
	assert.Equal(t, "https://shop.test/search?q=mug&page=2", eps[1].URL)

	eps = Endpoints(testOrigin, "mug", 1, domain.PlatformUnknown)
	require.Len(t, eps, 3)
	for _, ep := range eps {
		assert.True(t, ep.Generic())
	}
}

func TestHarvestStopsAtFirstProductiveSearchShape(t *testing.T) {
	g := &fakeGetter{pages: map[string]*fetch.Result{
		"https://shop.test/search?query=mug": htmlResult("https://shop.test/search?query=mug",
			`<a href="/products/mug">m</a><a href="/products/cup">c</a>`),
		"https://shop.test/?s=mug": htmlResult("https://shop.test/?s=mug", `<a href="/products/other">o</a>`),
	}}

	urls, err := Harvest(context.Background(), g, testOrigin, "mug", 1, domain.PlatformUnknown)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://shop.test/products/mug", "https://shop.test/products/cup"}, urls)
	assert.Equal(t, []string{"https://shop.test/search?q=mug", "https://shop.test/search?query=mug"}, g.calls)
}

func TestHarvestAllEndpointsFailed(t *testing.T) {
	g := &fakeGetter{}
	_, err := Harvest(context.Background(), g, testOrigin, "mug", 1, domain.PlatformUnknown)
	require.Error(t, err)

	var fe *fetch.Error
	assert.True(t, errors.As(err, &fe))
	assert.Len(t, g.calls, 3)
}

func TestHarvestStopsWhenBlocked(t *testing.T) {
	g := &fakeGetter{errs: map[string]error{
		"https://shop.test/search?q=mug": scheduler.ErrOriginBlocked,
	}}
	_, err := Harvest(context.Background(), g, testOrigin, "mug", 1, domain.PlatformUnknown)
	assert.ErrorIs(t, err, scheduler.ErrOriginBlocked)
	assert.Len(t, g.calls, 1)
}

func TestHarvestEmptyButReachable(t *testing.T) {
	g := &fakeGetter{pages: map[string]*fetch.Result{
		"https://shop.test/search?q=zzz": htmlResult("https://shop.test/search?q=zzz", `<p>No results</p>`),
	}}
	urls, err := Harvest(context.Background(), g, testOrigin, "zzz", 1, domain.PlatformUnknown)
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestPlatformFromHTML(t *testing.T) {
	assert.Equal(t, domain.PlatformShopify, PlatformFromHTML(`<script>window.Shopify = {};</script>`))
	assert.Equal(t, domain.PlatformShopify, PlatformFromHTML(`<link href="//cdn.shopify.com/s/files/theme.css">`))
	assert.Equal(t, domain.PlatformWooCommerce, PlatformFromHTML(`<body class="woocommerce-page">`))
	assert.Equal(t, domain.PlatformUnknown, PlatformFromHTML(`<html><body>plain</body></html>`))
}

func TestDetectPlatform(t *testing.T) {
	g := &fakeGetter{pages: map[string]*fetch.Result{
		"https://shop.test/": htmlResult("https://shop.test/", `<div class="shopify-section"></div>`),
	}}
	assert.Equal(t, domain.PlatformShopify, DetectPlatform(context.Background(), g, testOrigin))

	assert.Equal(t, domain.PlatformUnknown, DetectPlatform(context.Background(), &fakeGetter{}, testOrigin))
}
