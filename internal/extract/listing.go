package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"competitor/scraper/internal/domain"
	"competitor/scraper/internal/fetch"
	"competitor/scraper/internal/scheduler"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	log "github.com/sirupsen/logrus"
)

// PageGetter fetches one URL on behalf of an origin with pacing already applied.
type PageGetter interface {
	Get(ctx context.Context, url string) (*fetch.Result, error)
}

type EndpointSource string

const (
	SourceShopify     EndpointSource = "shopify"
	SourceWooCommerce EndpointSource = "woocommerce"
	SourceFeed        EndpointSource = "feed"
	SourceSearch      EndpointSource = "search"
)

type Endpoint struct {
	URL    string
	Source EndpointSource
}

// Generic endpoints are interchangeable search shapes; only the first productive one is used.
func (e Endpoint) Generic() bool {
	return e.Source == SourceSearch
}

var pathBlacklist = []string{
	"cart", "account", "login", "contact", "about", "blog",
	"news", "policy", "terms", "faq", "support", "help",
}

var assetExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg", ".ico",
	".css", ".js", ".pdf", ".zip",
}

var productSegmentHints = []string{"product", "item", "shop"}

// Endpoints lists listing URLs for one search page, platform endpoints first.
func Endpoints(origin domain.Origin, term string, page int, platform domain.Platform) []Endpoint {
	base := strings.TrimRight(origin.BaseURL, "/")
	q := url.QueryEscape(term)
	if page < 1 {
		page = 1
	}

	var eps []Endpoint
	switch platform {
	case domain.PlatformShopify:
		if page == 1 {
			eps = append(eps, Endpoint{
				URL:    fmt.Sprintf("%s/search/suggest.json?q=%s&resources[type]=product&resources[limit]=10", base, q),
				Source: SourceShopify,
			})
		}
		eps = append(eps, Endpoint{
			URL:    fmt.Sprintf("%s/products.json?limit=50&page=%d", base, page),
			Source: SourceShopify,
		})
	case domain.PlatformWooCommerce:
		eps = append(eps, Endpoint{
			URL:    fmt.Sprintf("%s/wp-json/wc/store/products?search=%s&page=%d&per_page=20", base, q, page),
			Source: SourceWooCommerce,
		})
	}

	if page == 1 && origin.FeedPath != "" {
		eps = append(eps, Endpoint{URL: base + "/" + strings.TrimLeft(origin.FeedPath, "/"), Source: SourceFeed})
	}

	searchPath := origin.SearchPath
	if searchPath == "" {
		searchPath = "/search"
	}
	searchPath = "/" + strings.TrimLeft(searchPath, "/")

	pageSuffix := ""
	if page > 1 {
		pageSuffix = fmt.Sprintf("&page=%d", page)
	}
	for _, shape := range []string{
		base + searchPath + "?q=" + q,
		base + searchPath + "?query=" + q,
		base + "/?s=" + q,
	} {
		eps = append(eps, Endpoint{URL: shape + pageSuffix, Source: SourceSearch})
	}
	return eps
}

// Harvest collects candidate product URLs for one term and page. It fails only when the
// origin is blocked, the context ends, or no endpoint could be fetched at all.
func Harvest(ctx context.Context, getter PageGetter, origin domain.Origin, term string, page int, platform domain.Platform) ([]string, error) {
	var (
		urls       []string
		seen       = make(map[string]struct{})
		attempted  int
		failed     int
		lastErr    error
		genericHit bool
	)

	for _, ep := range Endpoints(origin, term, page, platform) {
		if ep.Generic() && genericHit {
			continue
		}

		attempted++
		res, err := getter.Get(ctx, ep.URL)
		if err != nil {
			if errors.Is(err, scheduler.ErrOriginBlocked) || ctx.Err() != nil {
				return urls, err
			}
			failed++
			lastErr = err
			log.WithField("origin", origin.Name).Debugf("Listing endpoint %s failed: %v", ep.URL, err)
			continue
		}

		found := ParseListing(origin, res)
		for _, u := range found {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
		}
		if ep.Generic() && len(found) > 0 {
			genericHit = true
		}
	}

	if attempted > 0 && failed == attempted {
		return nil, fmt.Errorf("all %d listing endpoints failed for %s: %w", attempted, origin.Name, lastErr)
	}
	return urls, nil
}

// ParseListing pulls product URLs out of a listing response, whatever its shape.
func ParseListing(origin domain.Origin, res *fetch.Result) []string {
	base, err := url.Parse(res.URL)
	if err != nil || base.Host == "" {
		base, err = url.Parse(origin.BaseURL)
		if err != nil {
			return nil
		}
	}

	c := newCollector(base)
	switch res.Kind() {
	case fetch.KindJSON:
		var v any
		if err := json.Unmarshal([]byte(res.Body), &v); err == nil {
			walkListingJSON(v, c)
		}
	case fetch.KindFeed:
		feed, err := gofeed.NewParser().ParseString(res.Body)
		if err != nil {
			log.WithField("origin", origin.Name).Debugf("Feed parse failed for %s: %v", res.URL, err)
			return nil
		}
		for _, item := range feed.Items {
			c.addStructured(item.Link, false)
		}
	default:
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.Body))
		if err != nil {
			return nil
		}
		for _, block := range jsonLDBlocks(doc) {
			walkLD(block, func(obj map[string]any) bool {
				if hasType(obj, "ItemList") {
					itemListURLs(obj, c)
				}
				return true
			})
		}
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			c.addLink(href)
		})
	}
	return c.urls
}

func itemListURLs(list map[string]any, c *collector) {
	elements, _ := list["itemListElement"].([]any)
	for _, el := range elements {
		m, ok := el.(map[string]any)
		if !ok {
			continue
		}
		if u := stringField(m["url"]); u != "" {
			c.addStructured(u, false)
			continue
		}
		switch item := m["item"].(type) {
		case string:
			c.addStructured(item, false)
		case map[string]any:
			if u := stringField(item["url"]); u != "" {
				c.addStructured(u, false)
			} else {
				c.addStructured(stringField(item["@id"]), false)
			}
		}
	}
}

// walkListingJSON handles Shopify and WooCommerce payloads alike: any object carrying
// url, permalink or handle is taken as a product.
func walkListingJSON(v any, c *collector) {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			walkListingJSON(item, c)
		}
	case map[string]any:
		if u := stringField(t["url"]); u != "" {
			c.addStructured(u, true)
		} else if u := stringField(t["permalink"]); u != "" {
			c.addStructured(u, true)
		} else if h := stringField(t["handle"]); h != "" {
			c.addStructured("/products/"+h, true)
		}

		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			switch t[k].(type) {
			case []any, map[string]any:
				walkListingJSON(t[k], c)
			}
		}
	}
}

type collector struct {
	base *url.URL
	seen map[string]struct{}
	urls []string
}

func newCollector(base *url.URL) *collector {
	return &collector{base: base, seen: make(map[string]struct{})}
}

// addLink takes a scraped href, which must look like a product page.
func (c *collector) addLink(raw string) {
	c.add(raw, false, true)
}

// addStructured takes a URL a listing payload declares as a product, so only
// site and asset checks apply.
func (c *collector) addStructured(raw string, dropQuery bool) {
	c.add(raw, dropQuery, false)
}

func (c *collector) add(raw string, dropQuery, strict bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, "javascript:") || strings.HasPrefix(raw, "mailto:") {
		return
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return
	}
	u := c.base.ResolveReference(ref)
	u.Fragment = ""
	if dropQuery {
		u.RawQuery = ""
	}
	if !sameSite(u.Host, c.base.Host) || !fetchable(u) {
		return
	}
	if strict && !looksLikeProduct(u) {
		return
	}

	s := u.String()
	if _, dup := c.seen[s]; dup {
		return
	}
	c.seen[s] = struct{}{}
	c.urls = append(c.urls, s)
}

func sameSite(a, b string) bool {
	return strings.TrimPrefix(strings.ToLower(a), "www.") == strings.TrimPrefix(strings.ToLower(b), "www.")
}

// fetchable rejects non-web schemes, static assets and API documents.
func fetchable(u *url.URL) bool {
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	p := strings.ToLower(u.Path)
	for _, ext := range assetExtensions {
		if strings.HasSuffix(p, ext) {
			return false
		}
	}
	return !strings.HasSuffix(p, ".json") && !strings.HasSuffix(p, ".xml")
}

// looksLikeProduct requires a product-ish path segment that is not a bare index page.
func looksLikeProduct(u *url.URL) bool {
	p := strings.ToLower(u.Path)
	for _, bad := range pathBlacklist {
		if strings.Contains(p, bad) {
			return false
		}
	}

	segments := strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
	for i, seg := range segments {
		for _, hint := range productSegmentHints {
			if !strings.Contains(seg, hint) {
				continue
			}
			bare := seg == hint || seg == hint+"s"
			if !bare || i < len(segments)-1 {
				return true
			}
		}
	}
	return false
}

// DetectPlatform fetches the homepage once and matches known engine signatures.
func DetectPlatform(ctx context.Context, getter PageGetter, origin domain.Origin) domain.Platform {
	res, err := getter.Get(ctx, strings.TrimRight(origin.BaseURL, "/")+"/")
	if err != nil {
		log.WithField("origin", origin.Name).Debugf("Platform detection failed: %v", err)
		return domain.PlatformUnknown
	}
	return PlatformFromHTML(res.Body)
}

var (
	shopifySignatures     = []string{"shopify.theme", "cdn.shopify.com", "window.shopify", "shopify-section", "myshopify.com"}
	wooCommerceSignatures = []string{"/wp-content/plugins/woocommerce", "woocommerce", "wc-block"}
)

func PlatformFromHTML(html string) domain.Platform {
	lower := strings.ToLower(html)
	for _, sig := range shopifySignatures {
		if strings.Contains(lower, sig) {
			return domain.PlatformShopify
		}
	}
	for _, sig := range wooCommerceSignatures {
		if strings.Contains(lower, sig) {
			return domain.PlatformWooCommerce
		}
	}
	return domain.PlatformUnknown
}
