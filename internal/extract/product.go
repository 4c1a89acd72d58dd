package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"competitor/scraper/internal/domain"

	"github.com/PuerkitoBio/goquery"
	"github.com/abadojack/whatlanggo"
)

var (
	ErrMissingTitle = errors.New("product page has no title")
	ErrMissingPrice = errors.New("product page has no price")
	ErrNotAuthentic = errors.New("product looks like a test or placeholder listing")
)

const (
	sourceJSONLD    = "json-ld"
	sourceMicrodata = "microdata"
	sourceHeuristic = "heuristic"
)

var (
	numberRe      = regexp.MustCompile(`\d[\d,]*\.?\d*`)
	scriptPriceRe = regexp.MustCompile(`(?i)["']price["']\s*:\s*["']?([\d,]+\.?\d*)`)
	looseBrandRe  = regexp.MustCompile(`(?i)["']brand["']\s*:\s*["']([^"']+)["']`)
	inauthenticRe = regexp.MustCompile(`(?i)\b(test|sample|demo|placeholder|lorem\s*ipsum|mock|coming\s+soon|qa)\b`)
)

var currencyPatterns = []struct {
	re       *regexp.Regexp
	currency string
}{
	{regexp.MustCompile(`\$\s?([\d,]+\.?\d*)`), "USD"},
	{regexp.MustCompile(`€\s?([\d,]+\.?\d*)`), "EUR"},
	{regexp.MustCompile(`£\s?([\d,]+\.?\d*)`), "GBP"},
	{regexp.MustCompile(`(?:₹|\bINR\b|\bRs\.?)\s?([\d,]+\.?\d*)`), "INR"},
}

// Parser turns a product page into a ProductRecord.
type Parser struct {
	now func() time.Time
}

func NewParser() *Parser {
	return &Parser{now: time.Now}
}

// draft collects fields while the fallback chain runs. The first source to fill a field wins.
type draft struct {
	title       string
	description string
	brand       string
	image       string
	currency    string
	productID   string
	price       *float64
	inStock     bool
	sources     map[string]string
}

func (d *draft) set(field, source string, dst *string, value string) {
	value = strings.TrimSpace(value)
	if *dst != "" || value == "" {
		return
	}
	*dst = value
	d.sources[field] = source
}

func (d *draft) setPrice(source string, value float64) {
	if d.price != nil {
		return
	}
	d.price = &value
	d.sources["price"] = source
}

// Product extracts a record from html served at pageURL. The three sentinel errors mean
// the page should be silently dropped.
func (p *Parser) Product(origin, pageURL, html string) (domain.ProductRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return domain.ProductRecord{}, fmt.Errorf("failed to parse HTML: %w", err)
	}

	d := &draft{inStock: true, sources: make(map[string]string)}

	p.fromJSONLD(doc, d)
	p.fromMicrodata(doc, d)
	p.fromHeuristics(doc, html, d)

	if d.title == "" {
		return domain.ProductRecord{}, ErrMissingTitle
	}
	if d.price == nil {
		return domain.ProductRecord{}, ErrMissingPrice
	}
	if !Authentic(d.title, pageURL) {
		return domain.ProductRecord{}, ErrNotAuthentic
	}

	if d.currency == "" {
		d.currency = "USD"
	}

	meta := map[string]any{
		"html_length": len(html),
		"sources":     d.sources,
	}
	info := whatlanggo.Detect(d.title + " " + d.description)
	if info.IsReliable() {
		meta["lang"] = info.Lang.Iso6393()
	}

	return domain.ProductRecord{
		Origin:      origin,
		ProductID:   d.productID,
		ProductURL:  pageURL,
		Title:       d.title,
		Price:       d.price,
		Currency:    d.currency,
		Brand:       d.brand,
		Description: d.description,
		ImageURL:    d.image,
		InStock:     d.inStock,
		ScrapedAt:   p.now().UTC(),
		Metadata:    meta,
	}, nil
}

// Authentic rejects obvious test and placeholder listings by title or URL path.
func Authentic(title, pageURL string) bool {
	if inauthenticRe.MatchString(title) {
		return false
	}
	target := pageURL
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		target = u.Path + "?" + u.RawQuery
	}
	return !inauthenticRe.MatchString(strings.ReplaceAll(target, "_", " "))
}

func (p *Parser) fromJSONLD(doc *goquery.Document, d *draft) {
	product := firstProduct(jsonLDBlocks(doc))
	if product == nil {
		return
	}

	d.set("title", sourceJSONLD, &d.title, stringField(product["name"]))
	d.set("description", sourceJSONLD, &d.description, stringField(product["description"]))
	d.set("image", sourceJSONLD, &d.image, imageField(product["image"]))

	switch b := product["brand"].(type) {
	case map[string]any:
		d.set("brand", sourceJSONLD, &d.brand, stringField(b["name"]))
	default:
		d.set("brand", sourceJSONLD, &d.brand, stringField(b))
	}

	for _, key := range []string{"sku", "productID", "mpn"} {
		if id := stringField(product[key]); id != "" {
			d.productID = id
			break
		}
	}

	offer := firstOffer(product["offers"])
	if offer == nil {
		return
	}

	price, ok := parsePrice(stringField(offer["price"]))
	if !ok {
		price, ok = parsePrice(stringField(offer["lowPrice"]))
	}
	if ok {
		d.setPrice(sourceJSONLD, price)
		currency := stringField(offer["priceCurrency"])
		if currency == "" {
			currency = "USD"
		}
		d.set("currency", sourceJSONLD, &d.currency, currency)
	}

	if availability := stringField(offer["availability"]); availability != "" {
		d.inStock = strings.Contains(strings.ToLower(availability), "instock")
	}
}

func (p *Parser) fromMicrodata(doc *goquery.Document, d *draft) {
	if d.price != nil {
		return
	}
	doc.Find(`[itemprop="price"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text, ok := s.Attr("content")
		if !ok || strings.TrimSpace(text) == "" {
			text = s.Text()
		}
		if price, ok := parsePrice(text); ok {
			d.setPrice(sourceMicrodata, price)
			return false
		}
		return true
	})
}

func (p *Parser) fromHeuristics(doc *goquery.Document, html string, d *draft) {
	d.set("title", sourceHeuristic, &d.title, doc.Find("title").First().Text())
	d.set("title", sourceHeuristic, &d.title, doc.Find("h1").First().Text())
	d.set("title", sourceHeuristic, &d.title, metaContent(doc, `meta[property="og:title"]`))

	if d.price == nil {
		doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if m := scriptPriceRe.FindStringSubmatch(s.Text()); m != nil {
				if price, ok := parsePrice(m[1]); ok {
					d.setPrice(sourceHeuristic, price)
					return false
				}
			}
			return true
		})
	}

	if d.price == nil {
		text := doc.Find("body").Text()
		if text == "" {
			text = doc.Text()
		}
		for _, cp := range currencyPatterns {
			m := cp.re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			if price, ok := parsePrice(m[1]); ok {
				d.setPrice(sourceHeuristic, price)
				d.set("currency", sourceHeuristic, &d.currency, cp.currency)
				break
			}
		}
	}

	if m := looseBrandRe.FindStringSubmatch(html); m != nil {
		d.set("brand", sourceHeuristic, &d.brand, m[1])
	}
	d.set("brand", sourceHeuristic, &d.brand, metaContent(doc, `meta[property="product:brand"]`))
	d.set("description", sourceHeuristic, &d.description, metaContent(doc, `meta[name="description"]`))
	d.set("image", sourceHeuristic, &d.image, metaContent(doc, `meta[property="og:image"]`))
}

// jsonLDBlocks decodes every ld+json script, skipping malformed ones.
func jsonLDBlocks(doc *goquery.Document) []any {
	var blocks []any
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var v any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &v); err != nil {
			return
		}
		blocks = append(blocks, v)
	})
	return blocks
}

func firstProduct(blocks []any) map[string]any {
	var found map[string]any
	for _, b := range blocks {
		walkLD(b, func(obj map[string]any) bool {
			if hasType(obj, "Product") {
				found = obj
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}
	return nil
}

// walkLD visits JSON-LD objects in document order, descending into arrays and @graph.
func walkLD(v any, visit func(map[string]any) bool) bool {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if !walkLD(item, visit) {
				return false
			}
		}
	case map[string]any:
		if !visit(t) {
			return false
		}
		if graph, ok := t["@graph"]; ok {
			return walkLD(graph, visit)
		}
	}
	return true
}

func hasType(obj map[string]any, want string) bool {
	switch t := obj["@type"].(type) {
	case string:
		return strings.EqualFold(t, want)
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && strings.EqualFold(s, want) {
				return true
			}
		}
	}
	return false
}

func firstOffer(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case []any:
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

func imageField(v any) string {
	switch t := v.(type) {
	case []any:
		if len(t) > 0 {
			return imageField(t[0])
		}
	case map[string]any:
		return stringField(t["url"])
	default:
		return stringField(t)
	}
	return ""
}

func stringField(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	}
	return ""
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return content
}

// parsePrice reads the first number in s, treating commas as thousands separators.
func parsePrice(s string) (float64, bool) {
	m := numberRe.FindString(s)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
