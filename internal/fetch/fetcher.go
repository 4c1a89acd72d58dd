package fetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"competitor/scraper/internal/config"
	"competitor/scraper/internal/metrics"
	"competitor/scraper/internal/proxy"

	log "github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"
	"golang.org/x/net/html/charset"
	"resty.dev/v3"
)

// BodyKind tells downstream parsers what a fetched body contains.
type BodyKind int

const (
	KindOther BodyKind = iota
	KindHTML
	KindJSON
	KindFeed
)

// Result is a successfully fetched page.
type Result struct {
	URL         string
	Body        string
	StatusCode  int
	ContentType string
}

// Kind inspects the content type first and falls back to sniffing the body.
func (r *Result) Kind() BodyKind {
	ct := strings.ToLower(r.ContentType)
	switch {
	case strings.Contains(ct, "json"):
		return KindJSON
	case strings.Contains(ct, "rss"), strings.Contains(ct, "atom"),
		strings.Contains(ct, "xml") && !strings.Contains(ct, "xhtml"):
		return KindFeed
	case strings.Contains(ct, "html"):
		return KindHTML
	}

	body := strings.TrimSpace(r.Body)
	switch {
	case strings.HasPrefix(body, "{"), strings.HasPrefix(body, "["):
		return KindJSON
	case strings.HasPrefix(body, "<?xml"), strings.HasPrefix(body, "<rss"), strings.HasPrefix(body, "<feed"):
		return KindFeed
	case strings.HasPrefix(body, "<"):
		return KindHTML
	}
	return KindOther
}

// Fetcher retrieves a single page. It never retries; retry policy belongs to the caller.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Result, error)
}

type fetcher struct {
	rl         ratelimit.Limiter
	httpClient *resty.Client
	supplier   proxy.Supplier
}

// New builds the resty-backed fetcher. Proxy URLs are validated by the supplier.
func New(cfg config.FetchConfig, supplier proxy.Supplier) Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetTLSClientConfig(&tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		})

	if supplier != nil {
		if proxyURL := supplier.Next(); proxyURL != "" {
			client.SetProxy(proxyURL)
			log.Infof("🔗 Using initial proxy: %s", proxyURL)
		}
	}

	rl := ratelimit.NewUnlimited()
	if cfg.MaxRequestsPerSecond > 0 {
		rl = ratelimit.New(cfg.MaxRequestsPerSecond)
	}

	return &fetcher{
		rl:         rl,
		httpClient: client,
		supplier:   supplier,
	}
}

func (f *fetcher) Fetch(ctx context.Context, pageURL string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.rl.Take()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := f.httpClient.R().
		SetContext(ctx).
		SetHeaders(browserHeaders()).
		Get(pageURL)
	metrics.FetchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			metrics.FetchRequests.WithLabelValues("cancelled").Inc()
			return nil, ctx.Err()
		}
		fe := classify(pageURL, err)
		metrics.FetchRequests.WithLabelValues(fe.Kind.String()).Inc()
		return nil, fe
	}

	if resp.IsError() {
		fe := statusError(pageURL, resp.StatusCode())
		metrics.FetchRequests.WithLabelValues(fe.Kind.String()).Inc()
		if fe.Kind == KindRateLimited || fe.Kind == KindBlocked {
			f.rotateProxy(pageURL)
		}
		return nil, fe
	}

	metrics.FetchRequests.WithLabelValues("ok").Inc()

	result := &Result{
		URL:         pageURL,
		Body:        resp.String(),
		StatusCode:  resp.StatusCode(),
		ContentType: resp.Header().Get("Content-Type"),
	}
	if result.Kind() == KindHTML {
		result.Body = toUTF8(result.Body, result.ContentType)
	}
	return result, nil
}

// rotateProxy moves later requests to the next proxy. The failed request is not repeated.
func (f *fetcher) rotateProxy(pageURL string) {
	if f.supplier == nil || f.supplier.Len() < 2 {
		return
	}
	next := f.supplier.Next()
	if next == "" {
		return
	}
	log.Infof("🔄 Switching to new proxy after refusal from %s: %s", pageURL, next)
	f.httpClient.SetProxy(next)
}

func classify(pageURL string, err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, URL: pageURL, Err: err}
	}
	return &Error{Kind: KindNetwork, URL: pageURL, Err: err}
}

// toUTF8 transcodes legacy encodings declared in the header or a meta tag.
func toUTF8(body, contentType string) string {
	r, err := charset.NewReader(bytes.NewReader([]byte(body)), contentType)
	if err != nil {
		return body
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return body
	}
	return string(decoded)
}
