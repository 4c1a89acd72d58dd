package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"resty.dev/v3"
)

// Supplier hands out proxies in round-robin order. An empty supplier returns "".
type Supplier interface {
	Next() string
	Len() int
}

type supplier struct {
	proxies []string
	current int
	mutex   sync.Mutex
}

// NewStatic builds a supplier without probing, rejecting malformed proxy URLs.
func NewStatic(proxies []string) (Supplier, error) {
	for _, p := range proxies {
		if err := validateURL(p); err != nil {
			return nil, err
		}
	}
	return &supplier{proxies: append([]string(nil), proxies...)}, nil
}

// NewValidated checks every proxy against testURL in parallel and keeps the working ones.
func NewValidated(ctx context.Context, proxies []string, testURL string, timeout time.Duration) (Supplier, error) {
	if len(proxies) == 0 {
		return &supplier{}, nil
	}
	for _, p := range proxies {
		if err := validateURL(p); err != nil {
			return nil, err
		}
	}

	log.Infof("🔄 Testing %d proxies in parallel...", len(proxies))

	validCh := make(chan string, len(proxies))
	semaphore := make(chan struct{}, 50)
	var wg sync.WaitGroup

	for _, proxyURL := range proxies {
		wg.Add(1)
		go func(proxyURL string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if isProxyValid(ctx, proxyURL, testURL, timeout) {
				validCh <- proxyURL
				log.Infof("✅ Proxy %s is working", proxyURL)
			} else {
				log.Infof("❌ Proxy %s is not working, skipping", proxyURL)
			}
		}(proxyURL)
	}

	wg.Wait()
	close(validCh)

	valid := make([]string, 0, len(proxies))
	for p := range validCh {
		valid = append(valid, p)
	}

	log.Infof("✅ Proxy supplier initialized with %d working proxies out of %d tested", len(valid), len(proxies))
	return &supplier{proxies: valid}, nil
}

func (p *supplier) Next() string {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.proxies) == 0 {
		return ""
	}

	proxy := p.proxies[p.current]
	p.current = (p.current + 1) % len(p.proxies)
	return proxy
}

func (p *supplier) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.proxies)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid proxy url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid proxy url %q: missing scheme or host", raw)
	}
	return nil
}

func isProxyValid(ctx context.Context, proxyURL, testURL string, timeout time.Duration) bool {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetProxy(proxyURL).
		SetTLSClientConfig(&tls.Config{MinVersion: tls.VersionTLS12})

	resp, err := client.R().
		SetContext(ctx).
		Get(testURL)
	if err != nil {
		log.Debugf("Proxy test failed for %s: %v", proxyURL, err)
		return false
	}
	if resp.IsError() {
		log.Debugf("Proxy test failed for %s with status: %s", proxyURL, resp.Status())
		return false
	}
	return true
}
