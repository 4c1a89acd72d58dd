package domain

import "time"

// Platform is a known storefront engine detected from homepage markup.
type Platform string

const (
	PlatformUnknown     Platform = ""
	PlatformShopify     Platform = "shopify"
	PlatformWooCommerce Platform = "woocommerce"
)

func (p Platform) String() string {
	if p == PlatformUnknown {
		return "unknown"
	}
	return string(p)
}

// Origin is one target storefront being crawled.
type Origin struct {
	Name              string   `mapstructure:"name" json:"name"`
	BaseURL           string   `mapstructure:"base_url" json:"base_url"`
	SearchPath        string   `mapstructure:"search_path" json:"search_path"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second" json:"requests_per_second"`
	Platform          Platform `mapstructure:"platform" json:"platform,omitempty"`   // Preset hint, detected when empty
	FeedPath          string   `mapstructure:"feed_path" json:"feed_path,omitempty"` // Optional Atom/RSS catalog feed
}

type OriginHealth struct {
	Origin              string     `json:"origin"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	IsBlocked           bool       `json:"is_blocked"`
	RetryAfter          *time.Time `json:"retry_after,omitempty"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastFailure         *time.Time `json:"last_failure,omitempty"`
}
