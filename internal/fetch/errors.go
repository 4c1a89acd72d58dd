package fetch

import (
	"fmt"
	"net/http"
)

// Kind classifies a failed fetch.
type Kind int

const (
	KindTimeout Kind = iota + 1
	KindRateLimited
	KindBlocked
	KindHTTP
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindBlocked:
		return "blocked"
	case KindHTTP:
		return "http_error"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Error describes a single failed page fetch. Callers use errors.As to reach it.
type Error struct {
	Kind       Kind
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Kind, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CountsAsOriginFailure reports whether the failure should move the origin
// toward being blocked. Not-found and other client errors do not.
func (e *Error) CountsAsOriginFailure() bool {
	switch e.Kind {
	case KindTimeout, KindNetwork, KindRateLimited, KindBlocked:
		return true
	case KindHTTP:
		return e.StatusCode >= http.StatusInternalServerError
	default:
		return false
	}
}

func statusError(url string, status int) *Error {
	kind := KindHTTP
	switch status {
	case http.StatusTooManyRequests:
		kind = KindRateLimited
	case http.StatusForbidden:
		kind = KindBlocked
	}
	return &Error{Kind: kind, URL: url, StatusCode: status}
}
