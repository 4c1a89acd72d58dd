package throttle

import (
	"context"
	"fmt"
	"math"
	"sync"

	"golang.org/x/time/rate"
)

// Bucket is a per-origin token bucket. Tokens accumulate at the configured
// rate up to capacity and one token is consumed per request.
type Bucket struct {
	limiter  *rate.Limiter
	rate     float64
	capacity float64
}

// NewBucket creates a bucket refilling at rps tokens per second. A capacity
// of zero or less defaults to twice the rate. A non-positive rps disables
// throttling.
func NewBucket(rps, capacity float64) *Bucket {
	if rps <= 0 {
		return &Bucket{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	if capacity <= 0 {
		capacity = rps * 2
	}
	burst := int(math.Ceil(capacity))
	if burst < 1 {
		burst = 1
	}
	return &Bucket{
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		rate:     rps,
		capacity: capacity,
	}
}

// Acquire blocks until a token is available. It only fails when ctx is done
// before the computed wait elapses.
func (b *Bucket) Acquire(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("rate limiter wait: %w", err)
	}
	return nil
}

func (b *Bucket) Rate() float64     { return b.rate }
func (b *Bucket) Capacity() float64 { return b.capacity }

// Set holds one bucket per origin, created on first use.
type Set struct {
	mu             sync.Mutex
	buckets        map[string]*Bucket
	capacityFactor float64
}

// NewSet creates a bucket set. capacityFactor multiplies each origin's rate
// to derive its capacity; zero or less means the default of 2.
func NewSet(capacityFactor float64) *Set {
	if capacityFactor <= 0 {
		capacityFactor = 2
	}
	return &Set{
		buckets:        make(map[string]*Bucket),
		capacityFactor: capacityFactor,
	}
}

// For returns the bucket for origin, creating it with rps if missing.
func (s *Set) For(origin string, rps float64) *Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets[origin]; ok {
		return b
	}
	b := NewBucket(rps, rps*s.capacityFactor)
	s.buckets[origin] = b
	return b
}
