// Package ratelimit bounds the outbound request rate to each geocoding
// provider with independent token buckets.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/medintel/geocoding-service/internal/observability"
)

// ErrRateLimitTimeout is returned when Acquire cannot obtain a token
// within the configured max wait. Callers treat it like a provider
// timeout and advance the fallback chain.
var ErrRateLimitTimeout = errors.New("rate limit: max wait exceeded")

// bucket is the per-provider token-bucket state. Exactly one instance per
// provider for the process lifetime; all mutation happens under the
// limiter mutex so concurrent acquires can never over-draw below zero.
type bucket struct {
	capacity float64
	tokens   float64
	rate     float64 // tokens per second
	last     time.Time
}

// refill adds continuously accrued tokens up to capacity.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}

// Limiter admits outbound provider calls via per-provider token buckets.
// Buckets are independent: exhausting one provider never delays another.
type Limiter struct {
	clock   clockwork.Clock
	maxWait time.Duration
	metrics *observability.Metrics

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New creates a Limiter. maxWait bounds how long one Acquire call may
// block before giving up with ErrRateLimitTimeout.
func New(clock clockwork.Clock, maxWait time.Duration, metrics *observability.Metrics) *Limiter {
	return &Limiter{
		clock:   clock,
		maxWait: maxWait,
		metrics: metrics,
		buckets: make(map[string]*bucket),
	}
}

// Register creates the bucket for a provider. The bucket starts full so a
// freshly started service can absorb an initial burst.
func (l *Limiter) Register(provider string, rate float64, capacity int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[provider] = &bucket{
		capacity: float64(capacity),
		tokens:   float64(capacity),
		rate:     rate,
		last:     l.clock.Now(),
	}
}

// Acquire blocks the calling goroutine until a token is available for the
// provider, the max wait elapses (ErrRateLimitTimeout), or ctx is
// cancelled. Only the caller blocks; other providers' buckets are
// unaffected.
func (l *Limiter) Acquire(ctx context.Context, provider string) error {
	start := l.clock.Now()
	deadline := start.Add(l.maxWait)

	for {
		wait, err := l.tryTake(provider, deadline)
		if err != nil {
			if errors.Is(err, ErrRateLimitTimeout) {
				l.metrics.RateLimitTimeouts.WithLabelValues(provider).Inc()
			}
			return err
		}
		if wait <= 0 {
			l.metrics.RateLimitWait.WithLabelValues(provider).Observe(l.clock.Since(start).Seconds())
			return nil
		}

		timer := l.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.Chan():
			// Loop: another goroutine may have taken the refilled token.
		}
	}
}

// tryTake consumes a token if one is available, otherwise returns how long
// to wait for the next one. Fails fast when the next token cannot arrive
// before the deadline.
func (l *Limiter) tryTake(provider string, deadline time.Time) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[provider]
	if !ok {
		return 0, fmt.Errorf("rate limit: unknown provider %q", provider)
	}

	now := l.clock.Now()
	b.refill(now)

	if b.tokens >= 1 {
		b.tokens--
		return 0, nil
	}

	wait := time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
	if now.Add(wait).After(deadline) {
		return 0, ErrRateLimitTimeout
	}
	return wait, nil
}
