// Package pipeline contains the fallback orchestrator and the batch job
// coordinator: the concurrency core of the geocoding service.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/medintel/geocoding-service/internal/domain"
	"github.com/medintel/geocoding-service/internal/observability"
	"github.com/medintel/geocoding-service/internal/ratelimit"
)

// ErrExhausted reports that every provider failed on every retry pass.
// The address belongs in the dead-letter set.
var ErrExhausted = errors.New("all providers and retry passes exhausted")

// Resolver drives one address through the provider fallback chain.
//
// The chain is strict: providers are tried in policy priority order, one
// attempt each per pass, advancing on any failure kind. Up to RetryPasses
// full passes run with backoff between them. A result whose tier is in
// the acceptable set resolves immediately; an unacceptable result is kept
// as the best candidate while the chain continues looking for better.
type Resolver struct {
	providers map[string]domain.Provider
	limiter   *ratelimit.Limiter
	cache     domain.GeocodeCache
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewResolver creates a Resolver over the given providers.
func NewResolver(providers []domain.Provider, limiter *ratelimit.Limiter, cache domain.GeocodeCache, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Resolver {
	byName := make(map[string]domain.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Resolver{
		providers: byName,
		limiter:   limiter,
		cache:     cache,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// Resolve runs the full fallback state machine for one normalized address.
// On success the result is written to the cache before returning. The
// attempt records document every provider tried, in order, for job
// counters and dead-letter review.
func (r *Resolver) Resolve(ctx context.Context, addr domain.NormalizedAddress, policy domain.ResolutionPolicy) (domain.GeocodeResult, []domain.AttemptRecord, error) {
	var attempts []domain.AttemptRecord
	var best domain.GeocodeResult

	for pass := 0; pass < policy.RetryPasses; pass++ {
		if pass > 0 {
			if err := r.sleep(ctx, policy.BackoffFor(pass-1)); err != nil {
				return domain.GeocodeResult{}, attempts, err
			}
		}

		for _, name := range policy.ProviderOrder {
			provider, ok := r.providers[name]
			if !ok {
				r.logger.Warn("policy names unknown provider, skipping", "provider", name)
				continue
			}

			rec := domain.AttemptRecord{Provider: name, Pass: pass, At: r.clock.Now()}

			// A rate-limiter timeout is treated exactly like a provider
			// timeout: advance the chain.
			if err := r.limiter.Acquire(ctx, name); err != nil {
				if ctx.Err() != nil {
					return domain.GeocodeResult{}, attempts, ctx.Err()
				}
				rec.Kind = domain.FailureTimeout
				rec.Error = err.Error()
				attempts = append(attempts, rec)
				r.metrics.ProviderCalls.WithLabelValues(name, string(domain.FailureTimeout)).Inc()
				continue
			}

			result, err := provider.Geocode(ctx, addr)
			if err != nil {
				if ctx.Err() != nil {
					return domain.GeocodeResult{}, attempts, ctx.Err()
				}
				kind := domain.KindOf(err)
				rec.Kind = kind
				rec.Error = err.Error()
				attempts = append(attempts, rec)
				r.metrics.ProviderCalls.WithLabelValues(name, string(kind)).Inc()
				r.logger.Debug("provider attempt failed",
					"provider", name, "pass", pass, "kind", kind, "hash", addr.Hash)
				continue
			}

			if policy.Acceptable(result.Tier) {
				attempts = append(attempts, rec)
				r.metrics.ProviderCalls.WithLabelValues(name, "success").Inc()
				r.cachePut(ctx, addr.Hash, result)
				return result, attempts, nil
			}

			// Resolved but below the accuracy bar: retain as candidate and
			// keep going in case a later provider does better.
			rec.Kind = domain.FailureLowConfidence
			attempts = append(attempts, rec)
			r.metrics.ProviderCalls.WithLabelValues(name, string(domain.FailureLowConfidence)).Inc()
			if !best.Resolved() || result.Tier.Better(best.Tier) {
				best = result
			}
		}

		// A candidate means every provider answered; further passes would
		// re-ask deterministic services the same question. Stop here.
		if best.Resolved() {
			break
		}
	}

	if best.Resolved() {
		best.LowAccuracy = true
		r.cachePut(ctx, addr.Hash, best)
		return best, attempts, nil
	}

	return domain.GeocodeResult{}, attempts, ErrExhausted
}

// sleep waits out a backoff window, returning early on cancellation.
func (r *Resolver) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := r.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

// cachePut is best-effort: a cache failure must never fail the resolution.
func (r *Resolver) cachePut(ctx context.Context, hash string, result domain.GeocodeResult) {
	if err := r.cache.Put(ctx, hash, result); err != nil {
		r.logger.Warn("cache put failed", "hash", hash, "error", err)
	}
}
