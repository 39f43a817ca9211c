package domain

import (
	"context"
	"errors"
	"fmt"
)

// Provider is the uniform capability contract over heterogeneous geocoding
// backends. Implementations never retry internally; retry and fallback
// policy belong to the orchestrator.
type Provider interface {
	// Name returns the stable provider identifier used for rate-limit
	// buckets, metrics labels, and result provenance.
	Name() string

	// Geocode resolves a normalized address to coordinates. Failures are
	// returned as *ProviderError so the orchestrator can branch on kind.
	Geocode(ctx context.Context, addr NormalizedAddress) (GeocodeResult, error)
}

// FailureKind classifies provider failures for fallback decisions.
type FailureKind string

const (
	FailureTimeout       FailureKind = "timeout"
	FailureQuotaExceeded FailureKind = "quota_exceeded" // HTTP 429-equivalent
	FailureNoMatch       FailureKind = "no_match"       // address unresolvable by this provider
	FailureLowConfidence FailureKind = "low_confidence" // resolved but below the acceptable tier set
	FailureTransient     FailureKind = "transient"      // 5xx-equivalent
)

// ProviderError wraps a geocoding failure with its provider and kind.
type ProviderError struct {
	Provider string
	Kind     FailureKind
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Failure constructs a ProviderError.
func Failure(provider string, kind FailureKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// KindOf extracts the failure kind from an error chain, defaulting to
// transient for unclassified errors.
func KindOf(err error) FailureKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	return FailureTransient
}

// GeocodeCache is the cache-first lookup layer keyed by normalized-address
// hash. Implementations must never return an expired entry. The cache is
// best-effort: callers treat a Get error as a miss and a Put error as a
// logged no-op, never as a resolution failure.
type GeocodeCache interface {
	Get(ctx context.Context, hash string) (GeocodeResult, bool, error)
	Put(ctx context.Context, hash string, result GeocodeResult) error
	Invalidate(ctx context.Context, hash string) error
}

// ResultSink is the persistence-boundary write contract. The core writes
// resolved coordinates keyed by the owning entity identifier; it does not
// own the store-of-record schema.
type ResultSink interface {
	WriteResult(ctx context.Context, entityID string, result GeocodeResult) error
}
