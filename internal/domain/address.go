package domain

import "time"

// AccuracyTier is the normalized match-quality bucket shared across providers.
type AccuracyTier string

const (
	TierPrecise      AccuracyTier = "PRECISE"
	TierInterpolated AccuracyTier = "INTERPOLATED"
	TierApproximate  AccuracyTier = "APPROXIMATE"
	TierRegionCenter AccuracyTier = "REGION_CENTER"
)

// tierRank orders tiers from worst to best for candidate comparison.
var tierRank = map[AccuracyTier]int{
	TierRegionCenter: 1,
	TierApproximate:  2,
	TierInterpolated: 3,
	TierPrecise:      4,
}

// Better reports whether tier a is a strictly higher-quality match than b.
// An unset tier ranks below every real tier.
func (a AccuracyTier) Better(b AccuracyTier) bool {
	return tierRank[a] > tierRank[b]
}

// Address is a raw address record as submitted by the ingestion pipeline.
// Immutable once part of a batch.
type Address struct {
	EntityID   string `json:"entity_id"` // opaque owning-record key, carried through untouched
	Street1    string `json:"street1"`
	Street2    string `json:"street2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
}

// NormalizedAddress is the deterministic canonical form of an Address.
// It is derived on demand and never stored; only Hash persists as a cache key.
type NormalizedAddress struct {
	Canonical     string
	Hash          string
	NonGeocodable bool // PO-Box style address, skip providers entirely
	Source        Address
}

// GeocodeResult is a resolved coordinate pair with provenance and quality.
// Tier and Confidence are jointly present or jointly absent, never partial.
type GeocodeResult struct {
	Lat         float64      `json:"lat"`
	Lon         float64      `json:"lon"`
	Tier        AccuracyTier `json:"tier,omitempty"`
	Confidence  float64      `json:"confidence"` // 0.0–1.0
	Provider    string       `json:"provider,omitempty"`
	LowAccuracy bool         `json:"low_accuracy,omitempty"` // below the acceptable tier set, surfaced for UI warning
	RawPayload  []byte       `json:"-"`
	ResolvedAt  time.Time    `json:"resolved_at"`
}

// Resolved reports whether the result carries an actual match.
func (r GeocodeResult) Resolved() bool {
	return r.Tier != ""
}

// ResolutionPolicy is the per-job immutable configuration snapshot.
// It is captured at submission time so mid-flight reconfiguration never
// changes the behavior of an in-progress job.
type ResolutionPolicy struct {
	ProviderOrder   []string
	RetryPasses     int
	Backoff         []time.Duration // sleep between full passes through the provider chain
	AcceptableTiers map[AccuracyTier]bool
	CacheTTL        time.Duration
	JobDeadline     time.Duration
}

// Acceptable reports whether the tier satisfies the policy's accuracy bar.
func (p ResolutionPolicy) Acceptable(tier AccuracyTier) bool {
	return p.AcceptableTiers[tier]
}

// BackoffFor returns the sleep before retry pass n (0-based), clamping to
// the last schedule entry when passes outnumber the schedule.
func (p ResolutionPolicy) BackoffFor(pass int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	if pass >= len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	return p.Backoff[pass]
}
