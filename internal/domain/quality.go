package domain

import "strings"

// tierMapping pairs a normalized tier with its confidence score.
type tierMapping struct {
	Tier  AccuracyTier
	Score float64
}

// providerVocabularies maps each provider's native accuracy vocabulary onto
// the shared four-tier scale. Signals are matched lowercase. Providers not
// listed here, and signals a provider never documented, fall back to
// REGION_CENTER at low confidence so an unknown vocabulary can only
// under-promise, never over-promise.
var providerVocabularies = map[string]map[string]tierMapping{
	"mapbox": {
		"rooftop":      {TierPrecise, 0.97},
		"parcel":       {TierPrecise, 0.95},
		"point":        {TierPrecise, 0.92},
		"address":      {TierInterpolated, 0.75},
		"interpolated": {TierInterpolated, 0.80},
		"street":       {TierInterpolated, 0.72},
		"intersection": {TierApproximate, 0.60},
		"neighborhood": {TierApproximate, 0.50},
		"postcode":     {TierApproximate, 0.45},
		"place":        {TierRegionCenter, 0.30},
		"locality":     {TierRegionCenter, 0.28},
		"region":       {TierRegionCenter, 0.20},
	},
	"here": {
		"pointaddress": {TierPrecise, 0.96},
		"housenumber":  {TierPrecise, 0.94},
		"interpolated": {TierInterpolated, 0.78},
		"street":       {TierInterpolated, 0.70},
		"intersection": {TierApproximate, 0.58},
		"postalcode":   {TierApproximate, 0.45},
		"district":     {TierApproximate, 0.40},
		"locality":     {TierRegionCenter, 0.30},
		"city":         {TierRegionCenter, 0.28},
		"county":       {TierRegionCenter, 0.22},
		"state":        {TierRegionCenter, 0.15},
	},
	"nominatim": {
		"building":      {TierPrecise, 0.90},
		"house":         {TierPrecise, 0.88},
		"entrance":      {TierPrecise, 0.88},
		"road":          {TierInterpolated, 0.70},
		"residential":   {TierInterpolated, 0.65},
		"neighbourhood": {TierApproximate, 0.50},
		"suburb":        {TierApproximate, 0.45},
		"postcode":      {TierApproximate, 0.42},
		"village":       {TierRegionCenter, 0.30},
		"town":          {TierRegionCenter, 0.28},
		"city":          {TierRegionCenter, 0.25},
		"county":        {TierRegionCenter, 0.18},
		"state":         {TierRegionCenter, 0.12},
	},
}

// Classify maps a provider-native accuracy signal to the internal tier and
// confidence score. Pure and deterministic: the same (provider, signal)
// pair always produces the same classification.
func Classify(provider, signal string) (AccuracyTier, float64) {
	vocab, ok := providerVocabularies[provider]
	if !ok {
		return TierRegionCenter, 0.10
	}
	m, ok := vocab[strings.ToLower(signal)]
	if !ok {
		return TierRegionCenter, 0.10
	}
	return m.Tier, m.Score
}
