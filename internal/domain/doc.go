// Package domain models address resolution for the geocoding service.
//
// # Addresses
//
// Raw addresses arrive from the CRM ingestion pipeline tagged with the
// opaque identifier of the owning record (an NPI-style entity key). The
// geocoding core never interprets that key; it is carried through to the
// persistence boundary so downstream consumers can join results back to
// their source rows.
//
// # Normalization
//
// Two syntactically different submissions of the same physical address
// ("123 N Main St Ste 200" and "123 North Main Street Suite 200") must
// collapse to one canonical string and therefore one cache key. This is
// the primary lever for cache-hit rate: the upstream system observed
// roughly a threefold improvement in hit rate when normalization quality
// went from naive trimming to the full rule set in [Normalize].
//
// Rules are applied in a fixed order: whitespace collapse, punctuation
// strip, abbreviation expansion (street types and compass directionals),
// title casing, postal-code truncation to the primary five digits. PO-Box
// style addresses have no rooftop to geocode and are tagged
// NonGeocodable so the pipeline can skip providers entirely.
//
// # Accuracy tiers
//
// Every provider reports match quality in its own vocabulary (Mapbox
// "accuracy", HERE "resultType", Nominatim class/type). [Classify] maps
// those onto a shared four-tier scale:
//
//	PRECISE       rooftop or parcel-level match
//	INTERPOLATED  position interpolated along a street segment
//	APPROXIMATE   neighborhood, postcode, or intersection centroid
//	REGION_CENTER city, county, or state centroid
//
// A result's tier and confidence score are always set together; a
// GeocodeResult with an empty tier is an unresolved zero value.
//
// # Hashing
//
// Cache keys are deterministic SHA-256 digests of the canonical string,
// truncated to 16 bytes of hex. Determinism makes cache entries shareable
// across unrelated submissions and makes re-submission of an unchanged
// address a guaranteed hit.
package domain
