package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// StreetAbbreviations expands USPS-style street-type and unit abbreviations
// to full words. Keys are matched against uppercased tokens of the street
// lines only; city and state fields are never expanded (expanding "St Louis"
// to "Street Louis" is the classic failure mode). The table is a package
// variable rather than a constant so deployments can tune it.
var StreetAbbreviations = map[string]string{
	"ST":   "STREET",
	"AVE":  "AVENUE",
	"BLVD": "BOULEVARD",
	"DR":   "DRIVE",
	"RD":   "ROAD",
	"LN":   "LANE",
	"CT":   "COURT",
	"PL":   "PLACE",
	"TER":  "TERRACE",
	"HWY":  "HIGHWAY",
	"PKWY": "PARKWAY",
	"CIR":  "CIRCLE",
	"EXPY": "EXPRESSWAY",
	"STE":  "SUITE",
	"APT":  "APARTMENT",
	"BLDG": "BUILDING",
	"FL":   "FLOOR",
	"RM":   "ROOM",
}

// DirectionalAbbreviations expands compass directionals in street lines.
var DirectionalAbbreviations = map[string]string{
	"N":  "NORTH",
	"S":  "SOUTH",
	"E":  "EAST",
	"W":  "WEST",
	"NE": "NORTHEAST",
	"NW": "NORTHWEST",
	"SE": "SOUTHEAST",
	"SW": "SOUTHWEST",
}

var (
	// poBoxRe matches PO-Box-style street lines after punctuation stripping
	// and uppercasing: "PO BOX 42", "P O BOX 42", "POST OFFICE BOX 42".
	poBoxRe = regexp.MustCompile(`^(P\s*O|POST\s+OFFICE)\s+BOX\b`)

	// punctRe removes non-address punctuation. Hyphens survive because they
	// are significant in unit designators and ZIP+4 input.
	punctRe = regexp.MustCompile(`[.,#'";:()!?]`)

	spaceRe = regexp.MustCompile(`\s+`)

	digitsRe = regexp.MustCompile(`\d`)
)

// Normalize canonicalizes a raw address into its deterministic form.
// Pure and total: malformed input is normalized best-effort, never
// rejected — unresolvable garbage is a provider NoMatch, not our concern.
// Idempotent: normalizing an already-normalized address is a no-op.
func Normalize(a Address) NormalizedAddress {
	street := normalizeStreetLine(a.Street1)
	if s2 := normalizeStreetLine(a.Street2); s2 != "" {
		if street == "" {
			street = s2
		} else {
			street += " " + s2
		}
	}

	city := titleCase(cleanField(a.City))
	state := strings.ToUpper(cleanField(a.State))
	zip := normalizePostalCode(a.PostalCode)

	var parts []string
	for _, p := range []string{street, city, state, zip} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	canonical := strings.Join(parts, ", ")

	sum := sha256.Sum256([]byte(canonical))

	return NormalizedAddress{
		Canonical:     canonical,
		Hash:          hex.EncodeToString(sum[:16]),
		NonGeocodable: isPOBox(a.Street1) || isPOBox(a.Street2),
		Source:        a,
	}
}

// normalizeStreetLine applies the full rule chain to one street line:
// punctuation strip, whitespace collapse, abbreviation expansion, title case.
func normalizeStreetLine(line string) string {
	cleaned := strings.ToUpper(cleanField(line))
	if cleaned == "" {
		return ""
	}

	tokens := strings.Split(cleaned, " ")
	for i, tok := range tokens {
		if full, ok := DirectionalAbbreviations[tok]; ok {
			tokens[i] = full
			continue
		}
		if full, ok := StreetAbbreviations[tok]; ok {
			tokens[i] = full
		}
	}
	return titleCase(strings.Join(tokens, " "))
}

// cleanField strips punctuation and collapses whitespace runs.
func cleanField(s string) string {
	s = punctRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// titleCase uppercases the first rune of each token and lowercases the
// rest, except all-letter tokens of length <= 2 (state and directional
// codes like "TX" stay uppercase for determinism on re-input).
func titleCase(s string) string {
	if s == "" {
		return ""
	}
	tokens := strings.Split(s, " ")
	for i, tok := range tokens {
		if len(tok) <= 2 && !digitsRe.MatchString(tok) {
			tokens[i] = strings.ToUpper(tok)
			continue
		}
		tokens[i] = strings.ToUpper(tok[:1]) + strings.ToLower(tok[1:])
	}
	return strings.Join(tokens, " ")
}

// normalizePostalCode keeps the primary five digits of a US-style ZIP.
// Non-digit characters are dropped first, so "78701-1234" and "78701 1234"
// both truncate to "78701".
func normalizePostalCode(zip string) string {
	var b strings.Builder
	for _, r := range zip {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > 5 {
		return digits[:5]
	}
	return digits
}

func isPOBox(line string) bool {
	return poBoxRe.MatchString(strings.ToUpper(cleanField(line)))
}
