// Command addrcheck runs pre-flight checks over an address batch file
// before it is submitted for geocoding. It verifies entity ids, reports
// addresses that normalization will collapse together, and flags PO-Box
// style entries that can never resolve to rooftop coordinates.
//
// Usage:
//
//	go run ./cmd/addrcheck -input batch.json
//
// The input file holds a JSON array of address records in the same shape
// the POST /jobs endpoint accepts.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/medintel/geocoding-service/internal/domain"
)

// phase tracks pass/fail for one check phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	input := flag.String("input", "", "path to JSON file with the address batch")
	flag.Parse()

	if *input == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*input); code != 0 {
		os.Exit(code)
	}
}

func run(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read batch file: %v\n", err)
		return 1
	}

	var addresses []domain.Address
	if err := json.Unmarshal(data, &addresses); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: parse batch file: %v\n", err)
		return 1
	}

	fmt.Println("=== Address Batch Pre-Flight ===")
	fmt.Println()

	phases := []*phase{
		checkEntityIDs(addresses),
		checkNormalization(addresses),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		if p.passed() {
			fmt.Printf("PASS  %s\n", p.name)
			continue
		}
		allPassed = false
		fmt.Printf("FAIL  %s\n", p.name)
		for _, e := range p.errors {
			fmt.Printf("      - %s\n", e)
		}
	}

	if !allPassed {
		return 1
	}
	return 0
}

// checkEntityIDs verifies every record carries a unique entity id.
func checkEntityIDs(addresses []domain.Address) *phase {
	p := &phase{name: "entity ids"}

	seen := make(map[string]int)
	for i, a := range addresses {
		if a.EntityID == "" {
			p.errorf("record %d has no entity_id", i)
			continue
		}
		if prev, ok := seen[a.EntityID]; ok {
			p.errorf("entity_id %q appears at records %d and %d", a.EntityID, prev, i)
		}
		seen[a.EntityID] = i
	}
	fmt.Printf("records: %d, distinct entity ids: %d\n", len(addresses), len(seen))
	return p
}

// checkNormalization reports what deduplication will do to the batch and
// flags non-geocodable entries.
func checkNormalization(addresses []domain.Address) *phase {
	p := &phase{name: "normalization"}

	groups := make(map[string][]string)
	var order []string
	poBoxes := 0
	for i, a := range addresses {
		na := domain.Normalize(a)
		if a.Street1 == "" && a.Street2 == "" {
			p.errorf("record %d (%s) has no street line", i, a.EntityID)
		}
		if na.NonGeocodable {
			poBoxes++
			fmt.Printf("po-box: %s  %q\n", a.EntityID, na.Canonical)
		}
		if _, ok := groups[na.Hash]; !ok {
			order = append(order, na.Hash)
		}
		groups[na.Hash] = append(groups[na.Hash], a.EntityID)
	}

	dupGroups := 0
	for _, hash := range order {
		ids := groups[hash]
		if len(ids) < 2 {
			continue
		}
		dupGroups++
		fmt.Printf("collapse: %v -> %s\n", ids, hash)
	}

	fmt.Printf("unique addresses: %d, duplicate groups: %d, po-boxes: %d\n",
		len(order), dupGroups, poBoxes)
	if saved := len(addresses) - len(order); saved > 0 {
		fmt.Printf("deduplication saves up to %d provider calls\n", saved)
	}
	return p
}
