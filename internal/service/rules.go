// Package service implements banner grabbing and version detection: TCP
// connect (optionally over TLS), protocol-specific probes (DNS, SNMP),
// and regex-based matching against a rarity-ranked signature database,
// producing a scanning.ServiceMatch (§4.10).
package service

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/doublegate/prort-ip/internal/scanning"
)

// rule is a compiled scanning.ServiceSignature: the regex is parsed once
// at database-build time so matching never pays compilation cost per probe.
type rule struct {
	scanning.ServiceSignature
	re *regexp.Regexp
}

// Database is an immutable, port-indexed, rarity-ordered probe/signature
// set, matching §7's "databases are immutable after scan start and shared
// by reference".
type Database struct {
	byPort  map[uint16][]rule
	anyPort []rule
}

// NewDatabase compiles sigs into a Database. A signature whose pattern
// fails to compile is dropped and its error appended to the returned
// slice; construction itself never fails (matching §7's "errors never
// abort a scan" default).
func NewDatabase(sigs []scanning.ServiceSignature) (*Database, []error) {
	db := &Database{byPort: make(map[uint16][]rule)}
	var errs []error
	for _, s := range sigs {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("service: signature %q: %w", s.ServiceName, err))
			continue
		}
		r := rule{ServiceSignature: s, re: re}
		if s.Port == 0 {
			db.anyPort = append(db.anyPort, r)
		} else {
			db.byPort[s.Port] = append(db.byPort[s.Port], r)
		}
	}
	for port := range db.byPort {
		sortByRarity(db.byPort[port])
	}
	sortByRarity(db.anyPort)
	return db, errs
}

func sortByRarity(rules []rule) {
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Rarity < rules[j].Rarity })
}

// ProbesForPort returns the signatures to try against port at the given
// intensity: those registered for port first, then the any-port ones, each
// group ordered by rarity (lowest/most-common first) and limited to rarity
// <= intensity. Nil-probe (banner-wait) entries get no special placement.
func (db *Database) ProbesForPort(port uint16, intensity int) []scanning.ServiceSignature {
	var out []scanning.ServiceSignature
	seen := make(map[string]bool)

	add := func(rules []rule) {
		for _, r := range rules {
			if r.Rarity > intensity {
				continue
			}
			key := r.ServiceName + r.Pattern
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, r.ServiceSignature)
		}
	}
	add(db.byPort[port])
	add(db.anyPort)
	return out
}

// matchBanner applies every rule applicable to port against data, in
// rarity order, returning the first hard match or the best soft match if
// no hard match is found (§4.10 step 4: "on soft-match, continue looking
// for a hard match").
func (db *Database) matchBanner(port uint16, data []byte) (scanning.ServiceMatch, bool) {
	var soft scanning.ServiceMatch
	haveSoft := false

	check := func(rules []rule) (scanning.ServiceMatch, bool) {
		for _, r := range rules {
			loc := r.re.FindSubmatch(data)
			if loc == nil {
				continue
			}
			m := buildMatch(r, loc)
			if !r.SoftMatchOnly {
				return m, true
			}
			if !haveSoft {
				soft, haveSoft = m, true
			}
		}
		return scanning.ServiceMatch{}, false
	}

	if m, ok := check(db.byPort[port]); ok {
		return m, true
	}
	if m, ok := check(db.anyPort); ok {
		return m, true
	}
	return soft, haveSoft
}

func buildMatch(r rule, groups [][]byte) scanning.ServiceMatch {
	m := scanning.ServiceMatch{Name: r.ServiceName, Soft: r.SoftMatchOnly}
	m.Product = expand(r.ProductExpr, groups)
	m.Version = expand(r.VersionExpr, groups)
	m.Info = expand(r.InfoExpr, groups)
	m.CPE = expand(r.CPEExpr, groups)
	m.OSHint = expand(r.OSHintExpr, groups)
	return m
}

// expand substitutes $1, $2, ... in expr with the corresponding regex
// capture group, matching the service-probe database's backreference
// convention for product/version/info/cpe/os-hint fields.
func expand(expr string, groups [][]byte) string {
	if expr == "" {
		return ""
	}
	out := []byte(expr)
	result := regexp.MustCompile(`\$(\d)`).ReplaceAllFunc(out, func(m []byte) []byte {
		idx := int(m[1] - '0')
		if idx <= 0 || idx >= len(groups) {
			return nil
		}
		return groups[idx]
	})
	return string(result)
}
