package fingerprint

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/doublegate/prort-ip/internal/scanning"
)

// Signature is one named entry in the database: a feature vector plus
// acceptable ranges, matched against an observed OsSignature to produce a
// 0-100 confidence score.
type Signature struct {
	Family   string  `yaml:"family"`
	Name     string  `yaml:"name"`
	GCDMax   uint32  `yaml:"gcd_max"`
	ISRMin   float64 `yaml:"isr_min"`
	ISRMax   float64 `yaml:"isr_max"`
	SPMax    float64 `yaml:"sp_max"`
	TI       string  `yaml:"ti"`
	SS       bool    `yaml:"ss"`
	Window   uint16  `yaml:"window"`
	DF       bool    `yaml:"df"`
}

// Database is an immutable, loaded-once signature set shared by reference
// across every fingerprint match in a scan (§7: "databases are immutable
// after scan start and shared by reference").
type Database struct {
	signatures []Signature
}

// LoadDatabase reads a YAML signature file into a Database.
func LoadDatabase(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sigs []Signature
	if err := yaml.Unmarshal(data, &sigs); err != nil {
		return nil, err
	}
	return &Database{signatures: sigs}, nil
}

// NewDatabase wraps an in-memory signature list, for embedding a default
// set or building one in tests without touching the filesystem.
func NewDatabase(sigs []Signature) *Database {
	return &Database{signatures: append([]Signature(nil), sigs...)}
}

// Match scores observed against every signature in the database and
// returns ranked matches with 0-100 confidence, highest first.
func (db *Database) Match(observed scanning.OsSignature) []scanning.OSMatch {
	matches := make([]scanning.OSMatch, 0, len(db.signatures))
	for _, s := range db.signatures {
		conf := score(observed, s)
		if conf == 0 {
			continue
		}
		matches = append(matches, scanning.OSMatch{
			Family:     s.Family,
			Name:       s.Name,
			Confidence: conf,
			Details: map[string]string{
				"ti": observed.TI.String(),
			},
		})
	}
	sortMatchesDescending(matches)
	return matches
}

// score weighs five independent feature checks evenly (20 points each):
// GCD ceiling, ISR range, SP ceiling, IP-ID class, and timestamp support.
// Any TI mismatch against a signature that names a TI class zeroes the
// whole match, mirroring Nmap's per-test disqualifiers.
func score(observed scanning.OsSignature, s Signature) int {
	points := 0

	if s.GCDMax == 0 || observed.GCD <= s.GCDMax {
		points += 20
	}
	if observed.ISR >= s.ISRMin && observed.ISR <= s.ISRMax {
		points += 20
	}
	if s.SPMax == 0 || observed.SP <= s.SPMax {
		points += 20
	}
	if s.TI == observed.TI.String() {
		points += 20
	} else if s.TI != "" {
		return 0
	}
	if s.SS == observed.SupportsTS {
		points += 20
	}

	return points
}

func sortMatchesDescending(m []scanning.OSMatch) {
	for i := 1; i < len(m); i++ {
		for j := i; j > 0 && m[j].Confidence > m[j-1].Confidence; j-- {
			m[j], m[j-1] = m[j-1], m[j]
		}
	}
}
