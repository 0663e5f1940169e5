package fingerprint

import (
	"context"
	"net/netip"

	"github.com/doublegate/prort-ip/internal/scanning"
)

// Detector ties the probe sequence to a signature database: Detect runs
// the sixteen probes against one host and scores the result.
type Detector struct {
	db *Database
}

// NewDetector creates a Detector against db. db is never mutated once a
// scan starts and may be shared across concurrent Detect calls.
func NewDetector(db *Database) *Detector {
	return &Detector{db: db}
}

// Detect runs the probe sequence against target via p and scores the
// resulting signature against the detector's database.
func (d *Detector) Detect(ctx context.Context, p *Prober, target netip.Addr) ([]scanning.OSMatch, scanning.OsSignature, error) {
	sig, err := p.Run(ctx, target)
	if err != nil {
		return nil, sig, err
	}
	return d.db.Match(sig), sig, nil
}
