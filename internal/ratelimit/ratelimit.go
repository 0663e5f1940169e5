// Package ratelimit paces outbound probe emission to a configured
// packets-per-second target, adapting to observed loss: the rate is halved
// after a lossy window and raised by a fixed fraction of its current value
// after a clean one. The token bucket primitive is golang.org/x/time/rate;
// the control loop wraps it, swapping its rate as loss samples come in.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/doublegate/prort-ip/internal/metrics"
)

// Template is a T0-T5 timing preset: initial/min/max rate, burst, per-probe
// delay and jitter, RTT timeout bounds, and max retries. Templates choose
// parameter values only; they introduce no new semantics.
type Template struct {
	Name          string
	InitialRate   float64
	MinRate       float64
	MaxRate       float64
	Burst         int
	ProbeDelay    time.Duration
	ProbeJitter   time.Duration
	MinRTTTimeout time.Duration
	MaxRTTTimeout time.Duration
	MaxRetries    int
}

// Templates holds the standard T0 (paranoid) through T5 (insane) presets.
var Templates = map[string]Template{
	"T0": {Name: "T0", InitialRate: 1, MinRate: 0.1, MaxRate: 1, Burst: 1, ProbeDelay: 5 * time.Minute, MinRTTTimeout: 100 * time.Millisecond, MaxRTTTimeout: 10 * time.Second, MaxRetries: 5},
	"T1": {Name: "T1", InitialRate: 5, MinRate: 1, MaxRate: 20, Burst: 2, ProbeDelay: 15 * time.Second, MinRTTTimeout: 100 * time.Millisecond, MaxRTTTimeout: 10 * time.Second, MaxRetries: 5},
	"T2": {Name: "T2", InitialRate: 50, MinRate: 5, MaxRate: 200, Burst: 5, ProbeDelay: 400 * time.Millisecond, MinRTTTimeout: 100 * time.Millisecond, MaxRTTTimeout: 8 * time.Second, MaxRetries: 4},
	"T3": {Name: "T3", InitialRate: 500, MinRate: 50, MaxRate: 2000, Burst: 50, ProbeDelay: 0, MinRTTTimeout: 100 * time.Millisecond, MaxRTTTimeout: 6 * time.Second, MaxRetries: 3},
	"T4": {Name: "T4", InitialRate: 5000, MinRate: 500, MaxRate: 50000, Burst: 500, ProbeDelay: 0, MinRTTTimeout: 100 * time.Millisecond, MaxRTTTimeout: 1250 * time.Millisecond, MaxRetries: 2},
	"T5": {Name: "T5", InitialRate: 50000, MinRate: 5000, MaxRate: 1_000_000, Burst: 5000, ProbeDelay: 0, MinRTTTimeout: 50 * time.Millisecond, MaxRTTTimeout: 300 * time.Millisecond, MaxRetries: 1},
}

// lossWindow is the fixed sampling window for the AIMD loss calculation.
const lossWindow = 1 * time.Second

// aimdIncreaseDelta is the increase applied to R on a clean window. The
// increase is proportional to R, not a fixed step.
const aimdIncreaseDelta = 0.1 // fraction of current rate added per clean window

// highWaterLoss is the loss fraction above which the limiter halves R.
const highWaterLoss = 0.05

// Limiter shapes outbound packet rate to a target R with adaptive backoff.
// WaitForPermit is the hot path; rate changes take effect for subsequent
// permits without blocking in-flight ones.
type Limiter struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	minRate  float64
	maxRate  float64

	sent    atomic.Int64
	lost    atomic.Int64
	windowStart time.Time
}

// New creates a Limiter from a Template.
func New(tmpl Template) *Limiter {
	burst := tmpl.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiter:     rate.NewLimiter(rate.Limit(tmpl.InitialRate), burst),
		minRate:     tmpl.MinRate,
		maxRate:     tmpl.MaxRate,
		windowStart: time.Now(),
	}
}

// WaitForPermit blocks until a token is available or ctx is canceled.
func (l *Limiter) WaitForPermit(ctx context.Context) error {
	l.sent.Add(1)
	l.maybeAdapt()
	return l.limiter.Wait(ctx)
}

// RecordLoss marks one outstanding probe as lost (timed out with no
// reply), feeding the AIMD loss sample.
func (l *Limiter) RecordLoss() {
	l.lost.Add(1)
}

// CurrentRate returns the limiter's current target rate in packets/sec.
func (l *Limiter) CurrentRate() float64 {
	return float64(l.limiter.Limit())
}

// maybeAdapt samples the loss window and, if it has elapsed, applies the
// multiplicative-decrease or proportional-increase adjustment.
func (l *Limiter) maybeAdapt() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.windowStart) < lossWindow {
		return
	}

	sent := l.sent.Swap(0)
	lost := l.lost.Swap(0)
	l.windowStart = time.Now()

	current := float64(l.limiter.Limit())
	var next float64
	if sent > 0 && float64(lost)/float64(sent) > highWaterLoss {
		next = current * 0.5
	} else {
		next = current * (1 + aimdIncreaseDelta)
	}

	if next < l.minRate {
		next = l.minRate
	}
	if l.maxRate > 0 && next > l.maxRate {
		next = l.maxRate
	}

	l.limiter.SetLimit(rate.Limit(next))
	metrics.SetCurrentRate(next)
}
