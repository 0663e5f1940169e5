package scheduler

import (
	"sync"
	"time"

	"github.com/doublegate/prort-ip/internal/logging"
	"github.com/doublegate/prort-ip/internal/metrics"
)

// defaultConsecutiveFailures is the default trip threshold (§4.6: "N
// consecutive timeouts, default 5").
const defaultConsecutiveFailures = 5

// defaultCooldown is how long a tripped host is short-circuited before
// probes are allowed through again.
const defaultCooldown = 30 * time.Second

// hostCircuit is the per-host circuit breaker: on N consecutive probe
// timeouts, remaining tasks to that host are marked Filtered without
// emission for a cooldown window instead of continuing to probe a host
// that is evidently not answering.
type hostCircuit struct {
	mu            sync.Mutex
	consecutive   map[string]int
	cooldownUntil map[string]time.Time
	threshold     int
	cooldown      time.Duration
}

func newHostCircuit(threshold int, cooldown time.Duration) *hostCircuit {
	if threshold <= 0 {
		threshold = defaultConsecutiveFailures
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &hostCircuit{
		consecutive:   make(map[string]int),
		cooldownUntil: make(map[string]time.Time),
		threshold:     threshold,
		cooldown:      cooldown,
	}
}

// RecordSuccess resets the consecutive-failure counter for a host.
func (c *hostCircuit) RecordSuccess(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.consecutive, host)
}

// RecordFailure increments the consecutive-failure counter for a host,
// tripping the breaker if the threshold is reached.
func (c *hostCircuit) RecordFailure(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutive[host]++
	if c.consecutive[host] >= c.threshold {
		c.cooldownUntil[host] = time.Now().Add(c.cooldown)
		c.consecutive[host] = 0
		logging.Warn("circuit breaker tripped", "host", host, "cooldown", c.cooldown)
		metrics.IncrementCircuitTrips(host)
	}
}

// Open reports whether host is currently short-circuited.
func (c *hostCircuit) Open(host string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	until, tripped := c.cooldownUntil[host]
	if !tripped {
		return false
	}
	if time.Now().After(until) {
		delete(c.cooldownUntil, host)
		return false
	}
	return true
}

// CooldownCount returns the number of hosts currently in cooldown.
func (c *hostCircuit) CooldownCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	n := 0
	for _, until := range c.cooldownUntil {
		if now.Before(until) {
			n++
		}
	}
	return n
}
