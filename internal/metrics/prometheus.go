// Package metrics provides Prometheus-based instrumentation for the
// scanning core: probes sent, replies received, packets dropped, per-host
// RTT, circuit breaker trips, and the rate limiter's current rate.
package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	namespace = "prortip"

	subsystemProbe     = "probe"
	subsystemCapture   = "capture"
	subsystemScheduler = "scheduler"
	subsystemRateLimit = "ratelimit"
	subsystemSystem    = "system"
)

// PrometheusMetrics holds every Prometheus collector the scanning core
// exercises during a run.
type PrometheusMetrics struct {
	// Probe metrics
	probesSent      *prometheus.CounterVec
	repliesReceived *prometheus.CounterVec
	probeRTT        *prometheus.HistogramVec
	activeScans     prometheus.Gauge

	// Capture metrics
	packetsDropped prometheus.Counter
	captureErrors  *prometheus.CounterVec

	// Scheduler metrics
	circuitTrips   *prometheus.CounterVec
	hostsInCooldown prometheus.Gauge
	retries        *prometheus.CounterVec

	// Rate limiter metrics
	currentRate prometheus.Gauge

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	uptime      prometheus.Gauge

	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all
// collectors registered against a private registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initProbeMetrics()
	pm.initCaptureMetrics()
	pm.initSchedulerMetrics()
	pm.initRateLimitMetrics()
	pm.initSystemMetrics()
	pm.registerMetrics()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

func (pm *PrometheusMetrics) initProbeMetrics() {
	pm.probesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "sent_total",
			Help:      "Total number of probes sent by scan kind and protocol",
		},
		[]string{"scan_kind", "protocol"},
	)

	pm.repliesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "replies_total",
			Help:      "Total number of matched replies by scan kind and terminal state",
		},
		[]string{"scan_kind", "state"},
	)

	pm.probeRTT = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "rtt_seconds",
			Help:      "Round-trip time of matched probe replies, per host",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"host"},
	)

	pm.activeScans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "active_scans",
			Help:      "Number of currently running scans",
		},
	)
}

func (pm *PrometheusMetrics) initCaptureMetrics() {
	pm.packetsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemCapture,
			Name:      "packets_dropped_total",
			Help:      "Total number of packets dropped by the capture ring buffer",
		},
	)

	pm.captureErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemCapture,
			Name:      "errors_total",
			Help:      "Total number of capture I/O errors by interface and code",
		},
		[]string{"interface", "code"},
	)
}

func (pm *PrometheusMetrics) initSchedulerMetrics() {
	pm.circuitTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScheduler,
			Name:      "circuit_trips_total",
			Help:      "Total number of times a host's circuit breaker tripped",
		},
		[]string{"host"},
	)

	pm.hostsInCooldown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScheduler,
			Name:      "hosts_in_cooldown",
			Help:      "Number of hosts currently in circuit-breaker cooldown",
		},
	)

	pm.retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScheduler,
			Name:      "retries_total",
			Help:      "Total number of probe retries by scan kind",
		},
		[]string{"scan_kind"},
	)
}

func (pm *PrometheusMetrics) initRateLimitMetrics() {
	pm.currentRate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemRateLimit,
			Name:      "current_pps",
			Help:      "Current outbound rate in packets per second after AIMD adjustment",
		},
	)
}

func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "memory_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(pm.probesSent)
	pm.registry.MustRegister(pm.repliesReceived)
	pm.registry.MustRegister(pm.probeRTT)
	pm.registry.MustRegister(pm.activeScans)

	pm.registry.MustRegister(pm.packetsDropped)
	pm.registry.MustRegister(pm.captureErrors)

	pm.registry.MustRegister(pm.circuitTrips)
	pm.registry.MustRegister(pm.hostsInCooldown)
	pm.registry.MustRegister(pm.retries)

	pm.registry.MustRegister(pm.currentRate)

	pm.registry.MustRegister(pm.memoryUsage)
	pm.registry.MustRegister(pm.goroutines)
	pm.registry.MustRegister(pm.uptime)
}

// GetRegistry returns the Prometheus registry for an HTTP handler.
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Probe metrics methods

// IncrementProbesSent increments the probe-sent counter.
func (pm *PrometheusMetrics) IncrementProbesSent(scanKind, protocol string) {
	pm.probesSent.WithLabelValues(scanKind, protocol).Inc()
}

// IncrementRepliesReceived increments the matched-reply counter.
func (pm *PrometheusMetrics) IncrementRepliesReceived(scanKind, state string) {
	pm.repliesReceived.WithLabelValues(scanKind, state).Inc()
}

// RecordProbeRTT records one matched probe's round-trip time for a host.
func (pm *PrometheusMetrics) RecordProbeRTT(host string, rtt time.Duration) {
	pm.probeRTT.WithLabelValues(host).Observe(rtt.Seconds())
}

// SetActiveScans sets the number of currently running scans.
func (pm *PrometheusMetrics) SetActiveScans(count int) {
	pm.activeScans.Set(float64(count))
}

// Capture metrics methods

// IncrementPacketsDropped increments the capture-dropped counter by n.
func (pm *PrometheusMetrics) IncrementPacketsDropped(n int) {
	pm.packetsDropped.Add(float64(n))
}

// IncrementCaptureErrors increments the capture error counter.
func (pm *PrometheusMetrics) IncrementCaptureErrors(iface, code string) {
	pm.captureErrors.WithLabelValues(iface, code).Inc()
}

// Scheduler metrics methods

// IncrementCircuitTrips increments the circuit breaker trip counter for a host.
func (pm *PrometheusMetrics) IncrementCircuitTrips(host string) {
	pm.circuitTrips.WithLabelValues(host).Inc()
}

// SetHostsInCooldown sets the gauge of hosts currently in cooldown.
func (pm *PrometheusMetrics) SetHostsInCooldown(count int) {
	pm.hostsInCooldown.Set(float64(count))
}

// IncrementRetries increments the per-scan-kind retry counter.
func (pm *PrometheusMetrics) IncrementRetries(scanKind string) {
	pm.retries.WithLabelValues(scanKind).Inc()
}

// Rate limiter metrics methods

// SetCurrentRate sets the current outbound packets-per-second gauge.
func (pm *PrometheusMetrics) SetCurrentRate(pps float64) {
	pm.currentRate.Set(pps)
}

// System metrics methods

// UpdateSystemMetrics refreshes memory, goroutine, and uptime gauges.
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	pm.memoryUsage.Set(float64(memStats.Alloc))
	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
	pm.lastUpdate = time.Now()
}

// GetUptime returns the application uptime.
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// GetLastUpdate returns the last metrics update time.
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates runs UpdateSystemMetrics on a ticker until ctx is done.
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}

// Global instance for call sites that don't thread a *PrometheusMetrics
// through their constructors.
var (
	globalMetrics *PrometheusMetrics
	metricsOnce   sync.Once
)

// GetGlobalMetrics returns the global Prometheus metrics instance.
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}

// Convenience functions using the global instance.

// RecordProbeRTTGlobal records a probe RTT using the global metrics instance.
func RecordProbeRTTGlobal(host string, rtt time.Duration) {
	GetGlobalMetrics().RecordProbeRTT(host, rtt)
}

// IncrementProbesSentGlobal increments the global probes-sent counter.
func IncrementProbesSentGlobal(scanKind, protocol string) {
	GetGlobalMetrics().IncrementProbesSent(scanKind, protocol)
}

// IncrementRepliesReceivedGlobal increments the global replies-received counter.
func IncrementRepliesReceivedGlobal(scanKind, state string) {
	GetGlobalMetrics().IncrementRepliesReceived(scanKind, state)
}

// IncrementCircuitTripsGlobal increments the global circuit trip counter.
func IncrementCircuitTripsGlobal(host string) {
	GetGlobalMetrics().IncrementCircuitTrips(host)
}

// SetCurrentRateGlobal sets the global current-rate gauge.
func SetCurrentRateGlobal(pps float64) {
	GetGlobalMetrics().SetCurrentRate(pps)
}
