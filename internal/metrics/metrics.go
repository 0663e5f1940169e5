// Package metrics provides an in-memory metrics registry alongside the
// Prometheus collectors in prometheus.go. The in-memory registry backs
// lightweight call sites and tests that want to inspect recorded values
// directly rather than scrape a Prometheus handler.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType identifies the shape of a recorded Metric.
type MetricType string

const (
	TypeCounter   MetricType = "counter"
	TypeGauge     MetricType = "gauge"
	TypeHistogram MetricType = "histogram"
)

// Labels is a set of key/value pairs attached to a Metric.
type Labels map[string]string

// Metric is one named, labeled measurement held by a Registry.
type Metric struct {
	Name      string
	Type      MetricType
	Value     float64
	Labels    Labels
	Timestamp time.Time
}

// Registry is a thread-safe in-memory metric store, keyed by name plus
// sorted label pairs so that distinct label sets are distinct metrics.
type Registry struct {
	mu      sync.RWMutex
	enabled bool
	metrics map[string]*Metric
}

// NewRegistry creates an empty, enabled Registry.
func NewRegistry() *Registry {
	return &Registry{
		enabled: true,
		metrics: make(map[string]*Metric),
	}
}

// SetEnabled enables or disables metric recording.
func (r *Registry) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// IsEnabled reports whether metric recording is active.
func (r *Registry) IsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// makeKey builds the internal map key for a name and label set: the bare
// name with no labels, or "name:k=v:k=v" with labels sorted by key so the
// key is deterministic regardless of map iteration order.
func (r *Registry) makeKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(":%s=%s", k, labels[k]))
	}
	return b.String()
}

func copyLabels(labels Labels) Labels {
	if labels == nil {
		return nil
	}
	out := make(Labels, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// Counter increments a counter metric with the given name and labels.
func (r *Registry) Counter(name string, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return
	}

	key := r.makeKey(name, labels)
	m, ok := r.metrics[key]
	if !ok {
		m = &Metric{Name: name, Type: TypeCounter, Labels: copyLabels(labels)}
		r.metrics[key] = m
	}
	m.Value++
	m.Timestamp = time.Now()
}

// Gauge sets a gauge metric to the specified value.
func (r *Registry) Gauge(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return
	}

	key := r.makeKey(name, labels)
	m, ok := r.metrics[key]
	if !ok {
		m = &Metric{Name: name, Type: TypeGauge, Labels: copyLabels(labels)}
		r.metrics[key] = m
	}
	m.Value = value
	m.Timestamp = time.Now()
}

// Histogram records a value in a histogram metric. The in-memory registry
// keeps only the most recent observation; full bucket tracking lives in
// the Prometheus collectors.
func (r *Registry) Histogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return
	}

	key := r.makeKey(name, labels)
	m, ok := r.metrics[key]
	if !ok {
		m = &Metric{Name: name, Type: TypeHistogram, Labels: copyLabels(labels)}
		r.metrics[key] = m
	}
	m.Value = value
	m.Timestamp = time.Now()
}

// GetMetrics returns a snapshot copy of every recorded metric.
func (r *Registry) GetMetrics() map[string]*Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*Metric, len(r.metrics))
	for k, m := range r.metrics {
		cp := *m
		cp.Labels = copyLabels(m.Labels)
		out[k] = &cp
	}
	return out
}

// Reset clears every metric from the registry.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = make(map[string]*Metric)
}

// Default registry for package-level helpers.
var defaultRegistry = NewRegistry()

// SetDefault replaces the package-level default registry.
func SetDefault(registry *Registry) { defaultRegistry = registry }

// Default returns the package-level default registry.
func Default() *Registry { return defaultRegistry }

// SetEnabled enables or disables the default registry.
func SetEnabled(enabled bool) { defaultRegistry.SetEnabled(enabled) }

// Counter increments a counter on the default registry.
func Counter(name string, labels Labels) { defaultRegistry.Counter(name, labels) }

// Gauge sets a gauge on the default registry.
func Gauge(name string, value float64, labels Labels) { defaultRegistry.Gauge(name, value, labels) }

// Histogram records a histogram observation on the default registry.
func Histogram(name string, value float64, labels Labels) {
	defaultRegistry.Histogram(name, value, labels)
}

// GetMetrics returns a snapshot of the default registry.
func GetMetrics() map[string]*Metric { return defaultRegistry.GetMetrics() }

// Reset clears the default registry.
func Reset() { defaultRegistry.Reset() }

// Timer measures an operation's duration and records it as a histogram
// observation (in seconds) against the default registry when stopped.
type Timer struct {
	start  time.Time
	name   string
	labels Labels
}

// NewTimer starts a new Timer.
func NewTimer(name string, labels Labels) *Timer {
	return &Timer{start: time.Now(), name: name, labels: labels}
}

// Stop records the elapsed time since the timer started.
func (t *Timer) Stop() {
	Histogram(t.name, time.Since(t.start).Seconds(), t.labels)
}

// Metric name constants for the in-memory registry's call sites.
const (
	MetricProbeRTT          = "probe_rtt_seconds"
	MetricProbesSent        = "probes_sent_total"
	MetricRepliesReceived   = "replies_received_total"
	MetricPacketsDropped    = "packets_dropped_total"
	MetricCircuitTrips      = "circuit_trips_total"
	MetricCurrentRate       = "ratelimit_current_pps"
	MetricDiscoveryDuration = "discovery_duration_seconds"
	MetricHostsDiscovered   = "hosts_discovered_total"
	MetricDatabaseQueries   = "database_queries_total"
	MetricDatabaseDuration  = "database_query_duration_seconds"
	MetricDatabaseConnections = "database_connections_active"

	MetricMemoryUsage = "memory_usage_bytes"
	MetricGoroutines  = "goroutines_active"
	MetricUptime      = "uptime_seconds"
)

// Label key constants.
const (
	LabelScanKind  = "scan_kind"
	LabelProtocol  = "protocol"
	LabelHost      = "host"
	LabelNetwork   = "network"
	LabelMethod    = "method"
	LabelStatus    = "status"
	LabelOperation = "operation"
	LabelError     = "error"
	LabelComponent = "component"

	StatusSuccess = "success"
	StatusError   = "error"
)

// Domain helper functions recording against the default in-memory registry.

// RecordProbeRTT records a matched probe's round-trip time for a host.
func RecordProbeRTT(scanKind, host string, rtt time.Duration) {
	Histogram(MetricProbeRTT, rtt.Seconds(), Labels{LabelScanKind: scanKind, LabelHost: host})
}

// IncrementProbesSent increments the probes-sent counter.
func IncrementProbesSent(scanKind, protocol string) {
	Counter(MetricProbesSent, Labels{LabelScanKind: scanKind, LabelProtocol: protocol})
}

// IncrementRepliesReceived increments the matched-reply counter.
func IncrementRepliesReceived(scanKind, state string) {
	Counter(MetricRepliesReceived, Labels{LabelScanKind: scanKind, LabelStatus: state})
}

// IncrementPacketsDropped increments the capture-dropped counter by n.
func IncrementPacketsDropped(n int) {
	for i := 0; i < n; i++ {
		Counter(MetricPacketsDropped, nil)
	}
}

// IncrementCircuitTrips increments the circuit breaker trip counter for a host.
func IncrementCircuitTrips(host string) {
	Counter(MetricCircuitTrips, Labels{LabelHost: host})
}

// SetCurrentRate sets the current outbound packets-per-second gauge.
func SetCurrentRate(pps float64) {
	Gauge(MetricCurrentRate, pps, nil)
}

// RecordDiscoveryDuration records a discovery pass's duration.
func RecordDiscoveryDuration(network, method string, duration time.Duration) {
	Histogram(MetricDiscoveryDuration, duration.Seconds(), Labels{LabelNetwork: network, LabelMethod: method})
}

// IncrementHostsDiscovered increments the hosts-discovered counter by count.
func IncrementHostsDiscovered(network, method string, count int) {
	for i := 0; i < count; i++ {
		Counter(MetricHostsDiscovered, Labels{LabelNetwork: network, LabelMethod: method})
	}
}

// RecordDatabaseQuery records a database query's duration and outcome.
func RecordDatabaseQuery(operation string, duration time.Duration, success bool) {
	status := StatusSuccess
	if !success {
		status = StatusError
	}
	Counter(MetricDatabaseQueries, Labels{LabelOperation: operation, LabelStatus: status})
	Histogram(MetricDatabaseDuration, duration.Seconds(), Labels{LabelOperation: operation})
}

// SetActiveConnections sets the active-database-connections gauge.
func SetActiveConnections(count int) {
	Gauge(MetricDatabaseConnections, float64(count), nil)
}
