package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusMetrics_InitializationAndUpdate(t *testing.T) {
	pm := NewPrometheusMetrics()
	if pm == nil {
		t.Fatalf("NewPrometheusMetrics returned nil")
	}

	reg := pm.GetRegistry()
	if reg == nil {
		t.Fatalf("GetRegistry returned nil")
	}

	pm.UpdateSystemMetrics()
	before := pm.GetUptime()
	time.Sleep(10 * time.Millisecond)
	after := pm.GetUptime()
	if before >= after {
		t.Fatalf("expected uptime to increase, before=%v after=%v", before, after)
	}
}

func TestPrometheusMetrics_HTTPHandlerServes(t *testing.T) {
	pm := NewPrometheusMetrics()
	pm.UpdateSystemMetrics()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	handler := promhttp.HandlerFor(pm.GetRegistry(), promhttp.HandlerOpts{})
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	body := rr.Body.String()
	if body == "" {
		t.Fatalf("expected non-empty metrics body")
	}
	if !strings.Contains(body, "prortip_system_uptime_seconds") {
		end := 200
		if len(body) < end {
			end = len(body)
		}
		t.Fatalf("expected uptime metric in output, got: %s", body[:end])
	}
}

func TestPrometheusMetrics_ProbeMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.IncrementProbesSent("syn", "tcp")
	pm.IncrementProbesSent("syn", "tcp")
	pm.IncrementProbesSent("udp", "udp")

	if count := testutil.CollectAndCount(pm.probesSent); count != 2 {
		t.Errorf("expected 2 label combinations, got %d", count)
	}

	pm.IncrementRepliesReceived("syn", "open")
	pm.IncrementRepliesReceived("syn", "closed")

	if count := testutil.CollectAndCount(pm.repliesReceived); count != 2 {
		t.Errorf("expected 2 state combinations, got %d", count)
	}

	pm.RecordProbeRTT("10.0.0.1", 5*time.Millisecond)
	pm.RecordProbeRTT("10.0.0.2", 10*time.Millisecond)

	if count := testutil.CollectAndCount(pm.probeRTT); count != 2 {
		t.Errorf("expected 2 hosts, got %d", count)
	}

	pm.SetActiveScans(3)
	if count := testutil.CollectAndCount(pm.activeScans); count != 1 {
		t.Errorf("expected 1 gauge metric, got %d", count)
	}
}

func TestPrometheusMetrics_CaptureMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.IncrementPacketsDropped(5)
	pm.IncrementPacketsDropped(2)
	if v := testutil.ToFloat64(pm.packetsDropped); v != 7 {
		t.Errorf("expected 7 packets dropped, got %v", v)
	}

	pm.IncrementCaptureErrors("eth0", "CAPTURE_FILTER")
	if count := testutil.CollectAndCount(pm.captureErrors); count != 1 {
		t.Errorf("expected 1 capture error combination, got %d", count)
	}
}

func TestPrometheusMetrics_SchedulerMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.IncrementCircuitTrips("10.0.0.1")
	pm.IncrementCircuitTrips("10.0.0.1")
	pm.IncrementCircuitTrips("10.0.0.2")

	if count := testutil.CollectAndCount(pm.circuitTrips); count != 2 {
		t.Errorf("expected 2 hosts, got %d", count)
	}

	pm.SetHostsInCooldown(1)
	if v := testutil.ToFloat64(pm.hostsInCooldown); v != 1 {
		t.Errorf("expected 1 host in cooldown, got %v", v)
	}

	pm.IncrementRetries("syn")
	if count := testutil.CollectAndCount(pm.retries); count != 1 {
		t.Errorf("expected 1 scan kind, got %d", count)
	}
}

func TestPrometheusMetrics_RateLimitMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.SetCurrentRate(1500)
	if v := testutil.ToFloat64(pm.currentRate); v != 1500 {
		t.Errorf("expected current rate 1500, got %v", v)
	}
}

func TestPrometheusMetrics_SystemMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.UpdateSystemMetrics()

	if count := testutil.CollectAndCount(pm.memoryUsage); count != 1 {
		t.Errorf("expected 1 memory metric, got %d", count)
	}
	if count := testutil.CollectAndCount(pm.goroutines); count != 1 {
		t.Errorf("expected 1 goroutines metric, got %d", count)
	}
	if count := testutil.CollectAndCount(pm.uptime); count != 1 {
		t.Errorf("expected 1 uptime metric, got %d", count)
	}

	before := pm.GetLastUpdate()
	time.Sleep(10 * time.Millisecond)
	pm.UpdateSystemMetrics()
	after := pm.GetLastUpdate()

	if !after.After(before) {
		t.Errorf("expected last update to change after UpdateSystemMetrics")
	}
}

func TestPrometheusMetrics_StartPeriodicUpdates(t *testing.T) {
	pm := NewPrometheusMetrics()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		pm.StartPeriodicUpdates(ctx, 20*time.Millisecond)
		close(done)
	}()

	<-ctx.Done()
	<-done

	if count := testutil.CollectAndCount(pm.uptime); count != 1 {
		t.Errorf("expected metrics to be updated, got %d uptime metrics", count)
	}
}

func TestPrometheusMetrics_GlobalInstance(t *testing.T) {
	gm1 := GetGlobalMetrics()
	if gm1 == nil {
		t.Fatal("GetGlobalMetrics returned nil")
	}

	gm2 := GetGlobalMetrics()
	if gm1 != gm2 {
		t.Error("GetGlobalMetrics should return same instance")
	}
}

func TestPrometheusMetrics_GlobalConvenienceFunctions(t *testing.T) {
	gm := GetGlobalMetrics()

	RecordProbeRTTGlobal("10.0.0.1", 5*time.Millisecond)
	if count := testutil.CollectAndCount(gm.probeRTT); count == 0 {
		t.Error("RecordProbeRTTGlobal did not record metric")
	}

	IncrementProbesSentGlobal("syn", "tcp")
	if count := testutil.CollectAndCount(gm.probesSent); count == 0 {
		t.Error("IncrementProbesSentGlobal did not record metric")
	}

	IncrementRepliesReceivedGlobal("syn", "open")
	if count := testutil.CollectAndCount(gm.repliesReceived); count == 0 {
		t.Error("IncrementRepliesReceivedGlobal did not record metric")
	}

	IncrementCircuitTripsGlobal("10.0.0.1")
	if count := testutil.CollectAndCount(gm.circuitTrips); count == 0 {
		t.Error("IncrementCircuitTripsGlobal did not record metric")
	}

	SetCurrentRateGlobal(2000)
	if v := testutil.ToFloat64(gm.currentRate); v != 2000 {
		t.Errorf("expected current rate 2000, got %v", v)
	}
}
