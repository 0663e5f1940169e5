package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestNewUsesTemplateInitialRate(t *testing.T) {
	l := New(Templates["T3"])
	if l.CurrentRate() != Templates["T3"].InitialRate {
		t.Fatalf("CurrentRate() = %v, want %v", l.CurrentRate(), Templates["T3"].InitialRate)
	}
}

func TestWaitForPermitRespectsContext(t *testing.T) {
	l := New(Template{InitialRate: 0.001, MinRate: 0.001, MaxRate: 1, Burst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.WaitForPermit(ctx); err == nil {
		t.Fatal("expected context deadline to cancel the wait on an exhausted bucket")
	}
}

func TestRecordLossTriggersDecrease(t *testing.T) {
	l := New(Template{InitialRate: 100, MinRate: 1, MaxRate: 1000, Burst: 1000})
	for i := 0; i < 100; i++ {
		_ = l.WaitForPermit(context.Background())
	}
	for i := 0; i < 50; i++ {
		l.RecordLoss()
	}
	l.windowStart = time.Now().Add(-2 * lossWindow)
	_ = l.WaitForPermit(context.Background())

	if l.CurrentRate() >= 100 {
		t.Fatalf("rate did not decrease after high loss: %v", l.CurrentRate())
	}
}

func TestAllTemplatesPresent(t *testing.T) {
	for _, name := range []string{"T0", "T1", "T2", "T3", "T4", "T5"} {
		if _, ok := Templates[name]; !ok {
			t.Fatalf("missing template %s", name)
		}
	}
}
