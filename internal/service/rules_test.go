package service

import (
	"testing"

	"github.com/doublegate/prort-ip/internal/scanning"
)

func TestProbesForPortOrdersByRarityAndGatesIntensity(t *testing.T) {
	db, errs := NewDatabase([]scanning.ServiceSignature{
		{Port: 80, Rarity: 5, ServiceName: "rare", Pattern: `X`},
		{Port: 80, Rarity: 1, ServiceName: "common", Pattern: `Y`},
	})
	if len(errs) != 0 {
		t.Fatalf("unexpected compile errors: %v", errs)
	}

	probes := db.ProbesForPort(80, 3)
	if len(probes) != 1 || probes[0].ServiceName != "common" {
		t.Fatalf("got %+v, want only the rarity<=3 probe", probes)
	}

	probes = db.ProbesForPort(80, 9)
	if len(probes) != 2 || probes[0].ServiceName != "common" || probes[1].ServiceName != "rare" {
		t.Fatalf("got %+v, want both probes ordered by rarity", probes)
	}
}

func TestMatchBannerExtractsCaptureGroups(t *testing.T) {
	db, _ := NewDatabase([]scanning.ServiceSignature{
		{Port: 22, ServiceName: "ssh", Pattern: `SSH-([\d.]+)-(\S+)`, ProductExpr: "$2", VersionExpr: "$1"},
	})
	m, ok := db.matchBanner(22, []byte("SSH-2.0-OpenSSH_9.6\r\n"))
	if !ok {
		t.Fatal("expected a match")
	}
	if m.Product != "OpenSSH_9.6" || m.Version != "2.0" {
		t.Fatalf("got product=%q version=%q", m.Product, m.Version)
	}
}

func TestMatchBannerPrefersHardMatchOverSoft(t *testing.T) {
	db, _ := NewDatabase([]scanning.ServiceSignature{
		{Port: 80, ServiceName: "http-soft", Pattern: `HTTP`, SoftMatchOnly: true, Rarity: 0},
		{Port: 80, ServiceName: "http-hard", Pattern: `HTTP/1\.1 200`, Rarity: 1},
	})
	m, ok := db.matchBanner(80, []byte("HTTP/1.1 200 OK\r\n"))
	if !ok || m.Name != "http-hard" {
		t.Fatalf("got %+v, want hard match to win", m)
	}
}

func TestMatchBannerReturnsSoftWhenNoHardMatch(t *testing.T) {
	db, _ := NewDatabase([]scanning.ServiceSignature{
		{Port: 80, ServiceName: "http-soft", Pattern: `HTTP`, SoftMatchOnly: true},
	})
	m, ok := db.matchBanner(80, []byte("HTTP/0.9 some ancient server\r\n"))
	if !ok || m.Name != "http-soft" || !m.Soft {
		t.Fatalf("got %+v, ok=%v", m, ok)
	}
}

func TestNewDatabaseDropsInvalidPattern(t *testing.T) {
	_, errs := NewDatabase([]scanning.ServiceSignature{
		{Port: 80, ServiceName: "bad", Pattern: `(unterminated`},
	})
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1", len(errs))
	}
}
