package service

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/doublegate/prort-ip/internal/scanning"
)

func TestDetectTCPMatchesSelfAnnouncingBanner(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("SSH-2.0-OpenSSH_9.6\r\n"))
		time.Sleep(50 * time.Millisecond)
	}()

	db, _ := NewDatabase([]scanning.ServiceSignature{
		{Port: 0, ServiceName: "ssh", Pattern: `SSH-([\d.]+)-(\S+)`, ProductExpr: "$2", VersionExpr: "$1"},
	})
	d := NewDetector(db)

	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	res, err := d.Detect(context.Background(), netip.MustParseAddr("127.0.0.1"), port, scanning.ProtocolTCP, 5, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Match == nil || res.Match.Product != "OpenSSH_9.6" {
		t.Fatalf("got %+v", res)
	}
}

func TestDetectTCPNoBannerFallsBackToProbes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 16)
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		if string(buf[:n]) == "PING" {
			_, _ = conn.Write([]byte("+PONG\r\n"))
		}
	}()

	db, _ := NewDatabase([]scanning.ServiceSignature{
		{Port: 0, ServiceName: "ping-proto", Pattern: `\+PONG`, Probe: []byte("PING")},
	})
	d := NewDetector(db)

	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	res, err := d.Detect(context.Background(), netip.MustParseAddr("127.0.0.1"), port, scanning.ProtocolTCP, 5, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Match == nil || res.Match.Name != "ping-proto" {
		t.Fatalf("got %+v", res)
	}
}
