// Package discovery implements host discovery: layered ARP/ND, ICMP echo,
// and TCP-ping probes used to decide which addresses in a target set are
// alive before the port-scan phase begins (§4.8).
package discovery

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/doublegate/prort-ip/internal/capture"
	"github.com/doublegate/prort-ip/internal/logging"
	"github.com/doublegate/prort-ip/internal/metrics"
	"github.com/doublegate/prort-ip/internal/packet"
	"github.com/doublegate/prort-ip/internal/scanning"
)

// Method selects which discovery probes run against a target.
type Method uint8

const (
	MethodARP Method = iota
	MethodICMP
	MethodTCPPing
	MethodAll
)

// tcpPingPorts are probed in the absence of a caller-specified port list,
// chosen for being commonly open or commonly subject to default-deny with
// a RST rather than a silent drop.
var tcpPingPorts = []uint16{80, 443, 22}

// Config configures one discovery pass.
type Config struct {
	Method      Method
	Timeout     time.Duration
	Concurrency int
	TCPPorts    []uint16
}

// DefaultConfig returns discovery defaults matching the T3 timing template.
func DefaultConfig() Config {
	return Config{Method: MethodAll, Timeout: time.Second, Concurrency: 50, TCPPorts: tcpPingPorts}
}

func (m Method) String() string {
	switch m {
	case MethodARP:
		return "arp"
	case MethodICMP:
		return "icmp"
	case MethodTCPPing:
		return "tcp-ping"
	case MethodAll:
		return "all"
	default:
		return "unknown"
	}
}

func networkLabel(addr netip.Addr) string {
	if addr.Is4() {
		return "ipv4"
	}
	return "ipv6"
}

// Engine runs host discovery probes over a capture handle.
type Engine struct {
	cap     capture.Handle
	srcMAC  net.HardwareAddr
	dstMAC  net.HardwareAddr
	srcAddr netip.Addr
	await   func(ctx context.Context, id scanning.ProbeIdentity, timeout time.Duration) (replied bool)
}

// NewEngine creates a discovery engine. await correlates a sent probe to
// any reply; the scheduler's receiver loop supplies this in production,
// and tests supply a fake.
func NewEngine(cap capture.Handle, srcMAC, dstMAC net.HardwareAddr, srcAddr netip.Addr, await func(ctx context.Context, id scanning.ProbeIdentity, timeout time.Duration) bool) *Engine {
	return &Engine{cap: cap, srcMAC: srcMAC, dstMAC: dstMAC, srcAddr: srcAddr, await: await}
}

// Discover probes every address in targets concurrently (bounded by
// cfg.Concurrency) and returns the subset found alive.
func (e *Engine) Discover(ctx context.Context, targets []netip.Addr, cfg Config) ([]netip.Addr, error) {
	if cfg.Concurrency <= 0 {
		cfg = DefaultConfig()
	}

	sem := make(chan struct{}, cfg.Concurrency)
	var mu sync.Mutex
	var alive []netip.Addr
	var wg sync.WaitGroup

	for _, addr := range targets {
		addr := addr
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if e.probeOne(ctx, addr, cfg) {
				mu.Lock()
				alive = append(alive, addr)
				mu.Unlock()
				metrics.IncrementHostsDiscovered(networkLabel(addr), cfg.Method.String(), 1)
			}
		}()
	}
	wg.Wait()
	return alive, nil
}

// probeOne runs the layered discovery sequence for one address, short
// circuiting on the first probe that gets a reply (§4.8: "ARP/ND first on
// local segments, falling back to ICMP then TCP-ping").
func (e *Engine) probeOne(ctx context.Context, addr netip.Addr, cfg Config) bool {
	if cfg.Method == MethodARP || cfg.Method == MethodAll {
		if addr.Is4() && e.probeARP(ctx, addr, cfg.Timeout) {
			return true
		}
	}
	if cfg.Method == MethodICMP || cfg.Method == MethodAll {
		if e.probeICMP(ctx, addr, cfg.Timeout) {
			return true
		}
	}
	if cfg.Method == MethodTCPPing || cfg.Method == MethodAll {
		ports := cfg.TCPPorts
		if len(ports) == 0 {
			ports = tcpPingPorts
		}
		for _, port := range ports {
			if e.probeTCP(ctx, addr, port, cfg.Timeout) {
				return true
			}
		}
	}
	return false
}

func (e *Engine) probeARP(ctx context.Context, addr netip.Addr, timeout time.Duration) bool {
	if e.cap == nil || e.srcMAC == nil {
		return false
	}
	frame, err := buildARPRequest(e.srcMAC, e.srcAddr, addr)
	if err != nil {
		logging.Debug("arp probe build failed", "target", addr, "error", err)
		return false
	}
	if err := e.cap.Send(frame); err != nil {
		return false
	}
	return e.await(ctx, scanning.ProbeIdentity{DstAddr: addr, Protocol: scanning.ProtocolTCP}, timeout)
}

func (e *Engine) probeICMP(ctx context.Context, addr netip.Addr, timeout time.Duration) bool {
	if e.cap == nil {
		return false
	}
	proto := scanning.ProtocolICMP
	if addr.Is6() {
		proto = scanning.ProtocolICMPv6
	}
	frame, err := packet.BuildICMPEcho(e.srcMAC, e.dstMAC, e.srcAddr, addr, uint16(time.Now().UnixNano()), 1, nil, packet.BuildOptions{})
	if err != nil {
		logging.Debug("icmp probe build failed", "target", addr, "error", err)
		return false
	}
	if err := e.cap.Send(frame); err != nil {
		return false
	}
	return e.await(ctx, scanning.ProbeIdentity{DstAddr: addr, Protocol: proto}, timeout)
}

func (e *Engine) probeTCP(ctx context.Context, addr netip.Addr, port uint16, timeout time.Duration) bool {
	if e.cap != nil {
		frame, err := packet.BuildTCP(e.srcMAC, e.dstMAC, e.srcAddr, addr, 0, port, uint32(time.Now().UnixNano()), 0,
			packet.TCPFlags{SYN: true}, 1024, nil, nil, packet.BuildOptions{})
		if err == nil && e.cap.Send(frame) == nil {
			if e.await(ctx, scanning.ProbeIdentity{DstAddr: addr, DstPort: port, Protocol: scanning.ProtocolTCP}, timeout) {
				return true
			}
		}
	}

	// Fall back to a kernel-mediated connect attempt: any response (open or
	// actively refused) proves liveness even without raw-socket privilege.
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(addr.String(), fmt.Sprintf("%d", port)), timeout)
	if err == nil {
		_ = conn.Close()
		return true
	}
	return isRefusedOrReset(err)
}

func isRefusedOrReset(err error) bool {
	var ne net.Error
	if netErr, ok := err.(net.Error); ok {
		ne = netErr
	}
	return ne != nil && !ne.Timeout()
}

// buildARPRequest constructs a "who-has" ARP request frame for addr.
func buildARPRequest(srcMAC net.HardwareAddr, srcAddr, target netip.Addr) ([]byte, error) {
	broadcast := net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: broadcast, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: srcAddr.AsSlice(),
		DstHwAddress:      net.HardwareAddr{0, 0, 0, 0, 0, 0},
		DstProtAddress:    target.AsSlice(),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
