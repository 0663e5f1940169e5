package main

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/doublegate/prort-ip/internal/capture"
	"github.com/doublegate/prort-ip/internal/packet"
	"github.com/doublegate/prort-ip/internal/scanning"
)

// discoveryAwaiter runs its own capture-receive loop, independent of the
// scheduler's, for the one discovery pass that precedes scan setup. A
// reply "counts" if it carries the probe's destination address (and, for
// TCP-ping, port) regardless of exact flags — discovery only needs
// liveness, not port state.
type discoveryAwaiter struct {
	mu      sync.Mutex
	pending map[string]chan struct{}
}

func newDiscoveryAwaiter(ctx context.Context, cap capture.Handle) (*discoveryAwaiter, error) {
	frames, err := cap.Receive(ctx)
	if err != nil {
		return nil, fmt.Errorf("start discovery capture receive: %w", err)
	}
	a := &discoveryAwaiter{pending: make(map[string]chan struct{})}
	go a.loop(ctx, frames)
	return a, nil
}

func (a *discoveryAwaiter) key(addr netip.Addr, port uint16, proto scanning.Protocol) string {
	return fmt.Sprintf("%s:%d/%d", addr, port, proto)
}

// Wait blocks for a reply matching id or until ctx/timeout elapses,
// matching the bool-returning awaiter signature discovery.NewEngine takes.
func (a *discoveryAwaiter) Wait(ctx context.Context, id scanning.ProbeIdentity, timeout time.Duration) bool {
	ch := make(chan struct{}, 1)
	key := a.key(id.DstAddr, id.DstPort, id.Protocol)
	a.mu.Lock()
	a.pending[key] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, key)
		a.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (a *discoveryAwaiter) signal(addr netip.Addr, port uint16, proto scanning.Protocol) {
	key := a.key(addr, port, proto)
	a.mu.Lock()
	ch, ok := a.pending[key]
	a.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (a *discoveryAwaiter) loop(ctx context.Context, frames <-chan capture.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			a.handle(frame)
		}
	}
}

func (a *discoveryAwaiter) handle(frame capture.Frame) {
	pp, err := packet.Parse(frame.Data, layers.LayerTypeEthernet)
	if err != nil {
		return
	}
	switch {
	case pp.ARP != nil && pp.ARP.Operation == layers.ARPReply:
		if addr, ok := netip.AddrFromSlice(pp.ARP.SourceProtAddress); ok {
			a.signal(addr, 0, scanning.ProtocolTCP) // matches discovery.go's ARP identity placeholder
		}
	case pp.IPv4 != nil && pp.TCP != nil:
		a.signal(netipOrZero(pp.IPv4.SrcIP), uint16(pp.TCP.SrcPort), scanning.ProtocolTCP)
	case pp.IPv4 != nil && pp.ICMPv4 != nil:
		a.signal(netipOrZero(pp.IPv4.SrcIP), 0, scanning.ProtocolICMP)
	case pp.IPv6 != nil && pp.ICMPv6 != nil:
		a.signal(netipOrZero(pp.IPv6.SrcIP), 0, scanning.ProtocolICMPv6)
	}
}

func netipOrZero(ip []byte) netip.Addr {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	return addr.Unmap()
}
