package main

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/doublegate/prort-ip/internal/capture"
)

// resolveMAC sends an ARP who-has for target and waits for the matching
// reply, returning the sender's hardware address. Used once at scan setup
// to learn the gateway (or on-link target) MAC that raw-frame engines
// stamp into every probe's Ethernet header.
func resolveMAC(ctx context.Context, cap capture.Handle, srcMAC net.HardwareAddr, srcAddr, target netip.Addr, timeout time.Duration) (net.HardwareAddr, error) {
	if !target.Is4() {
		return nil, fmt.Errorf("arp resolution requires an IPv4 address, got %s", target)
	}

	frame, err := buildARPRequest(srcMAC, srcAddr, target)
	if err != nil {
		return nil, fmt.Errorf("build arp request: %w", err)
	}

	recvCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	frames, err := cap.Receive(recvCtx)
	if err != nil {
		return nil, fmt.Errorf("start capture receive: %w", err)
	}

	if err := cap.Send(frame); err != nil {
		return nil, fmt.Errorf("send arp request: %w", err)
	}

	for {
		select {
		case <-recvCtx.Done():
			return nil, fmt.Errorf("arp resolution of %s timed out", target)
		case f, ok := <-frames:
			if !ok {
				return nil, fmt.Errorf("arp resolution of %s: capture closed", target)
			}
			if mac, ok := parseARPReply(f.Data, target); ok {
				return mac, nil
			}
		}
	}
}

// parseARPReply reports the sender MAC of an ARP reply frame answering a
// who-has for want, or false if data isn't a matching reply.
func parseARPReply(data []byte, want netip.Addr) (net.HardwareAddr, bool) {
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
	arpLayer := pkt.Layer(layers.LayerTypeARP)
	if arpLayer == nil {
		return nil, false
	}
	arp, ok := arpLayer.(*layers.ARP)
	if !ok || arp.Operation != layers.ARPReply {
		return nil, false
	}
	sender, ok := netip.AddrFromSlice(arp.SourceProtAddress)
	if !ok || sender != want {
		return nil, false
	}
	return net.HardwareAddr(arp.SourceHwAddress), true
}

// buildARPRequest constructs a "who-has" ARP request frame for target,
// mirroring the discovery engine's own probe frame.
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
