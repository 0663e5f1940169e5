// Package engine implements the stateless TCP SYN engine and the stateful
// scan engines (connect, UDP, FIN/NULL/Xmas, ACK, idle/zombie) plus the
// decoy modifier that wraps any of them. Each engine probes one ScanTask
// and produces a terminal scanning.ScanResult; retry policy and circuit
// breaking live in the scheduler, not here.
package engine

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/doublegate/prort-ip/internal/capture"
	"github.com/doublegate/prort-ip/internal/matcher"
	"github.com/doublegate/prort-ip/internal/scanning"
)

// Engine probes a single task and returns its terminal result.
type Engine interface {
	Probe(ctx context.Context, task scanning.ScanTask, timeout time.Duration) (scanning.ScanResult, error)
}

// AwaitReply blocks until a reply matching id arrives or timeout elapses.
// The scheduler's receiver task owns the capture Receive loop and the
// matcher table/stateless codec; engines never read capture frames
// directly, so the same engine code runs unchanged against a fake in
// unit tests.
type AwaitReply func(ctx context.Context, id scanning.ProbeIdentity, timeout time.Duration) (ParsedReply, bool)

// ParsedReply is the subset of a matched response an engine needs to turn
// into a ScanResult: which flags/ICMP code arrived and how long it took.
// IPID/Options/Window carry the reply's IP-ID and raw TCP option list,
// used by the idle-scan zombie sampler and OS fingerprinting; ordinary
// scan engines leave them unread.
type ParsedReply struct {
	RTT                time.Duration
	SYN, ACK, RST, FIN bool
	ICMPType, ICMPCode int
	IsICMPUnreachable  bool
	IPID               uint16
	HasIPID            bool
	Window             uint16
	Options            []layers.TCPOption
}

// ProbeIPID samples a host's current IP-ID by sending it a probe (a bare
// ACK elicits a RST carrying an IP-ID on most stacks) and
// reading the reply's IP header. Used by the idle scan to read a zombie's
// IP-ID before and after the spoofed probe.
type ProbeIPID func(ctx context.Context, host netip.Addr, timeout time.Duration) (uint16, bool)

// Deps bundles the collaborators every engine needs.
type Deps struct {
	Capture    capture.Handle
	SrcMAC     net.HardwareAddr
	DstMAC     net.HardwareAddr
	SrcAddr    netip.Addr
	Stateless  *matcher.StatelessCodec
	Stateful   *matcher.Table
	Await      AwaitReply
	SourcePort func(dst netip.Addr, dstPort uint16) uint16
	IPID       ProbeIPID
}

func newResult(task scanning.ScanTask, state scanning.PortState, reason string, rtt time.Duration) scanning.ScanResult {
	return scanning.ScanResult{
		Identity: scanning.ResultIdentity{
			DstAddr:  task.Host,
			DstPort:  task.Port,
			Protocol: task.Protocol,
		},
		State:      state,
		Reason:     reason,
		RTT:        rtt,
		DetectedAt: time.Now(),
	}
}
