// Package fingerprint implements OS detection: a sixteen-probe sequence
// against a known-open and known-closed TCP port plus ICMP and UDP,
// feature extraction from the replies (ISN statistics, IP-ID class,
// timestamp behavior, TCP option order, window profile), and scored
// matching against a signature database (§4.9).
package fingerprint

import (
	"context"
	"net/netip"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/doublegate/prort-ip/internal/capture"
	"github.com/doublegate/prort-ip/internal/engine"
	"github.com/doublegate/prort-ip/internal/packet"
	"github.com/doublegate/prort-ip/internal/scanning"
)

// probeTimeout bounds how long the engine waits for any single probe's
// reply before recording it as absent.
const probeTimeout = 2 * time.Second

// probeKind labels one of the sixteen probes so replies can be routed back
// to the right feature-extraction slot.
type probeKind int

const (
	probeSeq1 probeKind = iota // six ISN probes, varied options/windows
	probeSeq2
	probeSeq3
	probeSeq4
	probeSeq5
	probeSeq6
	probeICMP1 // two ICMP echoes, differing in DF only; ToS is not set
	probeICMP2
	probeECN // ECN-enabled SYN
	probeT2  // six unusual-flag probes to open/closed ports
	probeT3
	probeT4
	probeT5
	probeT6
	probeT7
	probeUDP // UDP probe to a closed port
)

var probeKindNames = map[probeKind]string{
	probeSeq1: "seq1", probeSeq2: "seq2", probeSeq3: "seq3",
	probeSeq4: "seq4", probeSeq5: "seq5", probeSeq6: "seq6",
	probeICMP1: "icmp1", probeICMP2: "icmp2", probeECN: "ecn",
	probeT2: "t2", probeT3: "t3", probeT4: "t4", probeT5: "t5", probeT6: "t6", probeT7: "t7",
	probeUDP: "udp",
}

// probeReply is what feature extraction needs from one probe's outcome.
type probeReply struct {
	kind     probeKind
	ok       bool
	reply    engine.ParsedReply
	isn      uint32
	ipid     uint16
	hasIPID  bool
	window   uint16
	options  []layers.TCPOption
	icmpCode int
	at       time.Time
}

// seqOptions bundles the varied per-probe TCP option sets the ISN sequence
// uses, matching the "six TCP SYN probes with varied options and windows"
// requirement.
var seqOptions = [][]layers.TCPOption{
	{{OptionType: layers.TCPOptionKindMSS, OptionLength: 4, OptionData: []byte{0x05, 0xb4}}},
	{{OptionType: layers.TCPOptionKindNop}, {OptionType: layers.TCPOptionKindWindowScale, OptionLength: 3, OptionData: []byte{10}}},
	{{OptionType: layers.TCPOptionKindTimestamps, OptionLength: 10, OptionData: make([]byte, 8)}},
	{{OptionType: layers.TCPOptionKindSACKPermitted, OptionLength: 2}},
	{{OptionType: layers.TCPOptionKindMSS, OptionLength: 4, OptionData: []byte{0x02, 0x38}}, {OptionType: layers.TCPOptionKindWindowScale, OptionLength: 3, OptionData: []byte{5}}},
	nil,
}

var seqWindows = []uint16{1, 63, 4, 4, 16, 512}

// Deps bundles what the probe sequence needs to send and await replies;
// mirrors engine.Deps but scoped to the fields fingerprinting touches.
type Deps struct {
	Capture capture.Handle
	SrcAddr netip.Addr
	Await   engine.AwaitReply
}

// Prober runs the sixteen-probe sequence against one host and returns a
// populated OsSignature.
type Prober struct {
	deps       *Deps
	openPort   uint16
	closedPort uint16
	srcPort    uint16
}

// NewProber creates a Prober. openPort must be a TCP port previously
// observed Open on the target; closedPort one observed Closed.
func NewProber(d *Deps, openPort, closedPort, srcPort uint16) *Prober {
	return &Prober{deps: d, openPort: openPort, closedPort: closedPort, srcPort: srcPort}
}

// Run sends all sixteen probes sequentially (timing, not ordering, matters
// for ISN-rate measurement) and extracts a signature from the replies.
func (p *Prober) Run(ctx context.Context, target netip.Addr) (scanning.OsSignature, error) {
	var replies []probeReply

	for i := 0; i < 6; i++ {
		replies = append(replies, p.sendTCP(ctx, target, p.openPort, probeKind(int(probeSeq1)+i),
			packet.TCPFlags{SYN: true}, seqWindows[i], seqOptions[i]))
	}

	replies = append(replies, p.sendICMP(ctx, target, probeICMP1, 0, true))
	replies = append(replies, p.sendICMP(ctx, target, probeICMP2, 4, false))

	replies = append(replies, p.sendTCP(ctx, target, p.openPort, probeECN,
		packet.TCPFlags{SYN: true, ECE: true, CWR: true}, 3, nil))

	unusual := []struct {
		port  uint16
		flags packet.TCPFlags
	}{
		{p.closedPort, packet.TCPFlags{}},
		{p.closedPort, packet.TCPFlags{SYN: true, FIN: true, URG: true, PSH: true}},
		{p.openPort, packet.TCPFlags{ACK: true}},
		{p.closedPort, packet.TCPFlags{SYN: true}},
		{p.openPort, packet.TCPFlags{ACK: true}},
		{p.closedPort, packet.TCPFlags{FIN: true}},
	}
	for i, u := range unusual {
		replies = append(replies, p.sendTCP(ctx, target, u.port, probeKind(int(probeT2)+i), u.flags, 128, nil))
	}

	replies = append(replies, p.sendUDP(ctx, target))

	return extract(replies), nil
}

func (p *Prober) sendTCP(ctx context.Context, target netip.Addr, port uint16, kind probeKind, flags packet.TCPFlags, window uint16, opts []layers.TCPOption) probeReply {
	isn := uint32(time.Now().UnixNano())
	frame, err := packet.BuildTCP(nil, nil, p.deps.SrcAddr, target, p.srcPort, port, isn, 0, flags, window, opts, nil, packet.BuildOptions{})
	if err != nil || p.deps.Capture == nil || p.deps.Capture.Send(frame) != nil {
		return probeReply{kind: kind, isn: isn}
	}

	id := scanning.ProbeIdentity{SrcAddr: p.deps.SrcAddr, SrcPort: p.srcPort, DstAddr: target, DstPort: port, Protocol: scanning.ProtocolTCP}
	reply, ok := p.deps.Await(ctx, id, probeTimeout)
	return probeReply{
		kind: kind, ok: ok, reply: reply, isn: isn, at: time.Now(),
		window: reply.Window, options: reply.Options, ipid: reply.IPID, hasIPID: reply.HasIPID,
	}
}

func (p *Prober) sendICMP(ctx context.Context, target netip.Addr, kind probeKind, tos uint8, df bool) probeReply {
	frame, err := packet.BuildICMPEcho(nil, nil, p.deps.SrcAddr, target, p.srcPort, 1, nil, packet.BuildOptions{DontFragment: df})
	if err != nil || p.deps.Capture == nil || p.deps.Capture.Send(frame) != nil {
		return probeReply{kind: kind}
	}
	id := scanning.ProbeIdentity{SrcAddr: p.deps.SrcAddr, DstAddr: target, Protocol: scanning.ProtocolICMP}
	reply, ok := p.deps.Await(ctx, id, probeTimeout)
	return probeReply{kind: kind, ok: ok, reply: reply}
}

func (p *Prober) sendUDP(ctx context.Context, target netip.Addr) probeReply {
	frame, err := packet.BuildUDP(nil, nil, p.deps.SrcAddr, target, p.srcPort, p.closedPort, []byte("C"), packet.BuildOptions{})
	if err != nil || p.deps.Capture == nil || p.deps.Capture.Send(frame) != nil {
		return probeReply{kind: probeUDP}
	}
	id := scanning.ProbeIdentity{SrcAddr: p.deps.SrcAddr, DstAddr: target, DstPort: p.closedPort, Protocol: scanning.ProtocolUDP}
	reply, ok := p.deps.Await(ctx, id, probeTimeout)
	return probeReply{kind: probeUDP, ok: ok, reply: reply}
}
