package engine

import (
	"context"
	"math/rand"
	"time"

	"github.com/doublegate/prort-ip/internal/packet"
	"github.com/doublegate/prort-ip/internal/scanning"
)

// FlagEngine implements the FIN, NULL, and Xmas scans, which differ only in
// which TCP control bits are set on the probe. RFC 793 says a closed port
// must RST regardless of flags and an open port must stay silent, so the
// three share identical reply interpretation (§4.5).
type FlagEngine struct {
	*Deps
	kind  scanning.ScanKind
	flags packet.TCPFlags
}

// NewFINEngine, NewNULLEngine, and NewXmasEngine construct the three
// flag-probe variants.
func NewFINEngine(d *Deps) *FlagEngine {
	return &FlagEngine{Deps: d, kind: scanning.ScanKindFIN, flags: packet.TCPFlags{FIN: true}}
}

func NewNULLEngine(d *Deps) *FlagEngine {
	return &FlagEngine{Deps: d, kind: scanning.ScanKindNULL, flags: packet.TCPFlags{}}
}

func NewXmasEngine(d *Deps) *FlagEngine {
	return &FlagEngine{Deps: d, kind: scanning.ScanKindXmas, flags: packet.TCPFlags{FIN: true, PSH: true, URG: true}}
}

func (e *FlagEngine) Probe(ctx context.Context, task scanning.ScanTask, timeout time.Duration) (scanning.ScanResult, error) {
	srcPort := e.SourcePort(task.Host, task.Port)
	seq := e.Stateless.Sequence(task.Host, task.Port, srcPort, task.Protocol)

	frame, err := packet.BuildTCP(
		e.SrcMAC, e.DstMAC,
		e.SrcAddr, task.Host,
		srcPort, task.Port,
		seq, 0,
		e.flags,
		uint16(1024+rand.Intn(63000)),
		nil, nil,
		packet.BuildOptions{},
	)
	if err != nil {
		return scanning.ScanResult{}, err
	}
	if err := e.Capture.Send(frame); err != nil {
		return scanning.ScanResult{}, err
	}

	id := scanning.ProbeIdentity{
		SrcAddr: e.SrcAddr, SrcPort: srcPort,
		DstAddr: task.Host, DstPort: task.Port,
		Protocol: task.Protocol, Seq: seq,
	}

	reply, ok := e.Await(ctx, id, timeout)
	if !ok {
		return newResult(task, scanning.StateOpenFiltered, scanning.ReasonNoResponse, timeout), nil
	}
	switch {
	case reply.RST:
		return newResult(task, scanning.StateClosed, scanning.ReasonReset, reply.RTT), nil
	case reply.IsICMPUnreachable:
		return newResult(task, scanning.StateFiltered, scanning.ICMPUnreachableReason(reply.ICMPType, reply.ICMPCode), reply.RTT), nil
	default:
		return newResult(task, scanning.StateOpenFiltered, scanning.ReasonNoResponse, reply.RTT), nil
	}
}
