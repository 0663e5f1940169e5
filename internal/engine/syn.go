package engine

import (
	"context"
	"math/rand"
	"time"

	"github.com/doublegate/prort-ip/internal/packet"
	"github.com/doublegate/prort-ip/internal/scanning"
)

// SYNEngine is the stateless TCP SYN scan: a half-open probe whose
// sequence number doubles as a keyed-hash cookie, so no per-probe state is
// held anywhere but the wire (§4.1 "stateless scan engines").
type SYNEngine struct {
	*Deps
}

// NewSYNEngine constructs a stateless SYN engine.
func NewSYNEngine(d *Deps) *SYNEngine { return &SYNEngine{Deps: d} }

func (e *SYNEngine) Probe(ctx context.Context, task scanning.ScanTask, timeout time.Duration) (scanning.ScanResult, error) {
	srcPort := e.SourcePort(task.Host, task.Port)
	seq := e.Stateless.Sequence(task.Host, task.Port, srcPort, task.Protocol)

	frame, err := packet.BuildTCP(
		e.SrcMAC, e.DstMAC,
		e.SrcAddr, task.Host,
		srcPort, task.Port,
		seq, 0,
		packet.TCPFlags{SYN: true},
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
		return newResult(task, scanning.StateFiltered, scanning.ReasonNoResponse, timeout), nil
	}

	switch {
	case reply.SYN && reply.ACK:
		return newResult(task, scanning.StateOpen, scanning.ReasonSynAck, reply.RTT), nil
	case reply.RST:
		return newResult(task, scanning.StateClosed, scanning.ReasonReset, reply.RTT), nil
	case reply.IsICMPUnreachable:
		return newResult(task, scanning.StateFiltered, scanning.ICMPUnreachableReason(reply.ICMPType, reply.ICMPCode), reply.RTT), nil
	default:
		return newResult(task, scanning.StateFiltered, scanning.ReasonNoResponse, reply.RTT), nil
	}
}
