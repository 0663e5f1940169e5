package engine

import (
	"context"
	"math/rand"
	"time"

	"github.com/doublegate/prort-ip/internal/packet"
	"github.com/doublegate/prort-ip/internal/scanning"
)

// ACKEngine sends a bare ACK to determine whether a stateful firewall is
// present on the path, without being able to tell open from closed: a RST
// reply means unfiltered, and silence or an ICMP error means filtered.
type ACKEngine struct {
	*Deps
}

// NewACKEngine constructs an ACK firewall-mapping engine.
func NewACKEngine(d *Deps) *ACKEngine { return &ACKEngine{Deps: d} }

func (e *ACKEngine) Probe(ctx context.Context, task scanning.ScanTask, timeout time.Duration) (scanning.ScanResult, error) {
	srcPort := e.SourcePort(task.Host, task.Port)
	seq := e.Stateless.Sequence(task.Host, task.Port, srcPort, task.Protocol)

	frame, err := packet.BuildTCP(
		e.SrcMAC, e.DstMAC,
		e.SrcAddr, task.Host,
		srcPort, task.Port,
		seq, seq+1,
		packet.TCPFlags{ACK: true},
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
	if reply.RST {
		return newResult(task, scanning.StateUnfiltered, scanning.ReasonReset, reply.RTT), nil
	}
	if reply.IsICMPUnreachable {
		return newResult(task, scanning.StateFiltered, scanning.ICMPUnreachableReason(reply.ICMPType, reply.ICMPCode), reply.RTT), nil
	}
	return newResult(task, scanning.StateFiltered, scanning.ReasonNoResponse, reply.RTT), nil
}
