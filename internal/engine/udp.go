package engine

import (
	"context"
	"time"

	"github.com/doublegate/prort-ip/internal/packet"
	"github.com/doublegate/prort-ip/internal/scanning"
)

// UDPEngine probes a UDP port with a protocol-specific payload where one is
// known, falling back to an empty datagram otherwise. Absence of any reply
// means open|filtered (§3: UDP's defining ambiguity), a port-unreachable
// ICMP message means closed, and any other reply means open.
type UDPEngine struct {
	*Deps
}

// NewUDPEngine constructs a UDP probe engine.
func NewUDPEngine(d *Deps) *UDPEngine { return &UDPEngine{Deps: d} }

func (e *UDPEngine) Probe(ctx context.Context, task scanning.ScanTask, timeout time.Duration) (scanning.ScanResult, error) {
	srcPort := e.SourcePort(task.Host, task.Port)
	payload := packet.UDPProbePayload(task.Port)

	frame, err := packet.BuildUDP(e.SrcMAC, e.DstMAC, e.SrcAddr, task.Host, srcPort, task.Port, payload, packet.BuildOptions{})
	if err != nil {
		return scanning.ScanResult{}, err
	}
	if err := e.Capture.Send(frame); err != nil {
		return scanning.ScanResult{}, err
	}

	id := scanning.ProbeIdentity{
		SrcAddr: e.SrcAddr, SrcPort: srcPort,
		DstAddr: task.Host, DstPort: task.Port,
		Protocol: scanning.ProtocolUDP,
	}

	reply, ok := e.Await(ctx, id, timeout)
	if !ok {
		return newResult(task, scanning.StateOpenFiltered, scanning.ReasonNoResponse, timeout), nil
	}
	if reply.IsICMPUnreachable {
		if reply.ICMPCode == 3 { // port unreachable
			return newResult(task, scanning.StateClosed, scanning.ReasonPortUnreach, reply.RTT), nil
		}
		return newResult(task, scanning.StateFiltered, scanning.ICMPUnreachableReason(reply.ICMPType, reply.ICMPCode), reply.RTT), nil
	}
	return newResult(task, scanning.StateOpen, scanning.ReasonUDPReply, reply.RTT), nil
}
