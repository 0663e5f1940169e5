package engine

import (
	"context"
	"net/netip"
	"time"

	"github.com/doublegate/prort-ip/internal/packet"
	"github.com/doublegate/prort-ip/internal/scanning"
)

// idleIPIDTimeout bounds each of the two zombie IP-ID samples the idle scan
// takes around the spoofed probe.
const idleIPIDTimeout = 2 * time.Second

// IdleEngine implements the idle (zombie) scan: it samples a zombie host's
// IP-ID, sends a SYN spoofed to appear from the zombie, then re-samples the
// zombie's IP-ID. An increment of exactly 2 means the target answered the
// zombie with a RST (the target port is closed, since the zombie itself
// then RSTs the unexpected reply, producing two IP-ID increments); an
// increment of 1 means the zombie never reacted to a target reply (open or
// filtered, indistinguishable without a second technique).
type IdleEngine struct {
	*Deps
	Zombie netip.Addr
}

// NewIdleEngine constructs an idle scan engine against the given zombie.
func NewIdleEngine(d *Deps, zombie netip.Addr) *IdleEngine {
	return &IdleEngine{Deps: d, Zombie: zombie}
}

func (e *IdleEngine) Probe(ctx context.Context, task scanning.ScanTask, timeout time.Duration) (scanning.ScanResult, error) {
	before, ok := e.IPID(ctx, e.Zombie, idleIPIDTimeout)
	if !ok {
		return newResult(task, scanning.StateFiltered, scanning.ReasonNoResponse, 0), nil
	}

	srcPort := e.SourcePort(task.Host, task.Port)
	seq := e.Stateless.Sequence(task.Host, task.Port, srcPort, task.Protocol)

	frame, err := packet.BuildTCP(
		e.SrcMAC, e.DstMAC,
		e.Zombie, task.Host, // spoofed source: the zombie, not us
		srcPort, task.Port,
		seq, 0,
		packet.TCPFlags{SYN: true},
		1024,
		nil, nil,
		packet.BuildOptions{},
	)
	if err != nil {
		return scanning.ScanResult{}, err
	}
	if err := e.Capture.Send(frame); err != nil {
		return scanning.ScanResult{}, err
	}

	time.Sleep(timeout)

	after, ok := e.IPID(ctx, e.Zombie, idleIPIDTimeout)
	if !ok {
		return newResult(task, scanning.StateFiltered, scanning.ReasonNoResponse, 0), nil
	}

	delta := int(after) - int(before)
	if delta < 0 {
		delta += 1 << 16
	}

	switch delta {
	case 1:
		return newResult(task, scanning.StateOpenFiltered, scanning.ReasonNoResponse, timeout), nil
	case 2:
		return newResult(task, scanning.StateClosed, scanning.ReasonReset, timeout), nil
	default:
		return newResult(task, scanning.StateFiltered, scanning.ReasonNoResponse, timeout), nil
	}
}
