package engine

import (
	"context"
	"math/rand"
	"net/netip"
	"time"

	"github.com/doublegate/prort-ip/internal/packet"
	"github.com/doublegate/prort-ip/internal/scanning"
)

// DecoyEngine wraps another Engine, emitting N additional spoofed-source
// copies of each probe alongside the real one so a target's logs cannot
// cheaply distinguish the real scanner's address from the decoys (§4.5's
// supplemented decoy modifier). The wrapped engine still owns reply
// correlation and result interpretation; decoys are fire-and-forget.
type DecoyEngine struct {
	inner  Engine
	deps   *Deps
	decoys []netip.Addr
}

// NewDecoyEngine wraps inner, emitting one SYN-shaped decoy packet per
// address in decoys for every probe inner sends.
func NewDecoyEngine(inner Engine, d *Deps, decoys []netip.Addr) *DecoyEngine {
	return &DecoyEngine{inner: inner, deps: d, decoys: decoys}
}

func (e *DecoyEngine) Probe(ctx context.Context, task scanning.ScanTask, timeout time.Duration) (scanning.ScanResult, error) {
	for _, decoy := range e.decoys {
		frame, err := packet.BuildTCP(
			e.deps.SrcMAC, e.deps.DstMAC,
			decoy, task.Host,
			uint16(1024+rand.Intn(63000)), task.Port,
			uint32(rand.Int63()), 0,
			packet.TCPFlags{SYN: true},
			1024,
			nil, nil,
			packet.BuildOptions{},
		)
		if err != nil {
			continue // a malformed decoy frame must never block the real probe
		}
		_ = e.deps.Capture.Send(frame)
	}
	return e.inner.Probe(ctx, task, timeout)
}
