// Package scheduler orchestrates a scan end-to-end: a fixed worker pool
// pulls tasks from a target iterator, a single receiver goroutine reads the
// capture handle and correlates replies back to outstanding probes, and an
// aggregator forwards finished results through a bounded channel so a slow
// consumer applies backpressure to the whole scan instead of the scheduler
// buffering unboundedly (§4.6).
package scheduler

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/doublegate/prort-ip/internal/capture"
	"github.com/doublegate/prort-ip/internal/engine"
	"github.com/doublegate/prort-ip/internal/iterator"
	"github.com/doublegate/prort-ip/internal/logging"
	"github.com/doublegate/prort-ip/internal/matcher"
	"github.com/doublegate/prort-ip/internal/metrics"
	"github.com/doublegate/prort-ip/internal/packet"
	"github.com/doublegate/prort-ip/internal/ratelimit"
	"github.com/doublegate/prort-ip/internal/scanning"
	"github.com/doublegate/prort-ip/internal/workers"
)

// resultBacklog bounds the scheduler's outgoing result channel; once full,
// task production blocks, propagating backpressure to the iterator.
const resultBacklog = 4096

// Config configures one Scheduler run.
type Config struct {
	Pool      workers.Config
	Timing    ratelimit.Template
	CircuitN  int
	Cooldown  time.Duration
	RTTMin    time.Duration
	RTTMax    time.Duration
	MatchCeil int
}

// Scheduler ties the target iterator, rate limiter, worker pool, response
// matcher, per-host RTT estimator, and circuit breaker into one scan run.
type Scheduler struct {
	cfg Config

	pool    *workers.Pool
	it      *iterator.Iterator
	limiter *ratelimit.Limiter
	cap     capture.Handle
	engines map[scanning.ScanKind]engine.Engine

	stateful  *matcher.Table
	stateless *matcher.StatelessCodec
	circuit   *hostCircuit

	rttMu sync.Mutex
	rtt   map[string]*rttEstimator

	pendingMu sync.Mutex
	pending   map[string]chan engine.ParsedReply

	results chan scanning.ScanResult
}

// New assembles a Scheduler. cap may be nil for engines (like connect
// scans) that never touch raw capture.
func New(cfg Config, it *iterator.Iterator, cap capture.Handle, engines map[scanning.ScanKind]engine.Engine, stateful *matcher.Table, stateless *matcher.StatelessCodec) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		pool:      workers.New(cfg.Pool),
		it:        it,
		limiter:   ratelimit.New(cfg.Timing),
		cap:       cap,
		engines:   engines,
		stateful:  stateful,
		stateless: stateless,
		circuit:   newHostCircuit(cfg.CircuitN, cfg.Cooldown),
		rtt:       make(map[string]*rttEstimator),
		pending:   make(map[string]chan engine.ParsedReply),
		results:   make(chan scanning.ScanResult, resultBacklog),
	}
}

// Results returns the channel of finished scan results. Closed once Run
// returns.
func (s *Scheduler) Results() <-chan scanning.ScanResult { return s.results }

// AwaitReply implements engine.AwaitReply so it can be handed directly into
// engine.Deps.Await.
func (s *Scheduler) AwaitReply(ctx context.Context, id scanning.ProbeIdentity, timeout time.Duration) (engine.ParsedReply, bool) {
	key := replyKey(id.DstAddr, id.DstPort, id.SrcAddr, id.SrcPort, id.Protocol)
	sentAt := time.Now()

	ch := make(chan engine.ParsedReply, 1)
	s.pendingMu.Lock()
	s.pending[key] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, key)
		s.pendingMu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		reply.RTT = time.Since(sentAt)
		return reply, true
	case <-timer.C:
		return engine.ParsedReply{}, false
	case <-ctx.Done():
		return engine.ParsedReply{}, false
	}
}

// Run drives the scan to completion or until ctx is canceled: it starts the
// receiver loop (if a capture handle is present), the worker pool, feeds
// tasks from the iterator, and blocks until all submitted tasks finish.
func (s *Scheduler) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.cap != nil {
		frames, err := s.cap.Receive(runCtx)
		if err != nil {
			return fmt.Errorf("scheduler: start capture receive: %w", err)
		}
		go s.receiveLoop(runCtx, frames)
	}

	s.pool.Start()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.drainCompleted(runCtx)
	}()

	s.produce(runCtx)

	_ = s.pool.Shutdown()
	wg.Wait()
	close(s.results)
	return runCtx.Err()
}

// produce pulls tasks from the iterator, skipping hosts currently in
// circuit-breaker cooldown, pacing emission through the rate limiter, and
// submitting each task as a ProbeJob.
func (s *Scheduler) produce(ctx context.Context) {
	for {
		task, ok := s.it.Next()
		if !ok {
			return
		}

		host := task.Host.String()
		if s.circuit.Open(host) {
			s.results <- scanning.ScanResult{
				Identity: scanning.ResultIdentity{DstAddr: task.Host, DstPort: task.Port, Protocol: task.Protocol},
				State:    scanning.StateFiltered,
				Reason:   scanning.ReasonCircuitBreaker,
			}
			continue
		}

		if err := s.limiter.WaitForPermit(ctx); err != nil {
			return
		}

		id := fmt.Sprintf("%s:%d/%s/%d", host, task.Port, task.Protocol, task.Attempt)
		job := workers.NewProbeJob(id, task, s.executeTask)
		for {
			if err := s.pool.Submit(job); err == nil {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
}

// executeTask is the ProbeJob executor: it looks up the engine for the
// task's kind, computes the per-host timeout from the RTT estimator,
// probes, records the outcome into the circuit breaker and RTT estimator,
// and forwards the terminal result.
func (s *Scheduler) executeTask(ctx context.Context, task scanning.ScanTask) error {
	eng, ok := s.engines[task.Kind]
	if !ok {
		return fmt.Errorf("scheduler: no engine registered for scan kind %s", task.Kind)
	}

	host := task.Host.String()
	timeout := s.rttFor(host).Timeout()

	start := time.Now()
	result, err := eng.Probe(ctx, task, timeout)
	if err != nil {
		logging.Warn("probe failed", "host", host, "port", task.Port, "error", err)
		s.circuit.RecordFailure(host)
		s.limiter.RecordLoss()
		return err
	}

	if result.RTT > 0 {
		s.rttFor(host).Observe(result.RTT)
	}
	if result.Reason == scanning.ReasonNoResponse {
		s.circuit.RecordFailure(host)
		s.limiter.RecordLoss()
	} else {
		s.circuit.RecordSuccess(host)
	}

	metrics.RecordProbeRTT(task.Kind.String(), host, time.Since(start))
	s.results <- result
	return nil
}

func (s *Scheduler) rttFor(host string) *rttEstimator {
	s.rttMu.Lock()
	defer s.rttMu.Unlock()
	e, ok := s.rtt[host]
	if !ok {
		e = newRTTEstimator(s.cfg.RTTMin, s.cfg.RTTMax)
		s.rtt[host] = e
	}
	return e
}

// drainCompleted logs worker-pool-level job results (distinct from the
// domain ScanResults already forwarded by executeTask) for observability.
func (s *Scheduler) drainCompleted(ctx context.Context) {
	for {
		select {
		case res, ok := <-s.pool.Results():
			if !ok {
				return
			}
			if res.Error != nil {
				logging.Debug("probe job error", "job_id", res.JobID, "error", res.Error, "retries", res.Retries)
			}
		case <-ctx.Done():
			return
		}
	}
}

// replyKey builds the lookup key from the perspective of an expected reply:
// it arrives from (fromAddr, fromPort) to (toAddr, toPort).
func replyKey(fromAddr netip.Addr, fromPort uint16, toAddr netip.Addr, toPort uint16, proto scanning.Protocol) string {
	return fmt.Sprintf("%s:%d>%s:%d/%d", fromAddr, fromPort, toAddr, toPort, proto)
}

// receiveLoop parses every captured frame and dispatches matching replies
// to whichever AwaitReply call is waiting on them.
func (s *Scheduler) receiveLoop(ctx context.Context, frames <-chan capture.Frame) {
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return
			}
			s.handleFrame(frame)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) handleFrame(frame capture.Frame) {
	pp, err := packet.Parse(frame.Data, layers.LayerTypeEthernet)
	if err != nil {
		return
	}

	switch {
	case pp.TCP != nil && pp.IPv4 != nil:
		s.deliver(netipFrom(pp.IPv4.SrcIP), uint16(pp.TCP.SrcPort), netipFrom(pp.IPv4.DstIP), uint16(pp.TCP.DstPort), scanning.ProtocolTCP,
			engine.ParsedReply{
				SYN: pp.TCP.SYN, ACK: pp.TCP.ACK, RST: pp.TCP.RST, FIN: pp.TCP.FIN,
				IPID: pp.IPv4.Id, HasIPID: true, Window: pp.TCP.Window, Options: pp.TCP.Options,
			})
	case pp.UDP != nil && pp.IPv4 != nil:
		s.deliver(netipFrom(pp.IPv4.SrcIP), uint16(pp.UDP.SrcPort), netipFrom(pp.IPv4.DstIP), uint16(pp.UDP.DstPort), scanning.ProtocolUDP,
			engine.ParsedReply{})
	case pp.ICMPv4 != nil && pp.IPv4 != nil:
		s.dispatchICMP(pp)
	}
}

func (s *Scheduler) deliver(from netip.Addr, fromPort uint16, to netip.Addr, toPort uint16, proto scanning.Protocol, reply engine.ParsedReply) {
	key := replyKey(from, fromPort, to, toPort, proto)
	s.pendingMu.Lock()
	ch, ok := s.pending[key]
	s.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- reply:
	default:
	}
}

// dispatchICMP handles destination-unreachable replies by parsing the
// embedded original-packet header carried in the ICMP payload to recover
// the probe's 4-tuple.
func (s *Scheduler) dispatchICMP(pp *packet.ParsedPacket) {
	icmpType := int(pp.ICMPv4.TypeCode.Type())
	icmpCode := int(pp.ICMPv4.TypeCode.Code())
	if icmpType != 3 { // destination unreachable
		return
	}

	embedded, err := packet.Parse(pp.Payload, layers.LayerTypeIPv4)
	if err != nil || embedded.IPv4 == nil {
		return
	}

	var srcPort, dstPort uint16
	var proto scanning.Protocol
	switch {
	case embedded.TCP != nil:
		srcPort, dstPort, proto = uint16(embedded.TCP.SrcPort), uint16(embedded.TCP.DstPort), scanning.ProtocolTCP
	case embedded.UDP != nil:
		srcPort, dstPort, proto = uint16(embedded.UDP.SrcPort), uint16(embedded.UDP.DstPort), scanning.ProtocolUDP
	default:
		return
	}

	// The embedded packet is our original outgoing probe: src=us, dst=target.
	// The matching reply is keyed as arriving from the target to us.
	key := replyKey(netipFrom(embedded.IPv4.DstIP), dstPort, netipFrom(embedded.IPv4.SrcIP), srcPort, proto)
	s.pendingMu.Lock()
	ch, ok := s.pending[key]
	s.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- engine.ParsedReply{IsICMPUnreachable: true, ICMPType: icmpType, ICMPCode: icmpCode}:
	default:
	}
}

func netipFrom(ip []byte) netip.Addr {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	return addr.Unmap()
}
