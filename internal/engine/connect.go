package engine

import (
	"context"
	"errors"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/doublegate/prort-ip/internal/scanning"
)

// ConnectEngine is the stateful TCP connect scan: it lets the kernel's own
// TCP stack complete the handshake, trading stealth for correctness on
// targets or privilege levels where raw sockets aren't available.
type ConnectEngine struct{}

// NewConnectEngine constructs a connect-scan engine. Unlike the raw-socket
// engines, it needs no capture handle or matcher — the kernel does the
// matching.
func NewConnectEngine() *ConnectEngine { return &ConnectEngine{} }

func (e *ConnectEngine) Probe(ctx context.Context, task scanning.ScanTask, timeout time.Duration) (scanning.ScanResult, error) {
	addr := net.JoinHostPort(task.Host.String(), strconv.Itoa(int(task.Port)))
	start := time.Now()

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	rtt := time.Since(start)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return newResult(task, scanning.StateFiltered, scanning.ReasonNoResponse, rtt), nil
		}
		if errors.Is(err, syscall.ECONNREFUSED) {
			return newResult(task, scanning.StateClosed, scanning.ReasonReset, rtt), nil
		}
		return newResult(task, scanning.StateFiltered, scanning.ReasonNoResponse, rtt), nil
	}
	_ = conn.Close()
	return newResult(task, scanning.StateOpen, scanning.ReasonSynAck, rtt), nil
}
