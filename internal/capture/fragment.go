package capture

import (
	"github.com/doublegate/prort-ip/internal/packet"
)

// Fragment granularities matching the -f/-ff evasion flags: the number of
// IPv4 payload bytes carried by each non-final fragment.
const (
	FragmentMTUSingle = 8
	FragmentMTUDouble = 16
)

// FragmentingHandle wraps a Handle, splitting every outbound IPv4 frame
// larger than mtu into MF/offset-chained fragments (packet.FragmentIPv4)
// before sending. Frames that aren't IPv4 (ARP, discovery probes) or
// already fit within mtu pass through unchanged.
type FragmentingHandle struct {
	Handle
	mtu int
}

// NewFragmentingHandle wraps inner so outbound IPv4 frames are split into
// fragments of at most mtu payload bytes. mtu must be a positive multiple
// of 8; callers validate this before construction (the -f/-ff/--mtu CLI
// flags reject anything else).
func NewFragmentingHandle(inner Handle, mtu int) *FragmentingHandle {
	return &FragmentingHandle{Handle: inner, mtu: mtu}
}

// Send fragments data if it's an oversized IPv4 frame, otherwise forwards
// it to the wrapped Handle unchanged.
func (h *FragmentingHandle) Send(data []byte) error {
	frags, fragmented, err := packet.FragmentIPv4(data, h.mtu)
	if err != nil {
		return err
	}
	if !fragmented {
		return h.Handle.Send(data)
	}
	_, err = h.Handle.SendBatch(frags)
	return err
}

// SendBatch fragments each frame individually via Send rather than
// batching the (possibly expanded) fragment lists together, since
// fragment counts vary per input frame.
func (h *FragmentingHandle) SendBatch(frames [][]byte) (int, error) {
	sent := 0
	for _, f := range frames {
		if err := h.Send(f); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
