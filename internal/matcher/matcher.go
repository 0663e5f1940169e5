// Package matcher decides whether a received packet corresponds to an
// outstanding probe. Two modes coexist: a stateful table (jellydator
// ttlcache) keyed by ProbeIdentity for connect/stealth/UDP/OS-fingerprint
// probes, and a stateless keyed-hash scheme (cespare xxhash) for the SYN
// engine and host discovery that needs no table at all.
package matcher

import (
	"encoding/binary"
	"net/netip"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"

	"github.com/doublegate/prort-ip/internal/scanning"
)

// Entry is the stateful table's payload: the data needed to correlate a
// later reply back to the probe that elicited it.
type Entry struct {
	SentAt  time.Time
	Retries int
	Task    scanning.ScanTask
}

// Table is the stateful probe-identity table. Entries expire after
// probe-timeout × (retries + 1), enforced by the underlying TTL cache's
// monotonic purge rather than manual sweeping.
type Table struct {
	cache *ttlcache.Cache[string, Entry]
	ceiling int
}

// NewTable creates a stateful matcher table. ceiling bounds the number of
// outstanding entries (§4.3 invariant 3); once reached, callers must apply
// rate-limiter backpressure before adding more.
func NewTable(ceiling int) *Table {
	cache := ttlcache.New[string, Entry](
		ttlcache.WithDisableTouchOnHit[string, Entry](),
	)
	go cache.Start()
	return &Table{cache: cache, ceiling: ceiling}
}

// Len reports the number of outstanding entries.
func (t *Table) Len() int { return t.cache.Len() }

// AtCeiling reports whether the table has reached its configured ceiling.
func (t *Table) AtCeiling() bool {
	if t.ceiling <= 0 {
		return false
	}
	return t.cache.Len() >= t.ceiling
}

// Put records an outstanding probe, keyed by its identity, expiring after
// timeout if no matching reply arrives.
func (t *Table) Put(id scanning.ProbeIdentity, entry Entry, timeout time.Duration) {
	t.cache.Set(key(id), entry, timeout)
}

// Match looks up the reverse tuple extracted from a reply. On hit the
// entry is removed (single-shot) and returned.
func (t *Table) Match(id scanning.ProbeIdentity) (Entry, bool) {
	item := t.cache.Get(key(id))
	if item == nil {
		return Entry{}, false
	}
	entry := item.Value()
	t.cache.Delete(key(id))
	return entry, true
}

// Close stops the table's background purge goroutine.
func (t *Table) Close() {
	t.cache.Stop()
}

// key builds the reverse tuple: a reply arrives from the probe's
// destination back to its source, so the table is keyed by the identity
// as seen from the prober's side regardless of which side originated it.
func key(id scanning.ProbeIdentity) string {
	var b [13]byte
	src := id.SrcAddr.As16()
	dst := id.DstAddr.As16()
	copy(b[0:2], uint16Bytes(id.SrcPort))
	copy(b[2:4], uint16Bytes(id.DstPort))
	b[4] = byte(id.Protocol)
	h := xxhash.New()
	h.Write(b[0:5])
	h.Write(src[:])
	h.Write(dst[:])
	sum := h.Sum64()
	return string(uint64Bytes(sum))
}

func uint16Bytes(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// StatelessCodec computes and validates the stateless cookie used by the
// SYN engine and host discovery: a keyed 64-bit hash of the probe's
// 4-tuple, truncated to 32 bits and used as the outgoing TCP sequence
// number. A reply is ours iff its ACK field equals cookie+1, which lets
// the matcher validate arbitrarily many outstanding probes in O(1) memory
// and attribute any matching reply back to a single (host, port) pair.
type StatelessCodec struct {
	key uint64
}

// NewStatelessCodec creates a codec keyed by a random, per-scan value. The
// key must never be leaked in outputs (§4.3 invariant 2).
func NewStatelessCodec(scanKey uint64) *StatelessCodec {
	return &StatelessCodec{key: scanKey}
}

// Sequence computes the outgoing TCP sequence number for a probe.
func (c *StatelessCodec) Sequence(dst netip.Addr, dstPort, srcPort uint16, protocol scanning.Protocol) uint32 {
	return uint32(c.hash(dst, dstPort, srcPort, protocol, 0xA5))
}

// SourcePort derives a deterministic source port from the destination
// tuple using the same key with a different salt byte, so the same hash family
// produces both sequence number and source port without correlation.
func (c *StatelessCodec) SourcePort(dst netip.Addr, dstPort uint16, base, span uint16) uint16 {
	h := c.hash(dst, dstPort, 0, scanning.ProtocolTCP, 0x5A)
	return base + uint16(h%uint64(span))
}

// Validate reports whether an observed ACK value matches the cookie
// computed for the given reply tuple.
func (c *StatelessCodec) Validate(dst netip.Addr, dstPort, srcPort uint16, protocol scanning.Protocol, ack uint32) bool {
	expected := c.hash(dst, dstPort, srcPort, protocol, 0xA5) + 1
	return uint32(expected) == ack
}

func (c *StatelessCodec) hash(dst netip.Addr, dstPort, srcPort uint16, protocol scanning.Protocol, salt byte) uint64 {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], c.key)
	addr16 := dst.As16()
	copy(buf[8:24], addr16[:])

	h := xxhash.New()
	h.Write(buf[:])
	h.Write(uint16Bytes(dstPort))
	h.Write(uint16Bytes(srcPort))
	h.Write([]byte{byte(protocol), salt})
	return h.Sum64()
}
