// Package iterator yields ScanTasks in a pseudo-random, resumable order
// without materializing the O(hosts*ports) list. It uses a small-round
// Feistel cipher (the Blackrock construction) to build a bijective
// permutation over [0, N), keyed per scan, then decomposes each permuted
// index into a (host-index, port-index) pair.
package iterator

import (
	"net/netip"

	"github.com/cespare/xxhash/v2"

	"github.com/doublegate/prort-ip/internal/scanning"
)

// feistelRounds is the number of Feistel rounds; four rounds are enough
// for a non-cryptographic shuffle with good avalanche behavior at the
// permutation sizes this iterator handles.
const feistelRounds = 4

// feistel is a Feistel-network bijection over [0, 2^bits) built from a
// keyed round function. It is not cryptographically secure — it only
// needs to be a reproducible, roughly-uniform permutation.
//
// bits is split unevenly into leftBits/rightBits whenever bits is odd
// (e.g. bits=7 splits 4/3, not 3/3 truncated to 6 bits): a Feistel round
// (L,R) -> (R, L^F(R)) is a bijection regardless of L and R's relative
// widths, as long as the two widths are tracked and swapped each round
// along with the values, so there is no need to round bits down to an
// even number and shrink the domain below the true bit-length of n.
type feistel struct {
	key       uint64
	leftBits  uint
	rightBits uint
}

func newFeistel(n uint64, key uint64) feistel {
	bits := uint(0)
	for (uint64(1) << bits) < n {
		bits++
	}
	if bits < 2 {
		bits = 2
	}
	rightBits := bits / 2
	leftBits := bits - rightBits
	return feistel{key: key, leftBits: leftBits, rightBits: rightBits}
}

func (f feistel) round(r int, right uint64) uint64 {
	h := xxhash.New()
	var buf [9]byte
	buf[0] = byte(r)
	for i := 0; i < 8; i++ {
		buf[1+i] = byte((f.key ^ right) >> (8 * i))
	}
	h.Write(buf[:])
	return h.Sum64()
}

// permute maps i to its image under the Feistel bijection over the full
// (leftBits+rightBits)-bit domain. Callers must range-check the result
// against the true domain size (which may not be a power of two) and
// retry with the next index on out-of-range results — the standard
// "cycle-walking" technique for building a bijection over an arbitrary N
// from one over the next power of two.
func (f feistel) permute(i uint64) uint64 {
	wL, wR := f.leftBits, f.rightBits
	l := i >> wR
	r := i & ((uint64(1) << wR) - 1)
	for round := 0; round < feistelRounds; round++ {
		h := f.round(round, r) & ((uint64(1) << wL) - 1)
		l, r = r, l^h
		wL, wR = wR, wL
	}
	return (l << wR) | r
}

// Iterator produces ScanTasks for one scan in permuted order. It holds no
// materialized task list: state is a cursor plus the Target/PortSpec
// expansions needed to decompose an index.
type Iterator struct {
	addrs    []netip.Addr
	ports    *scanning.PortSpec
	protocol scanning.Protocol
	kind     scanning.ScanKind
	excluded func(netip.Addr) bool

	total  uint64
	domain uint64 // next power-of-two bound used by the Feistel cipher
	fe     feistel
	cursor uint64
}

// New creates an Iterator over the cartesian product of addrs × ports,
// permuted with scanKey. startOffset resumes a prior run.
func New(addrs []netip.Addr, ports *scanning.PortSpec, protocol scanning.Protocol, kind scanning.ScanKind, scanKey uint64, startOffset uint64) *Iterator {
	total := uint64(len(addrs)) * uint64(ports.Size())
	fe := newFeistel(total, scanKey)
	domain := uint64(1) << (fe.leftBits + fe.rightBits)

	return &Iterator{
		addrs:    addrs,
		ports:    ports,
		protocol: protocol,
		kind:     kind,
		excluded: func(netip.Addr) bool { return false },
		total:    total,
		domain:   domain,
		fe:       fe,
		cursor:   startOffset,
	}
}

// SetExclusion installs a "never scan" predicate. Masked pairs are
// silently skipped but still consume a permutation index, so the emission
// order for everything else stays stable under mask edits.
func (it *Iterator) SetExclusion(excluded func(netip.Addr) bool) {
	it.excluded = excluded
}

// Offset returns the iterator's current cursor, for checkpointing.
func (it *Iterator) Offset() uint64 { return it.cursor }

// Total returns the full (host, port) universe size.
func (it *Iterator) Total() uint64 { return it.total }

// Next yields the next non-excluded ScanTask, or ok=false once the
// permutation domain is exhausted.
func (it *Iterator) Next() (task scanning.ScanTask, ok bool) {
	for it.cursor < it.domain {
		idx := it.cursor
		it.cursor++

		permuted := it.fe.permute(idx)
		if permuted >= it.total {
			continue // cycle-walk past images outside the true domain
		}

		hostIdx := permuted / uint64(it.ports.Size())
		portIdx := permuted % uint64(it.ports.Size())

		addr := it.addrs[hostIdx]
		port, found := it.ports.At(int(portIdx))
		if !found {
			continue
		}
		if it.excluded(addr) {
			continue
		}

		return scanning.ScanTask{Host: addr, Port: port, Protocol: it.protocol, Kind: it.kind}, true
	}
	return scanning.ScanTask{}, false
}
