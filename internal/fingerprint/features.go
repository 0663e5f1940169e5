package fingerprint

import (
	"math"

	"github.com/google/gopacket/layers"

	"github.com/doublegate/prort-ip/internal/engine"
	"github.com/doublegate/prort-ip/internal/scanning"
)

// extract turns the sixteen raw probe replies into an OsSignature:
// GCD/ISR/SP from the six SYN probes' ISNs, the SYN channel's IP-ID class
// (TI), timestamp support, TCP option order, window profile, and
// response-flag profile. CI, II and TSClass are not computed and stay at
// their zero values.
func extract(replies []probeReply) scanning.OsSignature {
	sig := scanning.OsSignature{}

	var seq []probeReply
	for _, r := range replies {
		if r.kind >= probeSeq1 && r.kind <= probeSeq6 && r.ok {
			seq = append(seq, r)
		}
	}

	if len(seq) >= 2 {
		sig.GCD = isnGCD(seq)
		sig.ISR = isnRate(seq)
		sig.SP = isnSpread(seq)
	}

	sig.TI = ipidClass(seq)

	for _, r := range replies {
		sig.WindowProfile = append(sig.WindowProfile, r.window)
		sig.ResponseFlags = append(sig.ResponseFlags, flagByte(r.reply))
		if len(r.options) > 0 {
			sig.TCPOptionOrder = append(sig.TCPOptionOrder, optionNames(r.options))
		}
	}

	for _, r := range replies {
		if r.kind == probeSeq3 && r.ok { // the timestamp-option probe
			sig.SupportsTS = hasOption(r.options, layers.TCPOptionKindTimestamps)
		}
	}

	return sig
}

func hasOption(opts []layers.TCPOption, kind layers.TCPOptionKind) bool {
	for _, o := range opts {
		if o.OptionType == kind {
			return true
		}
	}
	return false
}

// isnGCD computes the greatest common divisor of consecutive ISN deltas,
// the classic Nmap-style ISN-predictability signal.
func isnGCD(seq []probeReply) uint32 {
	var g uint32
	for i := 1; i < len(seq); i++ {
		d := seq[i].isn - seq[i-1].isn
		g = gcd(g, d)
	}
	return g
}

func gcd(a, b uint32) uint32 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// isnRate log-scales the average per-probe ISN delta over elapsed time,
// Nmap's "ISR" metric.
func isnRate(seq []probeReply) float64 {
	if len(seq) < 2 {
		return 0
	}
	elapsed := seq[len(seq)-1].at.Sub(seq[0].at).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}
	total := float64(seq[len(seq)-1].isn - seq[0].isn)
	avgPerSec := total / elapsed
	if avgPerSec <= 0 {
		return 0
	}
	return math.Log2(avgPerSec) * 8
}

// isnSpread is the standard-deviation class of consecutive ISN deltas,
// Nmap's "SP" metric, expressed directly as the computed stddev (callers
// bucket it against signature ranges rather than this package doing so).
func isnSpread(seq []probeReply) float64 {
	if len(seq) < 2 {
		return 0
	}
	deltas := make([]float64, 0, len(seq)-1)
	var mean float64
	for i := 1; i < len(seq); i++ {
		d := float64(seq[i].isn - seq[i-1].isn)
		deltas = append(deltas, d)
		mean += d
	}
	mean /= float64(len(deltas))

	var variance float64
	for _, d := range deltas {
		variance += (d - mean) * (d - mean)
	}
	variance /= float64(len(deltas))
	return math.Sqrt(variance)
}

// ipidClass buckets a channel's observed IP-ID sequence: all zero -> Z,
// small positive increments (1..1000) -> I, any jump above 20000 -> BI,
// anything else -> RI. RD is never returned.
func ipidClass(seq []probeReply) scanning.IPIDClass {
	var ids []uint16
	for _, r := range seq {
		if r.hasIPID {
			ids = append(ids, r.ipid)
		}
	}
	if len(ids) < 2 {
		return scanning.IPIDUnknown
	}

	allZero := true
	for _, id := range ids {
		if id != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return scanning.IPIDZero
	}

	var maxJump int
	smallPositive := true
	for i := 1; i < len(ids); i++ {
		delta := int(ids[i]) - int(ids[i-1])
		if delta < 0 {
			delta += 1 << 16
		}
		if delta > maxJump {
			maxJump = delta
		}
		if delta == 0 || delta > 1000 {
			smallPositive = false
		}
	}

	switch {
	case smallPositive:
		return scanning.IPIDIncrement
	case maxJump > 20000:
		return scanning.IPIDBrokenIncrement
	default:
		return scanning.IPIDRandomIncrement
	}
}

func flagByte(r engine.ParsedReply) uint8 {
	var b uint8
	if r.SYN {
		b |= 1 << 0
	}
	if r.ACK {
		b |= 1 << 1
	}
	if r.RST {
		b |= 1 << 2
	}
	if r.FIN {
		b |= 1 << 3
	}
	return b
}

func optionNames(opts []layers.TCPOption) []string {
	names := make([]string, 0, len(opts))
	for _, o := range opts {
		names = append(names, o.OptionType.String())
	}
	return names
}
