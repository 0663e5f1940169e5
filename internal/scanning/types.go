// Package scanning defines the core data model shared by the target
// iterator, scan engines, response matcher, and scheduler: targets, port
// specs, scan tasks, probe identities, port states, and the signature
// shapes used by OS fingerprinting and service detection.
package scanning

import (
	"fmt"
	"net/netip"
	"sort"
	"time"
)

// Protocol identifies the wire protocol a ScanTask probes over.
type Protocol uint8

const (
	ProtocolTCP Protocol = iota
	ProtocolUDP
	ProtocolICMP
	ProtocolICMPv6
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	case ProtocolICMP:
		return "icmp"
	case ProtocolICMPv6:
		return "icmpv6"
	default:
		return "unknown"
	}
}

// ScanKind identifies the scan engine a task is routed to.
type ScanKind uint8

const (
	ScanKindSYN ScanKind = iota
	ScanKindConnect
	ScanKindUDP
	ScanKindFIN
	ScanKindNULL
	ScanKindXmas
	ScanKindACK
	ScanKindIdle
	ScanKindDiscovery
	ScanKindOSFingerprint
	ScanKindServiceDetect
)

func (k ScanKind) String() string {
	switch k {
	case ScanKindSYN:
		return "syn"
	case ScanKindConnect:
		return "connect"
	case ScanKindUDP:
		return "udp"
	case ScanKindFIN:
		return "fin"
	case ScanKindNULL:
		return "null"
	case ScanKindXmas:
		return "xmas"
	case ScanKindACK:
		return "ack"
	case ScanKindIdle:
		return "idle"
	case ScanKindDiscovery:
		return "discovery"
	case ScanKindOSFingerprint:
		return "os-fingerprint"
	case ScanKindServiceDetect:
		return "service-detect"
	default:
		return "unknown"
	}
}

// PortState is exactly one of the terminal or pre-terminal states a task
// can occupy. Transitions are monotonic: Unknown moves to exactly one
// terminal state, except that OpenFiltered may later be upgraded to Open
// by a retry that elicits a definitive reply. No other regression is legal.
type PortState uint8

const (
	StateUnknown PortState = iota
	StateOpen
	StateClosed
	StateFiltered
	StateUnfiltered
	StateOpenFiltered
	StateClosedFiltered
)

func (s PortState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFiltered:
		return "filtered"
	case StateUnfiltered:
		return "unfiltered"
	case StateOpenFiltered:
		return "open|filtered"
	case StateClosedFiltered:
		return "closed|filtered"
	default:
		return "unknown"
	}
}

// CanTransitionTo reports whether moving from s to next honors the
// monotonic-transition invariant in §3: any Unknown state may resolve to
// a terminal state, and the only legal post-terminal move is an
// OpenFiltered retry upgrading to Open.
func (s PortState) CanTransitionTo(next PortState) bool {
	if s == StateUnknown {
		return true
	}
	if s == StateOpenFiltered && next == StateOpen {
		return true
	}
	return s == next
}

// Reason codes recorded alongside a terminal PortState, matching §7's
// "every terminal port state carries a reason" requirement.
const (
	ReasonSynAck         = "syn-ack"
	ReasonReset          = "reset"
	ReasonNoResponse     = "no-response"
	ReasonHostDown       = "host-down"
	ReasonAdminProhib    = "admin-prohibited"
	ReasonPortUnreach    = "port-unreachable"
	ReasonProtoUnreach   = "protocol-unreachable"
	ReasonCircuitBreaker = "circuit-breaker-cooldown"
	ReasonUDPReply       = "udp-reply"
)

// ICMPUnreachableReason formats an ICMP destination-unreachable reason
// carrying its type and code, e.g. "icmp-unreachable(3,3)".
func ICMPUnreachableReason(icmpType, icmpCode int) string {
	return fmt.Sprintf("icmp-unreachable(%d,%d)", icmpType, icmpCode)
}

// TargetKind identifies how a Target's address set is produced.
type TargetKind uint8

const (
	TargetSingle TargetKind = iota
	TargetRange
	TargetCIDR
	TargetHostname
	TargetFile
)

// Target is one of: a single address, an inclusive range, a CIDR block, a
// hostname requiring resolution, or a file-sourced list. Expansion into
// concrete addresses is deterministic given the input spec.
type Target struct {
	Kind TargetKind
	Spec string // original textual spec, e.g. "10.0.0.0/24", "host.example.com", "@targets.txt"
}

// PortRange is one disjoint, inclusive [Start, End] slice of the port space.
type PortRange struct {
	Start uint16
	End   uint16
}

// Size returns the number of ports the range covers.
func (r PortRange) Size() int {
	return int(r.End) - int(r.Start) + 1
}

// PortSpec is an ordered disjoint union of port ranges over [1, 65535].
type PortSpec struct {
	ranges []PortRange
}

// NewPortSpec builds a PortSpec from ranges, normalizing overlaps and
// sorting by Start so the union stays disjoint and ordered.
func NewPortSpec(ranges ...PortRange) (*PortSpec, error) {
	for _, r := range ranges {
		if r.Start == 0 || r.Start > r.End {
			return nil, fmt.Errorf("scanning: invalid port range %d-%d", r.Start, r.End)
		}
	}
	sorted := append([]PortRange(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	merged := make([]PortRange, 0, len(sorted))
	for _, r := range sorted {
		if n := len(merged); n > 0 && r.Start <= merged[n-1].End+1 {
			if r.End > merged[n-1].End {
				merged[n-1].End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return &PortSpec{ranges: merged}, nil
}

// Size is the total number of ports the spec covers. O(ranges), not O(ports).
func (p *PortSpec) Size() int {
	total := 0
	for _, r := range p.ranges {
		total += r.Size()
	}
	return total
}

// Contains reports whether port is covered by the spec.
func (p *PortSpec) Contains(port uint16) bool {
	for _, r := range p.ranges {
		if port >= r.Start && port <= r.End {
			return true
		}
	}
	return false
}

// At returns the i'th port in ascending port order: NewPortSpec sorts and
// merges the ranges, so the order they were given in is not kept. Used by the target
// iterator to decompose a permuted index into a concrete port without
// materializing the full port list.
func (p *PortSpec) At(i int) (uint16, bool) {
	if i < 0 {
		return 0, false
	}
	for _, r := range p.ranges {
		size := r.Size()
		if i < size {
			return r.Start + uint16(i), true
		}
		i -= size
	}
	return 0, false
}

// ScanTask is the immutable (address, port, protocol, scan-kind) unit the
// scheduler hands to workers. A scan lists O(hosts*ports) tasks, but the
// list is never materialized; the target iterator produces tasks lazily.
type ScanTask struct {
	Host     netip.Addr
	Port     uint16
	Protocol Protocol
	Kind     ScanKind
	Attempt  int // retry counter, incremented by the scheduler on requeue
}

// TaskID is an opaque identifier for a task, stable across retries, used
// so a requeued task's retry can be correlated back to the original
// without the scheduler holding a direct reference (§3 ownership rule:
// "back-references from retries to original tasks are stored as opaque
// task identifiers").
type TaskID uint64

// ProbeIdentity is the tuple the response matcher uses to recognize
// replies: (source-address, source-port, destination-address,
// destination-port, protocol, sequence-number-or-icmp-id).
type ProbeIdentity struct {
	SrcAddr  netip.Addr
	SrcPort  uint16
	DstAddr  netip.Addr
	DstPort  uint16
	Protocol Protocol
	Seq      uint32 // TCP sequence number, or ICMP identifier for ping-style probes
}

// ResultIdentity is a ProbeIdentity stripped of the stateless cookie
// (the Seq field), matching §3's "ScanResult holds (ProbeIdentity minus
// cookie, ...)" — the sequence number is scan-internal and never surfaces
// in a result.
type ResultIdentity struct {
	SrcAddr  netip.Addr
	SrcPort  uint16
	DstAddr  netip.Addr
	DstPort  uint16
	Protocol Protocol
}

// ScanResult is the terminal outcome of one ScanTask.
type ScanResult struct {
	Identity            ResultIdentity
	State               PortState
	Reason              string
	RTT                 time.Duration
	Banner              string
	Service             *ServiceMatch
	OSMatches           []OSMatch
	ResponseFingerprint string
	DetectedAt          time.Time
}

// IPIDClass is the per-channel IP-ID generation class observed during OS
// fingerprinting: Zero, Random, Random-Increment, Broken-Increment,
// small-positive-Increment.
type IPIDClass uint8

const (
	IPIDUnknown IPIDClass = iota
	IPIDZero
	IPIDRandom
	IPIDRandomIncrement
	IPIDBrokenIncrement
	IPIDIncrement
)

func (c IPIDClass) String() string {
	switch c {
	case IPIDZero:
		return "Z"
	case IPIDRandom:
		return "RD"
	case IPIDRandomIncrement:
		return "RI"
	case IPIDBrokenIncrement:
		return "BI"
	case IPIDIncrement:
		return "I"
	default:
		return "?"
	}
}

// TSClass is the observed timestamp-option tick-frequency class.
type TSClass uint8

const (
	TSUnknown TSClass = iota
	TSZero
	TS2Hz
	TS100Hz
	TS1000Hz
	TSOther
)

// OsSignature is the feature vector extracted from the sixteen-probe
// sequence: GCD/ISR/SP of initial sequence numbers, IP-ID class per
// channel, timestamp support and class, TCP option ordering, window
// profile, and response-flag profile.
type OsSignature struct {
	GCD              uint32
	ISR              float64
	SP               float64
	TI, CI, II       IPIDClass
	SupportsTS       bool
	TSClass          TSClass
	TCPOptionOrder   [][]string
	WindowProfile    []uint16
	ResponseFlags    []uint8
	DFBehavior       bool
	ECNResponsive    bool
}

// OSMatch is one ranked entry in a scored fingerprint match, 0-100 confidence.
type OSMatch struct {
	Family     string
	Name       string
	Confidence int
	Details    map[string]string
}

// ServiceSignature is a rule indexed by port: a probe payload (nil means
// banner-wait), a rarity 0-9, and a regex whose capture groups produce
// (service, product, version, info, cpe, os-hint).
type ServiceSignature struct {
	Port           uint16 // 0 means applies to any port
	Rarity         int
	Probe          []byte
	Pattern        string // regex source, compiled lazily by the service package
	ServiceName    string
	ProductExpr    string
	VersionExpr    string
	InfoExpr       string
	CPEExpr        string
	OSHintExpr     string
	SoftMatchOnly  bool
}

// ServiceMatch is the captured result of applying a ServiceSignature to a
// banner or probe response.
type ServiceMatch struct {
	Name    string
	Product string
	Version string
	Info    string
	CPE     string
	OSHint  string
	Soft    bool
}
