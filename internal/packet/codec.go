// Package packet builds and parses the wire-format frames the scan engines
// send and receive: Ethernet, IPv4/IPv6, ICMP/ICMPv6, TCP, and UDP, with
// full checksum computation and a handful of evasion knobs (bad checksum,
// TTL override, forced source port, IP options). Building uses
// google/gopacket's layer serialization pipeline; parsing uses its
// zero-allocation lazy decoder so malformed input returns an error instead
// of panicking.
package packet

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/doublegate/prort-ip/internal/errors"
)

// maxExtensionHeaders bounds IPv6 extension-header chain traversal so a
// crafted or corrupt packet cannot force unbounded parsing work.
const maxExtensionHeaders = 8

// BuildOptions parameterizes probe construction: evasions and per-probe
// overrides layered on top of the addressing implied by the caller.
type BuildOptions struct {
	TTL          uint8  // 0 means the default of 64
	BadChecksum  bool   // emit an intentionally wrong checksum (evasion)
	SourcePort   uint16 // forced source port; 0 means caller-computed
	IPOptions    []byte // raw IPv4 options (e.g. record-route, router-alert)
	DontFragment bool
}

// TCPFlags is a small struct mirroring the eight TCP control bits,
// used by callers instead of threading eight bool parameters around.
type TCPFlags struct {
	SYN, ACK, FIN, RST, PSH, URG, ECE, CWR bool
}

// BuildTCP constructs a complete Ethernet/IP/TCP frame. srcMAC/dstMAC may
// be nil for loopback-style capture where the link layer is synthesized by
// the capture driver; when non-nil they are serialized as an Ethernet II
// header. The returned bytes are exactly the sum of layer lengths.
func BuildTCP(
	srcMAC, dstMAC net.HardwareAddr,
	src, dst netip.Addr,
	srcPort, dstPort uint16,
	seq, ack uint32,
	flags TCPFlags,
	window uint16,
	opts []layers.TCPOption,
	payload []byte,
	bo BuildOptions,
) ([]byte, error) {
	if src.Is4() != dst.Is4() {
		return nil, errors.ErrPacketMalformed("ip", fmt.Errorf("address family mismatch between src and dst"))
	}
	if err := validateTCPOptions(opts); err != nil {
		return nil, err
	}

	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(pick(bo.SourcePort, srcPort)),
		DstPort: layers.TCPPort(dstPort),
		Seq:     seq,
		Ack:     ack,
		SYN:     flags.SYN,
		ACK:     flags.ACK,
		FIN:     flags.FIN,
		RST:     flags.RST,
		PSH:     flags.PSH,
		URG:     flags.URG,
		ECE:     flags.ECE,
		CWR:     flags.CWR,
		Window:  window,
		Options: opts,
	}

	buf := gopacket.NewSerializeBuffer()
	sopts := gopacket.SerializeOptions{ComputeChecksums: !bo.BadChecksum, FixLengths: true}

	stack, err := ipStack(srcMAC, dstMAC, src, dst, layers.IPProtocolTCP, bo)
	if err != nil {
		return nil, err
	}
	if err := tcp.SetNetworkLayerForChecksum(stack.network); err != nil {
		return nil, errors.ErrPacketMalformed("tcp", err)
	}

	layersToSerialize := append(stack.layers, tcp, gopacket.Payload(payload))
	if err := gopacket.SerializeLayers(buf, sopts, layersToSerialize...); err != nil {
		return nil, errors.ErrPacketMalformed("tcp", err)
	}
	if bo.BadChecksum {
		corruptChecksum(buf.Bytes())
	}
	return buf.Bytes(), nil
}

// BuildUDP constructs a complete Ethernet/IP/UDP frame with a
// protocol-specific payload the caller has already selected.
func BuildUDP(
	srcMAC, dstMAC net.HardwareAddr,
	src, dst netip.Addr,
	srcPort, dstPort uint16,
	payload []byte,
	bo BuildOptions,
) ([]byte, error) {
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(pick(bo.SourcePort, srcPort)),
		DstPort: layers.UDPPort(dstPort),
	}

	buf := gopacket.NewSerializeBuffer()
	sopts := gopacket.SerializeOptions{ComputeChecksums: !bo.BadChecksum, FixLengths: true}

	stack, err := ipStack(srcMAC, dstMAC, src, dst, layers.IPProtocolUDP, bo)
	if err != nil {
		return nil, err
	}
	if err := udp.SetNetworkLayerForChecksum(stack.network); err != nil {
		return nil, errors.ErrPacketMalformed("udp", err)
	}

	layersToSerialize := append(stack.layers, udp, gopacket.Payload(payload))
	if err := gopacket.SerializeLayers(buf, sopts, layersToSerialize...); err != nil {
		return nil, errors.ErrPacketMalformed("udp", err)
	}
	if bo.BadChecksum {
		corruptChecksum(buf.Bytes())
	}
	return buf.Bytes(), nil
}

// BuildICMPEcho constructs an ICMPv4 (type 8) or ICMPv6 (type 128) echo
// request, selecting the protocol from the destination address family.
func BuildICMPEcho(srcMAC, dstMAC net.HardwareAddr, src, dst netip.Addr, id, seq uint16, payload []byte, bo BuildOptions) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	sopts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}

	if dst.Is4() {
		stack, err := ipStack(srcMAC, dstMAC, src, dst, layers.IPProtocolICMPv4, bo)
		if err != nil {
			return nil, err
		}
		icmp := &layers.ICMPv4{
			TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
			Id:       id,
			Seq:      seq,
		}
		layersToSerialize := append(stack.layers, icmp, gopacket.Payload(payload))
		if err := gopacket.SerializeLayers(buf, sopts, layersToSerialize...); err != nil {
			return nil, errors.ErrPacketMalformed("icmp", err)
		}
		return buf.Bytes(), nil
	}

	stack, err := ipStack(srcMAC, dstMAC, src, dst, layers.IPProtocolICMPv6, bo)
	if err != nil {
		return nil, err
	}
	icmp6 := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeEchoRequest, 0)}
	echo := &layers.ICMPv6Echo{Identifier: id, SeqNumber: seq}
	if err := icmp6.SetNetworkLayerForChecksum(stack.network); err != nil {
		return nil, errors.ErrPacketMalformed("icmpv6", err)
	}
	layersToSerialize := append(stack.layers, icmp6, echo, gopacket.Payload(payload))
	if err := gopacket.SerializeLayers(buf, sopts, layersToSerialize...); err != nil {
		return nil, errors.ErrPacketMalformed("icmpv6", err)
	}
	return buf.Bytes(), nil
}

type ipStackLayers struct {
	layers  []gopacket.SerializableLayer
	network gopacket.NetworkLayer
}

func ipStack(srcMAC, dstMAC net.HardwareAddr, src, dst netip.Addr, proto layers.IPProtocol, bo BuildOptions) (ipStackLayers, error) {
	var out ipStackLayers

	if srcMAC != nil && dstMAC != nil {
		ethType := layers.EthernetTypeIPv4
		if dst.Is6() {
			ethType = layers.EthernetTypeIPv6
		}
		eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: ethType}
		out.layers = append(out.layers, eth)
	}

	ttl := bo.TTL
	if ttl == 0 {
		ttl = 64
	}

	if src.Is4() {
		ip := &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      ttl,
			Protocol: proto,
			SrcIP:    src.AsSlice(),
			DstIP:    dst.AsSlice(),
			Options:  ipv4Options(bo.IPOptions),
		}
		if bo.DontFragment {
			ip.Flags |= layers.IPv4DontFragment
		}
		out.layers = append(out.layers, ip)
		out.network = ip
		return out, nil
	}

	ip6 := &layers.IPv6{
		Version:    6,
		HopLimit:   ttlOr(ttl, 64),
		NextHeader: proto,
		SrcIP:      src.AsSlice(),
		DstIP:      dst.AsSlice(),
	}
	out.layers = append(out.layers, ip6)
	out.network = ip6
	return out, nil
}

func ttlOr(v, def uint8) uint8 {
	if v == 0 {
		return def
	}
	return v
}

func pick(override, fallback uint16) uint16 {
	if override != 0 {
		return override
	}
	return fallback
}

func ipv4Options(raw []byte) []layers.IPv4Option {
	if len(raw) == 0 {
		return nil
	}
	return []layers.IPv4Option{{OptionType: raw[0], OptionLength: uint8(len(raw)), OptionData: raw[1:]}}
}

// corruptChecksum flips the low bit of the last byte to guarantee an
// invalid checksum for the bad-checksum evasion flag, independent of
// which layer's checksum field that byte belongs to.
func corruptChecksum(b []byte) {
	if len(b) == 0 {
		return
	}
	b[len(b)-1] ^= 0x01
}

// validateTCPOptions enforces the 40-byte options ceiling, counting each
// option as two header bytes plus its data. Alignment to a 4-byte boundary
// is not checked; gopacket's own serializer pads automatically, so this is
// a pre-flight bound check only.
func validateTCPOptions(opts []layers.TCPOption) error {
	total := 0
	for _, o := range opts {
		total += 2 + len(o.OptionData)
	}
	if total > 40 {
		return errors.ErrPacketMalformed("tcp", fmt.Errorf("tcp options length %d exceeds 40 bytes", total))
	}
	return nil
}

// ParsedPacket is the typed record produced by Parse: the layers present
// in a captured frame, decoded without panicking on malformed input.
type ParsedPacket struct {
	Ethernet *layers.Ethernet
	IPv4     *layers.IPv4
	IPv6     *layers.IPv6
	TCP      *layers.TCP
	UDP      *layers.UDP
	ICMPv4   *layers.ICMPv4
	ICMPv6   *layers.ICMPv6
	ARP      *layers.ARP
	Payload  []byte
}

// Parse decodes a captured frame. It never panics: any bounds violation or
// malformed header surfaces as a *errors.PacketError instead. Link type
// selects the first-layer decoder (Ethernet, or raw IP for loopback/tun
// captures).
func Parse(data []byte, linkType gopacket.Decoder) (*ParsedPacket, error) {
	pkt := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{
		Lazy:                     true,
		NoCopy:                   true,
		SkipDecodeRecovery:       false,
		DecodeStreamsAsDatagrams: false,
	})
	if errLayer := pkt.ErrorLayer(); errLayer != nil {
		return nil, errors.ErrPacketMalformed("decode", errLayer)
	}

	out := &ParsedPacket{}
	extHeaders := 0
	for _, l := range pkt.Layers() {
		switch v := l.(type) {
		case *layers.Ethernet:
			out.Ethernet = v
		case *layers.IPv4:
			out.IPv4 = v
		case *layers.IPv6:
			out.IPv6 = v
		case *layers.IPv6HopByHop, *layers.IPv6Routing, *layers.IPv6Fragment, *layers.IPv6Destination:
			extHeaders++
			if extHeaders > maxExtensionHeaders {
				return nil, errors.ErrPacketMalformed("ipv6-ext", fmt.Errorf("extension header chain exceeds %d layers", maxExtensionHeaders))
			}
		case *layers.TCP:
			out.TCP = v
		case *layers.UDP:
			out.UDP = v
		case *layers.ICMPv4:
			out.ICMPv4 = v
		case *layers.ICMPv6:
			out.ICMPv6 = v
		case *layers.ARP:
			out.ARP = v
		}
	}
	if app := pkt.ApplicationLayer(); app != nil {
		out.Payload = app.Payload()
	}
	return out, nil
}
