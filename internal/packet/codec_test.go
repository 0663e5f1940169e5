package packet

import (
	"net/netip"
	"testing"

	"github.com/google/gopacket/layers"
)

func TestBuildTCPRoundTrip(t *testing.T) {
	src := netip.MustParseAddr("192.0.2.10")
	dst := netip.MustParseAddr("192.0.2.20")

	frame, err := BuildTCP(nil, nil, src, dst, 40000, 443, 12345, 0, TCPFlags{SYN: true}, 1024, nil, nil, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := Parse(frame, layers.LayerTypeIPv4)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.TCP == nil {
		t.Fatal("expected a parsed TCP layer")
	}
	if !parsed.TCP.SYN || parsed.TCP.ACK {
		t.Fatal("expected SYN set and ACK clear")
	}
	if uint16(parsed.TCP.SrcPort) != 40000 || uint16(parsed.TCP.DstPort) != 443 {
		t.Fatalf("unexpected ports: %d -> %d", parsed.TCP.SrcPort, parsed.TCP.DstPort)
	}
	if parsed.IPv4 == nil || !netipFromBytes(parsed.IPv4.SrcIP).Is4() {
		t.Fatal("expected a parsed IPv4 layer")
	}
}

func TestBuildTCPRejectsAddressFamilyMismatch(t *testing.T) {
	src := netip.MustParseAddr("192.0.2.10")
	dst := netip.MustParseAddr("2001:db8::1")
	if _, err := BuildTCP(nil, nil, src, dst, 1, 2, 0, 0, TCPFlags{}, 0, nil, nil, BuildOptions{}); err == nil {
		t.Fatal("expected error for mixed address families")
	}
}

func TestValidateTCPOptionsRejectsOverLength(t *testing.T) {
	big := make([]layers.TCPOption, 0)
	for i := 0; i < 10; i++ {
		big = append(big, layers.TCPOption{OptionType: layers.TCPOptionKindNop, OptionData: make([]byte, 6)})
	}
	if err := validateTCPOptions(big); err == nil {
		t.Fatal("expected error exceeding 40-byte options ceiling")
	}
}

func TestBuildUDPRoundTrip(t *testing.T) {
	src := netip.MustParseAddr("192.0.2.10")
	dst := netip.MustParseAddr("192.0.2.20")
	frame, err := BuildUDP(nil, nil, src, dst, 5000, 53, []byte("x"), BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := Parse(frame, layers.LayerTypeIPv4)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.UDP == nil || uint16(parsed.UDP.DstPort) != 53 {
		t.Fatal("expected parsed UDP layer targeting port 53")
	}
}

func TestBuildICMPEchoV4(t *testing.T) {
	src := netip.MustParseAddr("192.0.2.10")
	dst := netip.MustParseAddr("192.0.2.20")
	frame, err := BuildICMPEcho(nil, nil, src, dst, 1, 1, nil, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := Parse(frame, layers.LayerTypeIPv4)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.ICMPv4 == nil {
		t.Fatal("expected parsed ICMPv4 layer")
	}
}

func TestBadChecksumCorruptsFrame(t *testing.T) {
	src := netip.MustParseAddr("192.0.2.10")
	dst := netip.MustParseAddr("192.0.2.20")
	good, _ := BuildTCP(nil, nil, src, dst, 1, 2, 0, 0, TCPFlags{SYN: true}, 1024, nil, nil, BuildOptions{})
	bad, _ := BuildTCP(nil, nil, src, dst, 1, 2, 0, 0, TCPFlags{SYN: true}, 1024, nil, nil, BuildOptions{BadChecksum: true})
	if string(good) == string(bad) {
		t.Fatal("expected bad-checksum frame to differ from the clean one")
	}
}

func TestParseMalformedDoesNotPanic(t *testing.T) {
	_, _ = Parse([]byte{0x45, 0x00, 0x00}, layers.LayerTypeIPv4)
}

func netipFromBytes(b []byte) netip.Addr {
	addr, _ := netip.AddrFromSlice(b)
	return addr.Unmap()
}
