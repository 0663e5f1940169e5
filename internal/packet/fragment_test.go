package packet

import (
	"bytes"
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket/layers"
)

func testMACs() (net.HardwareAddr, net.HardwareAddr) {
	return net.HardwareAddr{0x02, 0, 0, 0, 0, 1}, net.HardwareAddr{0x02, 0, 0, 0, 0, 2}
}

// TestFragmentReassembleBitExact pins §8's fragmentation property: for any
// payload and any mtu >= 8 that forces fragmentation, reassembling the
// emitted fragments reproduces the exact original IP payload bytes.
func TestFragmentReassembleBitExact(t *testing.T) {
	srcMAC, dstMAC := testMACs()
	src := netip.MustParseAddr("192.0.2.10")
	dst := netip.MustParseAddr("192.0.2.20")

	payload := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF, 0x01}, 37) // 148 bytes, not a multiple of 8
	frame, err := BuildTCP(srcMAC, dstMAC, src, dst, 40000, 443, 1, 0, TCPFlags{SYN: true}, 1024, nil, payload, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	original, err := Parse(frame, layers.LayerTypeEthernet)
	if err != nil {
		t.Fatal(err)
	}
	wantPayload := append([]byte(nil), original.IPv4.Payload...)

	for _, mtu := range []int{8, 16, 24, 40, 64} {
		frags, fragmented, err := FragmentIPv4(frame, mtu)
		if err != nil {
			t.Fatalf("mtu=%d: %v", mtu, err)
		}
		if !fragmented {
			t.Fatalf("mtu=%d: expected fragmentation for a %d-byte payload", mtu, len(wantPayload))
		}
		if len(frags) < 2 {
			t.Fatalf("mtu=%d: expected at least 2 fragments, got %d", mtu, len(frags))
		}

		got, err := ReassembleIPv4(frags)
		if err != nil {
			t.Fatalf("mtu=%d: reassemble: %v", mtu, err)
		}
		if !bytes.Equal(got, wantPayload) {
			t.Fatalf("mtu=%d: reassembled payload mismatch\nwant %x\ngot  %x", mtu, wantPayload, got)
		}

		for i, frag := range frags {
			if i == len(frags)-1 {
				continue
			}
			fp, err := Parse(frag, layers.LayerTypeEthernet)
			if err != nil {
				t.Fatal(err)
			}
			if len(fp.IPv4.Payload)%8 != 0 {
				t.Fatalf("mtu=%d: non-final fragment %d has length %d, not a multiple of 8", mtu, i, len(fp.IPv4.Payload))
			}
		}
	}
}

func TestFragmentSkipsSmallPayload(t *testing.T) {
	srcMAC, dstMAC := testMACs()
	src := netip.MustParseAddr("192.0.2.10")
	dst := netip.MustParseAddr("192.0.2.20")

	frame, err := BuildTCP(srcMAC, dstMAC, src, dst, 40000, 443, 1, 0, TCPFlags{SYN: true}, 1024, nil, nil, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	frags, fragmented, err := FragmentIPv4(frame, 1500)
	if err != nil {
		t.Fatal(err)
	}
	if fragmented || frags != nil {
		t.Fatal("expected no fragmentation when payload already fits within mtu")
	}
}

func TestFragmentRejectsNonMultipleOfEightMTU(t *testing.T) {
	if _, _, err := FragmentIPv4([]byte{}, 10); err == nil {
		t.Fatal("expected an error for a non-multiple-of-8 mtu")
	}
}
