package packet

import (
	"crypto/rand"
	"fmt"
	"net"
	"sort"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/doublegate/prort-ip/internal/errors"
)

// FragmentIPv4 splits a built Ethernet/IPv4 frame into a chain of
// MF/offset-chained IPv4 fragments per RFC 791, each non-final fragment
// carrying exactly mtu bytes of IP payload and the final fragment the
// remainder. mtu must be a positive
// multiple of 8, since the fragment offset field counts in 8-byte units.
// fragmented is false (with a nil error) when frame isn't IPv4 or its
// payload already fits within mtu — callers should send frame unchanged
// in that case. IP options are dropped when fragmenting: combining
// -f/-ff/--mtu with custom IP options isn't supported.
func FragmentIPv4(frame []byte, mtu int) (fragments [][]byte, fragmented bool, err error) {
	if mtu <= 0 || mtu%8 != 0 {
		return nil, false, errors.ErrPacketMalformed("fragment", fmt.Errorf("mtu %d must be a positive multiple of 8", mtu))
	}

	pp, err := Parse(frame, layers.LayerTypeEthernet)
	if err != nil {
		return nil, false, err
	}
	if pp.IPv4 == nil {
		return nil, false, nil
	}
	payload := pp.IPv4.Payload
	if len(payload) <= mtu {
		return nil, false, nil
	}

	id := pp.IPv4.Id
	if id == 0 {
		id = randomFragmentID()
	}

	hasEth := pp.Ethernet != nil
	var ethSrc, ethDst net.HardwareAddr
	var ethType layers.EthernetType
	if hasEth {
		ethSrc, ethDst, ethType = pp.Ethernet.SrcMAC, pp.Ethernet.DstMAC, pp.Ethernet.EthernetType
	}

	for off := 0; off < len(payload); off += mtu {
		end := off + mtu
		last := end >= len(payload)
		if last {
			end = len(payload)
		}
		chunk := payload[off:end]

		ip := &layers.IPv4{
			Version:    4,
			IHL:        5,
			TTL:        pp.IPv4.TTL,
			Id:         id,
			Protocol:   pp.IPv4.Protocol,
			SrcIP:      pp.IPv4.SrcIP,
			DstIP:      pp.IPv4.DstIP,
			FragOffset: uint16(off / 8),
		}
		if !last {
			ip.Flags = layers.IPv4MoreFragments
		}

		buf := gopacket.NewSerializeBuffer()
		sopts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}

		var toSerialize []gopacket.SerializableLayer
		if hasEth {
			toSerialize = append(toSerialize, &layers.Ethernet{SrcMAC: ethSrc, DstMAC: ethDst, EthernetType: ethType})
		}
		toSerialize = append(toSerialize, ip, gopacket.Payload(chunk))

		if err := gopacket.SerializeLayers(buf, sopts, toSerialize...); err != nil {
			return nil, false, errors.ErrPacketMalformed("fragment", err)
		}
		out := make([]byte, len(buf.Bytes()))
		copy(out, buf.Bytes())
		fragments = append(fragments, out)
	}

	return fragments, true, nil
}

// ReassembleIPv4 reconstructs the original IPv4 payload from a set of
// fragments sharing one IP Id, verifying there are no gaps and exactly one
// final (non-MF) fragment. Used by the fragmenter's own bit-exact
// reassembly test; the scheduler doesn't reassemble incoming replies since
// probe responses aren't expected to arrive fragmented.
func ReassembleIPv4(fragments [][]byte) ([]byte, error) {
	type piece struct {
		offset int
		data   []byte
	}

	var pieces []piece
	haveFinal := false
	var id uint16
	for i, f := range fragments {
		pp, err := Parse(f, layers.LayerTypeEthernet)
		if err != nil {
			return nil, err
		}
		if pp.IPv4 == nil {
			return nil, errors.ErrPacketMalformed("reassemble", fmt.Errorf("fragment %d is not IPv4", i))
		}
		if i == 0 {
			id = pp.IPv4.Id
		} else if pp.IPv4.Id != id {
			return nil, errors.ErrPacketMalformed("reassemble", fmt.Errorf("fragment %d carries a different IP id", i))
		}
		off := int(pp.IPv4.FragOffset) * 8
		pieces = append(pieces, piece{offset: off, data: pp.IPv4.Payload})
		if pp.IPv4.Flags&layers.IPv4MoreFragments == 0 {
			haveFinal = true
		}
	}
	if !haveFinal {
		return nil, errors.ErrPacketMalformed("reassemble", fmt.Errorf("fragment chain has no final fragment"))
	}

	sort.Slice(pieces, func(i, j int) bool { return pieces[i].offset < pieces[j].offset })

	var out []byte
	next := 0
	for _, p := range pieces {
		if p.offset != next {
			return nil, errors.ErrPacketMalformed("reassemble", fmt.Errorf("fragment gap at offset %d", p.offset))
		}
		out = append(out, p.data...)
		next += len(p.data)
	}
	return out, nil
}

func randomFragmentID() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 1
	}
	return uint16(b[0])<<8 | uint16(b[1])
}
