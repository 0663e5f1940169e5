package packet

import (
	"github.com/miekg/dns"
)

// UDPProbePayload returns the protocol-appropriate payload for a UDP probe
// to a well-known port, or nil if the port has no specific payload (the
// stateful UDP engine then sends an empty datagram).
func UDPProbePayload(port uint16) []byte {
	switch port {
	case 53:
		return dnsStatusQuery()
	case 161:
		return snmpGetRequest()
	case 123:
		return ntpClientRequest()
	case 137:
		return netbiosNameQuery()
	case 500:
		return ikeSAInit()
	case 1900:
		return ssdpDiscover()
	case 5353:
		return mdnsQuery()
	default:
		return nil
	}
}

// dnsStatusQuery builds a minimal DNS status query, eliciting a reply from
// any listening resolver regardless of zone content.
func dnsStatusQuery() []byte {
	msg := new(dns.Msg)
	msg.SetQuestion(".", dns.TypeNS)
	msg.Opcode = dns.OpcodeStatus
	msg.RecursionDesired = false
	buf, err := msg.Pack()
	if err != nil {
		return nil
	}
	return buf
}

// snmpGetRequest is a raw SNMPv1 GetRequest for sysDescr.0 under the
// "public" community, encoded directly since building it requires a live
// gosnmp.Client rather than a standalone encoder.
func snmpGetRequest() []byte {
	return []byte{
		0x30, 0x26, 0x02, 0x01, 0x00, 0x04, 0x06, 'p', 'u', 'b', 'l', 'i', 'c',
		0xa0, 0x19, 0x02, 0x01, 0x01, 0x02, 0x01, 0x00, 0x02, 0x01, 0x00,
		0x30, 0x0e, 0x30, 0x0c, 0x06, 0x08, 0x2b, 0x06, 0x01, 0x02, 0x01, 0x01,
		0x01, 0x00, 0x05, 0x00,
	}
}

func ntpClientRequest() []byte {
	req := make([]byte, 48)
	req[0] = 0x1b // LI=0, VN=3, Mode=3 (client)
	return req
}

func netbiosNameQuery() []byte {
	return []byte{
		0x80, 0xf0, 0x00, 0x10, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x20, 'C', 'K', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A',
		'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A',
		'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A', 0x00, 0x00, 0x21, 0x00, 0x01,
	}
}

func ikeSAInit() []byte {
	hdr := make([]byte, 28)
	hdr[18] = 0x21 // next payload: SA
	hdr[19] = 0x20 // version 2.0
	hdr[20] = 34   // exchange type: IKE_SA_INIT
	return hdr
}

func ssdpDiscover() []byte {
	return []byte("M-SEARCH * HTTP/1.1\r\nHOST: 239.255.255.250:1900\r\nMAN: \"ssdp:discover\"\r\nMX: 1\r\nST: ssdp:all\r\n\r\n")
}

func mdnsQuery() []byte {
	msg := new(dns.Msg)
	msg.SetQuestion("_services._dns-sd._udp.local.", dns.TypePTR)
	buf, err := msg.Pack()
	if err != nil {
		return nil
	}
	return buf
}
