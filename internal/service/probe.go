package service

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	zx509 "github.com/zmap/zcrypto/x509"
)

// bannerWait is how long a connection is held open with no probe sent,
// waiting for a self-announcing service (e.g. SSH, FTP, SMTP) to speak first.
const bannerWait = 3 * time.Second

// tlsPorts are probed with a TLS ClientHello before falling back to plain
// TCP, matching §4.10's "TLS-candidate ports" handshake step.
var tlsPorts = map[uint16]bool{443: true, 8443: true, 993: true, 995: true, 465: true, 636: true}

// Conn is a connected, protocol-agnostic transport: either a plain TCP
// socket or one wrapped in a completed TLS handshake.
type Conn struct {
	net.Conn
	TLSCert *zx509.Certificate // nil unless the connection negotiated TLS
}

// dial establishes a TCP connection to addr, upgrading to TLS first for
// ports listed in tlsPorts (certificate validation intentionally
// bypassed: the goal is enumeration, not trust validation).
func dial(ctx context.Context, addr string, port uint16, sni string) (*Conn, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if !tlsPorts[port] {
		return &Conn{Conn: conn}, nil
	}

	tlsConn := tls.Client(conn, &tls.Config{InsecureSkipVerify: true, ServerName: sni})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		// fall back to plaintext on a fresh TCP connection
		plain, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return &Conn{Conn: plain}, nil
	}

	var cert *zx509.Certificate
	if state := tlsConn.ConnectionState(); len(state.PeerCertificates) > 0 {
		if parsed, err := zx509.ParseCertificate(state.PeerCertificates[0].Raw); err == nil {
			cert = parsed
		}
	}
	return &Conn{Conn: tlsConn, TLSCert: cert}, nil
}

// readBanner waits up to bannerWait for unsolicited data, matching step 2
// of §4.10 ("if the service is self-announcing, read the initial banner").
func readBanner(conn net.Conn) ([]byte, error) {
	_ = conn.SetReadDeadline(time.Now().Add(bannerWait))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// sendProbe writes payload and reads the response, matching step 3
// ("send each payload and match response").
func sendProbe(conn net.Conn, payload []byte, timeout time.Duration) ([]byte, error) {
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	if _, err := conn.Write(payload); err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// dnsVersionProbe sends a CHAOS-class "version.bind" TXT query, the
// standard way to elicit a DNS server's version string over UDP port 53.
func dnsVersionProbe(ctx context.Context, addr string) ([]byte, error) {
	m := new(dns.Msg)
	m.SetQuestion("version.bind.", dns.TypeTXT)
	m.Question[0].Qclass = dns.ClassCHAOS

	c := new(dns.Client)
	c.Timeout = bannerWait
	resp, _, err := c.ExchangeContext(ctx, m, addr)
	if err != nil {
		return nil, err
	}
	if len(resp.Answer) == 0 {
		return nil, fmt.Errorf("service: no answer to version.bind query")
	}
	return []byte(resp.Answer[0].String()), nil
}
