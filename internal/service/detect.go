package service

import (
	"context"
	"net"
	"net/netip"
	"strconv"

	"github.com/doublegate/prort-ip/internal/scanning"
)

// Detector runs the service-detection algorithm from §4.10 against one
// open TCP or UDP port: connect (optionally TLS), banner-wait, then
// intensity-gated probes in rarity order, matched against db.
type Detector struct {
	db *Database
}

// NewDetector creates a Detector against an immutable, already-built
// Database.
func NewDetector(db *Database) *Detector {
	return &Detector{db: db}
}

// Result is the outcome of one Detect call: the best service match found
// (if any), the raw banner/probe response bytes, and the peer TLS
// certificate's subject CN (if a TLS handshake completed).
type Result struct {
	Match      *scanning.ServiceMatch
	Banner     string
	TLSSubject string
}

// Detect implements §4.10 steps 1-5 against addr:port. sni names the
// hostname to present for TLS-candidate ports; it falls back to the
// address literal when empty.
func (d *Detector) Detect(ctx context.Context, addr netip.Addr, port uint16, protocol scanning.Protocol, intensity int, sni string) (Result, error) {
	if protocol == scanning.ProtocolUDP {
		return d.detectUDP(ctx, addr, port, intensity)
	}
	return d.detectTCP(ctx, addr, port, intensity, sni)
}

func (d *Detector) detectTCP(ctx context.Context, addr netip.Addr, port uint16, intensity int, sni string) (Result, error) {
	if sni == "" {
		sni = addr.String()
	}
	hostport := net.JoinHostPort(addr.String(), strconv.Itoa(int(port)))

	conn, err := dial(ctx, hostport, port, sni)
	if err != nil {
		return Result{}, err
	}
	defer conn.Close()

	var res Result
	if conn.TLSCert != nil {
		res.TLSSubject = conn.TLSCert.Subject.CommonName
	}

	if banner, err := readBanner(conn); err == nil && len(banner) > 0 {
		res.Banner = string(banner)
		if m, ok := d.db.matchBanner(port, banner); ok {
			res.Match = &m
			return res, nil
		}
	}

	for _, sig := range d.db.ProbesForPort(port, intensity) {
		if len(sig.Probe) == 0 {
			continue // banner-wait already attempted above
		}
		resp, err := sendProbe(conn, sig.Probe, bannerWait)
		if err != nil {
			continue
		}
		if m, ok := d.db.matchBanner(port, resp); ok {
			res.Banner = string(resp)
			res.Match = &m
			return res, nil
		}
	}
	return res, nil
}

func (d *Detector) detectUDP(ctx context.Context, addr netip.Addr, port uint16, intensity int) (Result, error) {
	var data []byte
	var err error

	switch port {
	case 53:
		data, err = dnsVersionProbe(ctx, net.JoinHostPort(addr.String(), "53"))
	case 161:
		data, err = snmpProbe(ctx, addr.String(), port)
	default:
		return d.detectUDPGeneric(addr, port, intensity)
	}
	if err != nil {
		return Result{}, err
	}

	res := Result{Banner: string(data)}
	if m, ok := d.db.matchBanner(port, data); ok {
		res.Match = &m
	}
	return res, nil
}

func (d *Detector) detectUDPGeneric(addr netip.Addr, port uint16, intensity int) (Result, error) {
	conn, err := net.Dial("udp", net.JoinHostPort(addr.String(), strconv.Itoa(int(port))))
	if err != nil {
		return Result{}, err
	}
	defer conn.Close()

	var res Result
	for _, sig := range d.db.ProbesForPort(port, intensity) {
		if len(sig.Probe) == 0 {
			continue
		}
		resp, err := sendProbe(conn, sig.Probe, bannerWait)
		if err != nil {
			continue
		}
		res.Banner = string(resp)
		if m, ok := d.db.matchBanner(port, resp); ok {
			res.Match = &m
			return res, nil
		}
	}
	return res, nil
}
