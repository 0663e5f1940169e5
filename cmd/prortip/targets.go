package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/doublegate/prort-ip/internal/scanning"
)

// expandTargets turns a comma-separated spec into a deduplicated address
// list. Each comma-separated entry is one of: a single IP, a CIDR block, an
// inclusive dotted-range ("10.0.0.1-10.0.0.20" or "10.0.0.1-20"), a
// hostname (resolved via the system resolver), or "@path" naming a file of
// one spec per line.
func expandTargets(ctx context.Context, spec string) ([]netip.Addr, error) {
	var out []netip.Addr
	seen := make(map[netip.Addr]bool)
	add := func(addrs []netip.Addr) {
		for _, a := range addrs {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}

	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.HasPrefix(entry, "@") {
			lines, err := readTargetFile(entry[1:])
			if err != nil {
				return nil, err
			}
			for _, line := range lines {
				addrs, err := expandOne(ctx, line)
				if err != nil {
					return nil, err
				}
				add(addrs)
			}
			continue
		}
		addrs, err := expandOne(ctx, entry)
		if err != nil {
			return nil, err
		}
		add(addrs)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no targets resolved from %q", spec)
	}
	return out, nil
}

func readTargetFile(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied target list path
	if err != nil {
		return nil, fmt.Errorf("read target file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

func expandOne(ctx context.Context, entry string) ([]netip.Addr, error) {
	if prefix, err := netip.ParsePrefix(entry); err == nil {
		return expandCIDR(prefix), nil
	}
	if addr, err := netip.ParseAddr(entry); err == nil {
		return []netip.Addr{addr}, nil
	}
	if strings.Contains(entry, "-") {
		return expandRange(entry)
	}
	return resolveHostname(ctx, entry)
}

// expandCIDR enumerates every address in prefix, including network and
// broadcast addresses — this scanner makes no policy judgment about which
// hosts in a block are scannable, only the caller's target spec does.
func expandCIDR(prefix netip.Prefix) []netip.Addr {
	var addrs []netip.Addr
	addr := prefix.Masked().Addr()
	for prefix.Contains(addr) {
		addrs = append(addrs, addr)
		addr = addr.Next()
		if !addr.IsValid() {
			break
		}
	}
	return addrs
}

// expandRange handles "a.b.c.d-w.x.y.z" and the shorthand "a.b.c.d-N" where
// N replaces only the last octet.
func expandRange(entry string) ([]netip.Addr, error) {
	parts := strings.SplitN(entry, "-", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid range %q", entry)
	}
	start, err := netip.ParseAddr(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("invalid range start %q: %w", parts[0], err)
	}

	endStr := strings.TrimSpace(parts[1])
	var end netip.Addr
	if lastOctet, err := strconv.Atoi(endStr); err == nil && start.Is4() {
		octets := start.As4()
		octets[3] = byte(lastOctet)
		end = netip.AddrFrom4(octets)
	} else {
		end, err = netip.ParseAddr(endStr)
		if err != nil {
			return nil, fmt.Errorf("invalid range end %q: %w", parts[1], err)
		}
	}

	var addrs []netip.Addr
	for addr := start; addr.Compare(end) <= 0; addr = addr.Next() {
		addrs = append(addrs, addr)
		if !addr.IsValid() || len(addrs) > 1<<20 {
			break
		}
	}
	return addrs, nil
}

func resolveHostname(ctx context.Context, host string) ([]netip.Addr, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", host, err)
	}
	var addrs []netip.Addr
	for _, ip := range ips {
		if a, ok := netip.AddrFromSlice(ip); ok {
			addrs = append(addrs, a.Unmap())
		}
	}
	return addrs, nil
}

// parsePortSpec parses "80,443" / "1-1000" / "22,80,1000-2000" into a
// scanning.PortSpec.
func parsePortSpec(spec string) (*scanning.PortSpec, error) {
	var ranges []scanning.PortRange
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			bounds := strings.SplitN(part, "-", 2)
			if len(bounds) != 2 {
				return nil, fmt.Errorf("invalid port range %q", part)
			}
			start, err := parsePort(bounds[0])
			if err != nil {
				return nil, err
			}
			end, err := parsePort(bounds[1])
			if err != nil {
				return nil, err
			}
			ranges = append(ranges, scanning.PortRange{Start: start, End: end})
			continue
		}
		p, err := parsePort(part)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, scanning.PortRange{Start: p, End: p})
	}
	return scanning.NewPortSpec(ranges...)
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint16(n), nil
}
