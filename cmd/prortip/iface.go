package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
)

// ifaceInfo bundles the local network state needed to stamp raw frames:
// the outbound interface, its MAC and source address, and the gateway to
// ARP for when no more specific route exists.
type ifaceInfo struct {
	Name    string
	MAC     net.HardwareAddr
	Addr    netip.Addr
	Gateway netip.Addr
}

// resolveInterface picks ifaceName (or the default route's interface, if
// empty) and returns its addressing details.
func resolveInterface(ifaceName string) (*ifaceInfo, error) {
	if ifaceName == "" {
		gw, dev, err := defaultIPv4Route()
		if err != nil {
			return nil, fmt.Errorf("determine default route: %w", err)
		}
		ifaceName = dev
		info, err := interfaceAddr(ifaceName)
		if err != nil {
			return nil, err
		}
		info.Gateway = gw
		return info, nil
	}

	info, err := interfaceAddr(ifaceName)
	if err != nil {
		return nil, err
	}
	gw, dev, err := defaultIPv4Route()
	if err == nil && dev == ifaceName {
		info.Gateway = gw
	}
	return info, nil
}

func interfaceAddr(name string) (*ifaceInfo, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("lookup interface %q: %w", name, err)
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, fmt.Errorf("addrs for %q: %w", name, err)
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(ipNet.IP.To4())
		if !ok {
			continue
		}
		return &ifaceInfo{Name: name, MAC: ifi.HardwareAddr, Addr: addr}, nil
	}
	return nil, fmt.Errorf("interface %q has no IPv4 address", name)
}

// defaultIPv4Route reads the kernel routing table to find the gateway and
// device for the default (0.0.0.0/0) route. Linux-specific: /proc/net/route
// has no portable stdlib or third-party equivalent in the ecosystem this
// scanner draws on, so this is one of the few places that goes straight to
// the kernel interface rather than through a library.
func defaultIPv4Route() (netip.Addr, string, error) {
	f, err := os.Open("/proc/net/route")
	if err != nil {
		return netip.Addr{}, "", fmt.Errorf("open route table: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Scan() // header line
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 8 {
			continue
		}
		dev, destHex, gwHex, flagsHex := fields[0], fields[1], fields[2], fields[3]

		dest, err := strconv.ParseUint(destHex, 16, 32)
		if err != nil || dest != 0 {
			continue
		}
		flags, err := strconv.ParseUint(flagsHex, 16, 16)
		if err != nil || flags&0x2 == 0 { // RTF_GATEWAY
			continue
		}
		gwRaw, err := strconv.ParseUint(gwHex, 16, 32)
		if err != nil {
			continue
		}
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(gwRaw))
		return netip.AddrFrom4(b), dev, nil
	}
	return netip.Addr{}, "", fmt.Errorf("no default route found")
}
