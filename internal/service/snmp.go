package service

import (
	"context"
	"fmt"

	"github.com/gosnmp/gosnmp"
)

// sysDescrOID is the MIB-II system description object, supported by
// virtually every SNMP agent and a reliable version-banner source.
const sysDescrOID = "1.3.6.1.2.1.1.1.0"

// snmpProbe queries sysDescr over SNMPv2c with the "public" community,
// the standard zero-configuration probe for UDP port 161.
func snmpProbe(ctx context.Context, host string, port uint16) ([]byte, error) {
	params := &gosnmp.GoSNMP{
		Target:    host,
		Port:      port,
		Community: "public",
		Version:   gosnmp.Version2c,
		Timeout:   bannerWait,
		Retries:   0,
		Transport: "udp",
	}
	if err := params.Connect(); err != nil {
		return nil, err
	}
	defer params.Conn.Close()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	result, err := params.Get([]string{sysDescrOID})
	if err != nil {
		return nil, err
	}
	if len(result.Variables) == 0 {
		return nil, fmt.Errorf("service: snmp: empty response")
	}
	v := result.Variables[0]
	if b, ok := v.Value.([]byte); ok {
		return b, nil
	}
	return []byte(fmt.Sprintf("%v", v.Value)), nil
}
