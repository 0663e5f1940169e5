package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// NetworkAddr wraps net.IPNet to implement PostgreSQL CIDR type.
type NetworkAddr struct {
	net.IPNet
}

// Scan implements sql.Scanner for PostgreSQL CIDR type.
func (n *NetworkAddr) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case string:
		_, ipnet, err := net.ParseCIDR(v)
		if err != nil {
			return fmt.Errorf("failed to parse CIDR: %w", err)
		}
		n.IPNet = *ipnet
		return nil
	case []byte:
		_, ipnet, err := net.ParseCIDR(string(v))
		if err != nil {
			return fmt.Errorf("failed to parse CIDR: %w", err)
		}
		n.IPNet = *ipnet
		return nil
	default:
		return fmt.Errorf("cannot scan %T into NetworkAddr", value)
	}
}

// Value implements driver.Valuer for PostgreSQL CIDR type.
func (n NetworkAddr) Value() (driver.Value, error) {
	if len(n.IP) == 0 {
		return nil, nil
	}
	return n.IPNet.String(), nil
}

// String returns the CIDR notation string.
func (n NetworkAddr) String() string {
	return n.IPNet.String()
}

// IPAddr wraps net.IP to implement PostgreSQL INET type.
type IPAddr struct {
	net.IP
}

// Scan implements sql.Scanner for PostgreSQL INET type.
func (ip *IPAddr) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case string:
		parsed := net.ParseIP(v)
		if parsed == nil {
			return fmt.Errorf("failed to parse IP address: %s", v)
		}
		ip.IP = parsed
		return nil
	case []byte:
		parsed := net.ParseIP(string(v))
		if parsed == nil {
			return fmt.Errorf("failed to parse IP address: %s", string(v))
		}
		ip.IP = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into IPAddr", value)
	}
}

// Value implements driver.Valuer for PostgreSQL INET type.
func (ip IPAddr) Value() (driver.Value, error) {
	if ip.IP == nil {
		return nil, nil
	}
	return ip.IP.String(), nil
}

// String returns the IP address string.
func (ip IPAddr) String() string {
	if ip.IP == nil {
		return ""
	}
	return ip.IP.String()
}

// MACAddr wraps net.HardwareAddr to implement PostgreSQL MACADDR type.
type MACAddr struct {
	net.HardwareAddr
}

// Scan implements sql.Scanner for PostgreSQL MACADDR type.
func (mac *MACAddr) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case string:
		hw, err := net.ParseMAC(v)
		if err != nil {
			return fmt.Errorf("failed to parse MAC address: %w", err)
		}
		mac.HardwareAddr = hw
		return nil
	case []byte:
		hw, err := net.ParseMAC(string(v))
		if err != nil {
			return fmt.Errorf("failed to parse MAC address: %w", err)
		}
		mac.HardwareAddr = hw
		return nil
	default:
		return fmt.Errorf("cannot scan %T into MACAddr", value)
	}
}

// Value implements driver.Valuer for PostgreSQL MACADDR type.
func (mac MACAddr) Value() (driver.Value, error) {
	if mac.HardwareAddr == nil {
		return nil, nil
	}
	return mac.HardwareAddr.String(), nil
}

// String returns the MAC address string.
func (mac MACAddr) String() string {
	if mac.HardwareAddr == nil {
		return ""
	}
	return mac.HardwareAddr.String()
}

// JSONB wraps json.RawMessage for PostgreSQL JSONB type.
type JSONB json.RawMessage

// Scan implements sql.Scanner for PostgreSQL JSONB type.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = JSONB(v)
		return nil
	case string:
		*j = JSONB([]byte(v))
		return nil
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}

// Value implements driver.Valuer for PostgreSQL JSONB type.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// String returns the JSON string.
func (j JSONB) String() string {
	return string(j)
}

// MarshalJSON implements json.Marshaler.
func (j JSONB) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (j *JSONB) UnmarshalJSON(data []byte) error {
	*j = JSONB(data)
	return nil
}

// Scan represents one invocation of the scanning core, the parent row for
// every PortResult it produced. Additive-only migrations: new columns are
// nullable, nothing is renamed in place.
type Scan struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	TargetSpec     string     `db:"target_spec" json:"target_spec"`
	PortSpec       string     `db:"port_spec" json:"port_spec"`
	ScanKind       string     `db:"scan_kind" json:"scan_kind"`
	StartedAt      time.Time  `db:"started_at" json:"started_at"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ProbesSent     int64      `db:"probes_sent" json:"probes_sent"`
	RepliesRecv    int64      `db:"replies_received" json:"replies_received"`
	PacketsDropped int64      `db:"packets_dropped" json:"packets_dropped"`
	AvgRTTMillis   *float64   `db:"avg_rtt_ms" json:"avg_rtt_ms,omitempty"`
	CircuitTrips   int        `db:"circuit_trips" json:"circuit_trips"`
}

// PortResult is one terminal ScanResult persisted for a (host, port,
// protocol) task: scan-id, host, port, protocol, state, reason, rtt,
// service-name, service-product, service-version, banner, detected-at.
type PortResult struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ScanID         uuid.UUID `db:"scan_id" json:"scan_id"`
	Host           IPAddr    `db:"host" json:"host"`
	Port           int       `db:"port" json:"port"`
	Protocol       string    `db:"protocol" json:"protocol"`
	State          string    `db:"state" json:"state"`
	Reason         string    `db:"reason" json:"reason"`
	RTTMicros      *int64    `db:"rtt_us" json:"rtt_us,omitempty"`
	ServiceName    *string   `db:"service_name" json:"service_name,omitempty"`
	ServiceProduct *string   `db:"service_product" json:"service_product,omitempty"`
	ServiceVersion *string   `db:"service_version" json:"service_version,omitempty"`
	Banner         *string   `db:"banner" json:"banner,omitempty"`
	DetectedAt     time.Time `db:"detected_at" json:"detected_at"`
}

// HostOSGuess is one ranked OS fingerprint match persisted against a scan's
// host, independent of the per-port result rows.
type HostOSGuess struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ScanID     uuid.UUID `db:"scan_id" json:"scan_id"`
	Host       IPAddr    `db:"host" json:"host"`
	Family     string    `db:"family" json:"family"`
	Name       string    `db:"name" json:"name"`
	Confidence int       `db:"confidence" json:"confidence"`
	Details    JSONB     `db:"details" json:"details,omitempty"`
	DetectedAt time.Time `db:"detected_at" json:"detected_at"`
}

// PortState constants, the six terminal states a port task can reach;
// transitions into these are monotonic, never regressing to a weaker state.
const (
	PortStateOpen           = "open"
	PortStateClosed         = "closed"
	PortStateFiltered       = "filtered"
	PortStateUnfiltered     = "unfiltered"
	PortStateOpenFiltered   = "open|filtered"
	PortStateClosedFiltered = "closed|filtered"
)

// Protocol constants.
const (
	ProtocolTCP  = "tcp"
	ProtocolUDP  = "udp"
	ProtocolICMP = "icmp"
)

// ScanKind constants, one per engine.
const (
	ScanKindSYN     = "syn"
	ScanKindConnect = "connect"
	ScanKindUDP     = "udp"
	ScanKindFIN     = "fin"
	ScanKindNULL    = "null"
	ScanKindXmas    = "xmas"
	ScanKindACK     = "ack"
	ScanKindWindow  = "window"
	ScanKindIdle    = "idle"
)

// Reason constants, the common cases of "every terminal port state carries
// a reason." Engines may produce others (e.g. "icmp-unreachable(3,3)") that
// do not need a named constant here.
const (
	ReasonSynAck      = "syn-ack"
	ReasonReset       = "reset"
	ReasonNoResponse  = "no-response"
	ReasonHostDown    = "host-down"
	ReasonAdminProhib = "admin-prohibited"
	ReasonPortUnreach = "port-unreachable"
)
