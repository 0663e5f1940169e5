// Package errors provides structured error handling for scanner operations.
// It defines error codes, error types, and provides utilities for creating
// and handling errors with context and structured information.
package errors

import (
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodePermission    ErrorCode = "PERMISSION"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeConflict      ErrorCode = "CONFLICT"
	CodeResource      ErrorCode = "RESOURCE"

	// Network and scanning errors.
	CodeNetworkUnreachable ErrorCode = "NETWORK_UNREACHABLE"
	CodeHostUnreachable    ErrorCode = "HOST_UNREACHABLE"
	CodePortClosed         ErrorCode = "PORT_CLOSED"
	CodeScanFailed         ErrorCode = "SCAN_FAILED"
	CodeDiscoveryFailed    ErrorCode = "DISCOVERY_FAILED"
	CodeTargetInvalid      ErrorCode = "TARGET_INVALID"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"
	CodeDatabaseTimeout    ErrorCode = "DATABASE_TIMEOUT"

	// File system errors.
	CodeFileNotFound    ErrorCode = "FILE_NOT_FOUND"
	CodeFilePermission  ErrorCode = "FILE_PERMISSION"
	CodeDirectoryCreate ErrorCode = "DIRECTORY_CREATE"

	// Service errors.
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeServiceTimeout     ErrorCode = "SERVICE_TIMEOUT"
	CodeRateLimited        ErrorCode = "RATE_LIMITED"

	// Packet codec errors.
	CodePacketMalformed ErrorCode = "PACKET_MALFORMED"
	CodePacketTruncated ErrorCode = "PACKET_TRUNCATED"
	CodeChecksumInvalid ErrorCode = "CHECKSUM_INVALID"

	// Capture I/O errors.
	CodeCaptureUnavailable ErrorCode = "CAPTURE_UNAVAILABLE"
	CodeCaptureFilter      ErrorCode = "CAPTURE_FILTER"
	CodeCaptureOverrun     ErrorCode = "CAPTURE_OVERRUN"

	// OS/service detection errors.
	CodeSignatureInvalid ErrorCode = "SIGNATURE_INVALID"
	CodeDetectionFailed  ErrorCode = "DETECTION_FAILED"
)

// ScanError represents an error that occurred during scanning operations.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Target    string
	Operation string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Context: make(map[string]interface{}),
	}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Query     string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// WithQuery adds the SQL query that caused the error.
func (e *DatabaseError) WithQuery(query string) *DatabaseError {
	e.Query = query
	return e
}

// NewDatabaseError creates a new database error.
func NewDatabaseError(code ErrorCode, message string) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// DiscoveryError represents network discovery errors.
type DiscoveryError struct {
	Code    ErrorCode
	Message string
	Network string
	Method  string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *DiscoveryError) Error() string {
	if e.Network != "" {
		return fmt.Sprintf("[%s] %s (network: %s)", e.Code, e.Message, e.Network)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DiscoveryError) Unwrap() error {
	return e.Cause
}

// NewDiscoveryError creates a new discovery error.
func NewDiscoveryError(code ErrorCode, message string) *DiscoveryError {
	return &DiscoveryError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapDiscoveryError wraps an existing error as a discovery error.
func WrapDiscoveryError(code ErrorCode, message string, err error) *DiscoveryError {
	return &DiscoveryError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(code ErrorCode, message string) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
	}
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// PacketError represents a packet codec error: a malformed receive, a
// truncated capture, or a checksum that fails verification. Always
// non-fatal for the stateless path (§7: dropped silently) and logged at
// debug for the stateful path.
type PacketError struct {
	Code    ErrorCode
	Message string
	Layer   string // "ethernet", "ipv4", "ipv6", "tcp", "udp", "icmp"
	Cause   error
}

// Error implements the error interface.
func (e *PacketError) Error() string {
	if e.Layer != "" {
		return fmt.Sprintf("[%s] %s (layer: %s)", e.Code, e.Message, e.Layer)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *PacketError) Unwrap() error {
	return e.Cause
}

// NewPacketError creates a new packet codec error.
func NewPacketError(code ErrorCode, message, layer string) *PacketError {
	return &PacketError{Code: code, Message: message, Layer: layer}
}

// WrapPacketError wraps an existing error as a packet codec error.
func WrapPacketError(code ErrorCode, message, layer string, err error) *PacketError {
	return &PacketError{Code: code, Message: message, Layer: layer, Cause: err}
}

// CaptureError represents a raw capture I/O error: interface open failure,
// BPF filter compile failure, or ring-buffer overrun. Interface and filter
// failures are scan-fatal per §7; overruns are resource errors the
// scheduler may recover from by reducing parallelism.
type CaptureError struct {
	Code      ErrorCode
	Message   string
	Interface string
	Cause     error
}

// Error implements the error interface.
func (e *CaptureError) Error() string {
	if e.Interface != "" {
		return fmt.Sprintf("[%s] %s (interface: %s)", e.Code, e.Message, e.Interface)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *CaptureError) Unwrap() error {
	return e.Cause
}

// NewCaptureError creates a new capture I/O error.
func NewCaptureError(code ErrorCode, message, iface string) *CaptureError {
	return &CaptureError{Code: code, Message: message, Interface: iface}
}

// WrapCaptureError wraps an existing error as a capture I/O error.
func WrapCaptureError(code ErrorCode, message, iface string, err error) *CaptureError {
	return &CaptureError{Code: code, Message: message, Interface: iface, Cause: err}
}

// DetectionError represents an OS or service detection error: a malformed
// signature database entry or a regex compile failure. Per §7, the
// offending rule is skipped and the scan continues; this type exists so
// that skip decision is logged once per rule rather than silently.
type DetectionError struct {
	Code    ErrorCode
	Message string
	Rule    string
	Cause   error
}

// Error implements the error interface.
func (e *DetectionError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("[%s] %s (rule: %s)", e.Code, e.Message, e.Rule)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DetectionError) Unwrap() error {
	return e.Cause
}

// NewDetectionError creates a new detection error.
func NewDetectionError(code ErrorCode, message, rule string) *DetectionError {
	return &DetectionError{Code: code, Message: message, Rule: rule}
}

// WrapDetectionError wraps an existing error as a detection error.
func WrapDetectionError(code ErrorCode, message, rule string, err error) *DetectionError {
	return &DetectionError{Code: code, Message: message, Rule: rule, Cause: err}
}

// Utility functions for common error operations

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	switch e := err.(type) {
	case *ScanError:
		return e.Code == code
	case *DatabaseError:
		return e.Code == code
	case *DiscoveryError:
		return e.Code == code
	case *ConfigError:
		return e.Code == code
	case *PacketError:
		return e.Code == code
	case *CaptureError:
		return e.Code == code
	case *DetectionError:
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	switch e := err.(type) {
	case *ScanError:
		return e.Code
	case *DatabaseError:
		return e.Code
	case *DiscoveryError:
		return e.Code
	case *ConfigError:
		return e.Code
	case *PacketError:
		return e.Code
	case *CaptureError:
		return e.Code
	case *DetectionError:
		return e.Code
	}
	return CodeUnknown
}

// IsRetryable determines if an error indicates a retryable condition.
// Mirrors the "Network (transient)" and per-probe "Timeout" taxonomy:
// send EAGAIN, capture timeout, interface hiccup, no reply in window.
func IsRetryable(err error) bool {
	code := GetCode(err)
	switch code {
	case CodeTimeout, CodeNetworkUnreachable, CodeServiceTimeout, CodeDatabaseTimeout,
		CodeCaptureOverrun, CodeResource:
		return true
	default:
		return false
	}
}

// IsFatal determines if an error indicates a fatal condition that should
// stop execution. Mirrors the "Privilege" and unrecoverable "Resource"
// taxonomy: raw socket/capture permission denied, filter compile failure.
func IsFatal(err error) bool {
	code := GetCode(err)
	switch code {
	case CodePermission, CodeConfiguration, CodeDatabaseMigration,
		CodeCaptureUnavailable, CodeCaptureFilter:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrInvalidTarget creates an error for invalid scan targets.
func ErrInvalidTarget(target string) *ScanError {
	return NewScanErrorWithTarget(CodeTargetInvalid, "Invalid target specification", target)
}

// ErrScanTimeout creates an error for scan timeouts.
func ErrScanTimeout(target string) *ScanError {
	return NewScanErrorWithTarget(CodeTimeout, "Scan operation timed out", target)
}

// ErrHostUnreachable creates an error for unreachable hosts.
func ErrHostUnreachable(target string) *ScanError {
	return NewScanErrorWithTarget(CodeHostUnreachable, "Host is unreachable", target)
}

// ErrDatabaseConnection creates an error for database connection failures.
func ErrDatabaseConnection(err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseConnection, "Failed to connect to database", err)
}

// ErrDatabaseQuery creates an error for database query failures.
func ErrDatabaseQuery(query string, err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseQuery, "Database query failed", err).WithQuery(query)
}

// ErrDiscoveryFailed creates an error for discovery failures.
func ErrDiscoveryFailed(network string, err error) *DiscoveryError {
	return WrapDiscoveryError(CodeDiscoveryFailed, "Network discovery failed", err)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}

// ErrCapturePermission creates an error for a raw socket or capture handle
// the process lacks capabilities to open.
func ErrCapturePermission(iface string, err error) *CaptureError {
	return WrapCaptureError(CodePermission, "Insufficient privilege to open capture handle", iface, err)
}

// ErrCaptureFilterCompile creates an error for a BPF filter that failed to
// compile or attach to a capture handle.
func ErrCaptureFilterCompile(iface string, err error) *CaptureError {
	return WrapCaptureError(CodeCaptureFilter, "Failed to compile or attach capture filter", iface, err)
}

// ErrPacketMalformed creates an error for a packet that failed to parse at
// the named layer.
func ErrPacketMalformed(layer string, err error) *PacketError {
	return WrapPacketError(CodePacketMalformed, "Failed to parse packet", layer, err)
}

// ErrSignatureInvalid creates an error for a malformed fingerprint or
// service signature database rule.
func ErrSignatureInvalid(rule string, err error) *DetectionError {
	return WrapDetectionError(CodeSignatureInvalid, "Signature rule is malformed, skipping", rule, err)
}

// IsNotFound reports whether err carries CodeNotFound or CodeFileNotFound.
func IsNotFound(err error) bool { return IsCode(err, CodeNotFound) || IsCode(err, CodeFileNotFound) }

// IsConflict reports whether err carries CodeConflict.
func IsConflict(err error) bool { return IsCode(err, CodeConflict) }

// ErrNotFound, ErrNotFoundWithID, ErrConflict and ErrConflictWithReason
// create scan errors for a missing or conflicting named resource.
func ErrNotFound(resource string) *ScanError {
	return NewScanError(CodeNotFound, resource+" not found")
}

func ErrNotFoundWithID(resource, id string) *ScanError {
	return NewScanError(CodeNotFound, fmt.Sprintf("%s with ID %s not found", resource, id))
}

func ErrConflict(resource string) *ScanError {
	return NewScanError(CodeConflict, resource+" already exists or conflict detected")
}

func ErrConflictWithReason(resource, reason string) *ScanError {
	return NewScanError(CodeConflict, fmt.Sprintf("%s conflict: %s", resource, reason))
}
