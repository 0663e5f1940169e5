// Package config loads and validates prort-ip's configuration: database
// credentials, scanning/timing defaults, discovery defaults, and logging,
// from a YAML or JSON file layered over environment-variable defaults.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/doublegate/prort-ip/internal/db"
	"github.com/doublegate/prort-ip/internal/ratelimit"
)

const (
	defaultWorkerPoolSize   = 256
	defaultCircuitThreshold = 5
	defaultCircuitCooldown  = 30 * time.Second
	defaultMatchCeiling     = 1_000_000
	defaultDiscoveryTimeout = 1 * time.Second
	defaultDiscoveryConc    = 50

	maxConfigSize   = 10 * 1024 * 1024 // config file size ceiling (DoS guard)
	maxContentSize  = 5 * 1024 * 1024
	maxPathLength   = 4096
	permissionsMask = 0o777
)

// Default configuration values for the db sub-config.
const (
	DefaultPostgresPort    = 5432
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
	DefaultConnMaxIdleTime = 5 * time.Minute
	DefaultDirPermissions  = 0o750
	DefaultFilePermissions = 0o600
)

// Config is prort-ip's top-level configuration.
type Config struct {
	Database  db.Config       `yaml:"database" json:"database"`
	Scanning  ScanningConfig  `yaml:"scanning" json:"scanning"`
	Discovery DiscoveryConfig `yaml:"discovery" json:"discovery"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// ScanningConfig holds defaults for one scan run: worker pool size, the
// named timing template (T0-T5), circuit breaker thresholds, and the
// stateful matcher table's entry ceiling.
type ScanningConfig struct {
	WorkerPoolSize       int           `yaml:"worker_pool_size" json:"worker_pool_size"`
	Timing               string        `yaml:"timing" json:"timing"` // T0-T5
	DefaultPorts         string        `yaml:"default_ports" json:"default_ports"`
	DefaultScanKind      string        `yaml:"default_scan_kind" json:"default_scan_kind"`
	EnableServiceDetect  bool          `yaml:"enable_service_detect" json:"enable_service_detect"`
	EnableOSFingerprint  bool          `yaml:"enable_os_fingerprint" json:"enable_os_fingerprint"`
	ServiceIntensity     int           `yaml:"service_intensity" json:"service_intensity"` // 0-9
	CircuitThreshold     int           `yaml:"circuit_threshold" json:"circuit_threshold"`
	CircuitCooldown      time.Duration `yaml:"circuit_cooldown" json:"circuit_cooldown"`
	MatcherTableCeiling  int           `yaml:"matcher_table_ceiling" json:"matcher_table_ceiling"`
}

// DiscoveryConfig holds defaults for the host-discovery pass.
type DiscoveryConfig struct {
	Method      string        `yaml:"method" json:"method"` // arp, icmp, tcp-ping, all
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	Concurrency int           `yaml:"concurrency" json:"concurrency"`
	TCPPorts    []uint16      `yaml:"tcp_ports" json:"tcp_ports"`
	Skip        bool          `yaml:"skip" json:"skip"` // treat every target as alive (-Pn)
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // text, json
	Output string `yaml:"output" json:"output"` // stdout, stderr, file path
}

// Default returns the default configuration, with database credentials
// loaded from environment variables if present.
func Default() *Config {
	return &Config{
		Database:  getDatabaseConfigFromEnv(),
		Scanning:  defaultScanningConfig(),
		Discovery: defaultDiscoveryConfig(),
		Logging:   defaultLoggingConfig(),
	}
}

func defaultScanningConfig() ScanningConfig {
	return ScanningConfig{
		WorkerPoolSize:      defaultWorkerPoolSize,
		Timing:              "T3",
		DefaultPorts:        "1-1000",
		DefaultScanKind:     "syn",
		EnableServiceDetect: true,
		EnableOSFingerprint: false,
		ServiceIntensity:    7,
		CircuitThreshold:    defaultCircuitThreshold,
		CircuitCooldown:     defaultCircuitCooldown,
		MatcherTableCeiling: defaultMatchCeiling,
	}
}

func defaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		Method:      "all",
		Timeout:     defaultDiscoveryTimeout,
		Concurrency: defaultDiscoveryConc,
		TCPPorts:    []uint16{80, 443, 22},
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{Level: "info", Format: "text", Output: "stdout"}
}

// getEnvString gets a string value from environment variable with fallback.
func getEnvString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvInt gets an integer value from environment variable with fallback.
func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvDuration gets a duration value from environment variable with fallback.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// getDatabaseConfigFromEnv creates database config from environment variables.
func getDatabaseConfigFromEnv() db.Config {
	return db.Config{
		Host:            getEnvString("PRORTIP_DB_HOST", "localhost"),
		Port:            getEnvInt("PRORTIP_DB_PORT", DefaultPostgresPort),
		Database:        getEnvString("PRORTIP_DB_NAME", ""),
		Username:        getEnvString("PRORTIP_DB_USER", ""),
		Password:        getEnvString("PRORTIP_DB_PASSWORD", ""),
		SSLMode:         getEnvString("PRORTIP_DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvInt("PRORTIP_DB_MAX_OPEN_CONNS", DefaultMaxOpenConns),
		MaxIdleConns:    getEnvInt("PRORTIP_DB_MAX_IDLE_CONNS", DefaultMaxIdleConns),
		ConnMaxLifetime: getEnvDuration("PRORTIP_DB_CONN_MAX_LIFETIME", DefaultConnMaxLifetime),
		ConnMaxIdleTime: getEnvDuration("PRORTIP_DB_CONN_MAX_IDLE_TIME", DefaultConnMaxIdleTime),
	}
}

// Load loads configuration from a file, layered over Default().
func Load(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	config := Default()

	fileInfo, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to access config file: %w", err)
	}
	if fileInfo.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d bytes)", fileInfo.Size(), maxConfigSize)
	}
	if err := validateConfigPermissions(fileInfo); err != nil {
		return nil, fmt.Errorf("insecure config file permissions: %w", err)
	}

	data, err := os.ReadFile(path) //nolint:gosec // path and permissions are validated above
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := validateConfigContent(data); err != nil {
		return nil, fmt.Errorf("invalid config content: %w", err)
	}

	ext := filepath.Ext(path)
	switch ext {
	case ".json":
		if err := safeJSONUnmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		if err := safeYAMLUnmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func validateConfigPath(path string) error {
	cleanPath := filepath.Clean(path)
	if filepath.IsAbs(cleanPath) {
		if filepath.Dir(cleanPath) != filepath.Dir(path) {
			return fmt.Errorf("path contains directory traversal")
		}
	} else if cleanPath != "" && cleanPath[0] == '.' && len(cleanPath) > 1 && cleanPath[1] == '.' {
		return fmt.Errorf("path contains directory traversal")
	}
	if len(path) > maxPathLength {
		return fmt.Errorf("path too long: %d characters (max %d)", len(path), maxPathLength)
	}
	for i, char := range path {
		if char == 0 {
			return fmt.Errorf("null byte in path at position %d", i)
		}
	}
	ext := filepath.Ext(cleanPath)
	allowedExtensions := map[string]bool{".yaml": true, ".yml": true, ".json": true, "": true}
	if !allowedExtensions[ext] {
		return fmt.Errorf("unsupported config file extension: %s", ext)
	}
	return nil
}

func validateConfigPermissions(fileInfo os.FileInfo) error {
	mode := fileInfo.Mode()
	if mode&0o044 != 0 {
		return fmt.Errorf("config file has insecure permissions %o: should not be world-readable", mode&permissionsMask)
	}
	if mode&0o020 != 0 {
		return fmt.Errorf("config file has insecure permissions %o: should not be group-writable", mode&permissionsMask)
	}
	return nil
}

func validateConfigContent(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("config file is empty")
	}
	if len(data) > maxContentSize {
		return fmt.Errorf("config content too large: %d bytes (max %d)", len(data), maxContentSize)
	}
	nullCount := 0
	for _, b := range data {
		if b == 0 {
			nullCount++
		}
	}
	if nullCount > 0 && float64(nullCount)/float64(len(data)) > 0.01 {
		return fmt.Errorf("config file appears to contain binary data")
	}
	return nil
}

func safeYAMLUnmarshal(data []byte, dest interface{}) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("YAML decode error: %w", err)
	}
	return nil
}

func safeJSONUnmarshal(data []byte, dest interface{}) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	decoder.UseNumber()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("JSON decode error: %w", err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateScanning(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required (set PRORTIP_DB_HOST or configure in file)")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required (set PRORTIP_DB_NAME or configure in file)")
	}
	if c.Database.Username == "" {
		return fmt.Errorf("database username is required (set PRORTIP_DB_USER or configure in file)")
	}
	return nil
}

func (c *Config) validateScanning() error {
	if c.Scanning.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker pool size must be positive")
	}
	if _, ok := ratelimit.Templates[c.Scanning.Timing]; !ok {
		return fmt.Errorf("invalid timing template: %s", c.Scanning.Timing)
	}
	if c.Scanning.ServiceIntensity < 0 || c.Scanning.ServiceIntensity > 9 {
		return fmt.Errorf("service intensity must be 0-9, got %d", c.Scanning.ServiceIntensity)
	}

	validKinds := map[string]bool{
		"syn": true, "connect": true, "udp": true, "fin": true,
		"null": true, "xmas": true, "ack": true, "idle": true,
	}
	if !validKinds[c.Scanning.DefaultScanKind] {
		return fmt.Errorf("invalid default scan kind: %s", c.Scanning.DefaultScanKind)
	}
	return nil
}

func (c *Config) validateLogging() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	return nil
}

// GetDatabaseConfig returns the database configuration.
func (c *Config) GetDatabaseConfig() db.Config {
	return c.Database
}

// GetTiming resolves the configured timing template name to its Template.
func (c *Config) GetTiming() ratelimit.Template {
	return ratelimit.Templates[c.Scanning.Timing]
}
