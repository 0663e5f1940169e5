package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/doublegate/prort-ip/internal/db"
)

func createTestConfigFile(t *testing.T, content string) (path string, cleanup func()) {
	dir := t.TempDir()
	path = filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path, func() { _ = os.Remove(path) }
}

func setUpEnvironment(env map[string]string) func() {
	origEnv := make(map[string]string)
	for k := range env {
		if v, ok := os.LookupEnv(k); ok {
			origEnv[k] = v
		}
	}
	for k, v := range env {
		_ = os.Setenv(k, v)
	}
	return func() {
		for k := range env {
			if orig, ok := origEnv[k]; ok {
				_ = os.Setenv(k, orig)
			} else {
				_ = os.Unsetenv(k)
			}
		}
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		setup   func() (string, func())
		wantErr bool
	}{
		{
			name: "valid yaml config",
			setup: func() (string, func()) {
				return createTestConfigFile(t, `
database:
  host: localhost
  port: 5432
  database: testdb
  username: testuser
  password: testpass
  ssl_mode: disable
scanning:
  worker_pool_size: 4
  timing: T3
  default_scan_kind: connect
`)
			},
			wantErr: false,
		},
		{
			name: "valid json config",
			setup: func() (string, func()) {
				dir := t.TempDir()
				path := filepath.Join(dir, "config.json")
				content := `{
					"database": {
						"host": "localhost",
						"port": 5432,
						"database": "testdb",
						"username": "testuser",
						"password": "testpass",
						"ssl_mode": "disable"
					},
					"scanning": {
						"worker_pool_size": 4,
						"timing": "T3",
						"default_scan_kind": "connect"
					}
				}`
				if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
					t.Fatal(err)
				}
				return path, func() { _ = os.Remove(path) }
			},
			wantErr: false,
		},
		{
			name: "invalid yaml syntax",
			setup: func() (string, func()) {
				return createTestConfigFile(t, "database:\n  host: localhost\n  port: [unterminated\n")
			},
			wantErr: true,
		},
		{
			name: "nonexistent file",
			setup: func() (string, func()) {
				return "/nonexistent/config.yaml", func() {}
			},
			wantErr: true,
		},
		{
			name: "unsupported extension",
			setup: func() (string, func()) {
				dir := t.TempDir()
				path := filepath.Join(dir, "config.txt")
				if err := os.WriteFile(path, []byte("config data"), 0o600); err != nil {
					t.Fatal(err)
				}
				return path, func() { _ = os.Remove(path) }
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, cleanup := tt.setup()
			defer cleanup()

			_, err := Load(path)
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadWithEnvOverride(t *testing.T) {
	env := map[string]string{
		"PRORTIP_DB_HOST": "env-host",
		"PRORTIP_DB_PORT": "5433",
		"PRORTIP_DB_NAME": "env-db",
		"PRORTIP_DB_USER": "env-user",
	}
	cleanup := setUpEnvironment(env)
	defer cleanup()

	cfg := getDatabaseConfigFromEnv()
	if cfg.Host != "env-host" || cfg.Database != "env-db" || cfg.Username != "env-user" {
		t.Fatalf("got %+v", cfg)
	}
	if cfg.Port != 5433 {
		t.Errorf("Port = %v, want 5433", cfg.Port)
	}
}

func TestValidateHelpersAndSave(t *testing.T) {
	t.Run("validateConfigPath rejects traversal and bad ext", func(t *testing.T) {
		if err := validateConfigPath("../etc/passwd"); err == nil {
			t.Error("expected error for path traversal")
		}
		if err := validateConfigPath("config.exe"); err == nil {
			t.Error("expected error for unsupported extension")
		}
		if err := validateConfigPath("config.yaml"); err != nil {
			t.Errorf("unexpected error for valid path: %v", err)
		}
	})

	t.Run("validateConfigPermissions detects insecure perms", func(t *testing.T) {
		dir := t.TempDir()
		p := filepath.Join(dir, "cfg.yaml")
		if err := os.WriteFile(p, []byte("a: b"), 0o644); err != nil {
			t.Fatal(err)
		}
		fi, err := os.Stat(p)
		if err != nil {
			t.Fatal(err)
		}
		if err := validateConfigPermissions(fi); err == nil {
			t.Error("expected error for world-readable file")
		}
		if err := os.Chmod(p, 0o600); err != nil {
			t.Fatal(err)
		}
		fi, _ = os.Stat(p)
		if err := validateConfigPermissions(fi); err != nil {
			t.Errorf("unexpected error for secure perms: %v", err)
		}
	})

	t.Run("validateConfigContent edge cases", func(t *testing.T) {
		if err := validateConfigContent([]byte{}); err == nil {
			t.Error("expected error for empty content")
		}
		big := make([]byte, maxContentSize+1)
		if err := validateConfigContent(big); err == nil {
			t.Error("expected error for oversized content")
		}
		data := make([]byte, 200)
		for i := 0; i < 10; i++ {
			data[i] = 0
		}
		if err := validateConfigContent(data); err == nil {
			t.Error("expected error for binary-like content")
		}
	})

	t.Run("safeJSONUnmarshal unknown fields cause error", func(t *testing.T) {
		var out struct {
			A int `json:"a"`
		}
		if err := safeJSONUnmarshal([]byte(`{"a":1,"b":2}`), &out); err == nil {
			t.Error("expected error for unknown field")
		}
	})

	t.Run("safeYAMLUnmarshal malformed yaml returns error", func(t *testing.T) {
		var out struct {
			A int `yaml:"a"`
		}
		if err := safeYAMLUnmarshal([]byte("a: [1,2"), &out); err == nil {
			t.Error("expected YAML decode error")
		}
	})

	t.Run("Save writes file successfully", func(t *testing.T) {
		cfg := Default()
		dir := t.TempDir()
		p := filepath.Join(dir, "out.yaml")
		if err := cfg.Save(p); err != nil {
			t.Fatalf("Save() error: %v", err)
		}
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected file to exist: %v", err)
		}
	})
}

func TestAccessorsAndDefaults(t *testing.T) {
	cfg := Default()
	if cfg == nil {
		t.Fatal("Default() returned nil")
	}
	if cfg.GetDatabaseConfig().SSLMode != "disable" {
		t.Errorf("unexpected default SSLMode: %+v", cfg.GetDatabaseConfig())
	}
	if got := cfg.GetTiming(); got.InitialRate <= 0 {
		t.Errorf("GetTiming() returned zero-value template: %+v", got)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Database: db.Config{
				Host:            "localhost",
				Port:            5432,
				Database:        "testdb",
				Username:        "testuser",
				Password:        "testpass",
				SSLMode:         "disable",
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
				ConnMaxIdleTime: 5 * time.Minute,
			},
			Scanning: ScanningConfig{
				WorkerPoolSize:      4,
				Timing:              "T3",
				DefaultPorts:        "22,80,443",
				DefaultScanKind:     "connect",
				EnableServiceDetect: true,
				ServiceIntensity:    7,
			},
			Logging: LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}, wantErr: false},
		{name: "missing database host", mutate: func(c *Config) { c.Database.Host = "" }, wantErr: true},
		{name: "missing database name", mutate: func(c *Config) { c.Database.Database = "" }, wantErr: true},
		{name: "missing database user", mutate: func(c *Config) { c.Database.Username = "" }, wantErr: true},
		{name: "zero worker pool", mutate: func(c *Config) { c.Scanning.WorkerPoolSize = 0 }, wantErr: true},
		{name: "invalid timing template", mutate: func(c *Config) { c.Scanning.Timing = "T9" }, wantErr: true},
		{name: "invalid scan kind", mutate: func(c *Config) { c.Scanning.DefaultScanKind = "bogus" }, wantErr: true},
		{name: "service intensity out of range", mutate: func(c *Config) { c.Scanning.ServiceIntensity = 10 }, wantErr: true},
		{name: "invalid log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: true},
		{name: "invalid log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
