package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"CONFIG_FILE", "PORT", "CORS_ALLOWED_ORIGINS", "BACKEND_URL", "BACKEND_TIMEOUT_MS",
	"ROUTE_CACHE_SIZE", "ROUTE_CACHE_TTL_SECONDS", "POSITION_SOURCE",
	"GTFS_VEHICLE_POSITIONS_URL", "POLL_INTERVAL_MS", "POLYLINE_PRECISION",
	"MAX_SESSIONS", "SESSION_IDLE_TIMEOUT_SECONDS",
	"DB_DRIVER", "SQLITE_DATABASE", "DATABASE_URL", "RETENTION_HOURS", "HISTORY_BUFFER",
	"LOG_LEVEL", "LOG_FORMAT", "TRACING_ENABLED", "TRACING_EXPORTER",
	"TRACING_ENDPOINT", "TRACING_SERVICE_NAME", "TRACING_SAMPLE_RATIO",
}

// isolate runs the test in an empty directory with every config key unset
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, key := range envKeys {
		// Setenv restores the original value on cleanup; .env loading
		// skips keys that are present even when empty
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.PollInterval() != 4*time.Second {
		t.Errorf("PollInterval() = %v", cfg.PollInterval())
	}
	if cfg.PolylinePrecision != 100000 {
		t.Errorf("PolylinePrecision = %v", cfg.PolylinePrecision)
	}
	if cfg.PositionSource != SourceREST || cfg.DBDriver != DriverSQLite {
		t.Errorf("source = %q, driver = %q", cfg.PositionSource, cfg.DBDriver)
	}
	if cfg.Retention() != 24*time.Hour {
		t.Errorf("Retention() = %v", cfg.Retention())
	}
	if cfg.MaxSessions != 500 || cfg.SessionIdleTimeout() != 10*time.Minute {
		t.Errorf("MaxSessions = %d, SessionIdleTimeout() = %v", cfg.MaxSessions, cfg.SessionIdleTimeout())
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := isolate(t)

	yml := `port: 9090
backendURL: https://backend.example.com
pollIntervalMS: 2000
routeCacheTTLSeconds: 60
logLevel: debug
corsAllowedOrigins:
  - https://a.example.com
`
	path := filepath.Join(dir, "tracker.yml")
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("POLL_INTERVAL_MS", "1500")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://x.example.com, https://y.example.com")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("SESSION_IDLE_TIMEOUT_SECONDS", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != 9090 || cfg.BackendURL != "https://backend.example.com" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.PollInterval() != 1500*time.Millisecond {
		t.Errorf("env did not override file: PollInterval() = %v", cfg.PollInterval())
	}
	if cfg.RouteCacheTTL() != time.Minute || cfg.LogLevel != "debug" {
		t.Errorf("RouteCacheTTL() = %v, LogLevel = %q", cfg.RouteCacheTTL(), cfg.LogLevel)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://y.example.com" {
		t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if !cfg.TracingEnabled {
		t.Error("TracingEnabled not applied")
	}
	if cfg.SessionIdleTimeout() != 0 {
		t.Errorf("SessionIdleTimeout() = %v, expected expiry disabled", cfg.SessionIdleTimeout())
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT=7000\nLOG_FORMAT=text\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env.local"), []byte("PORT=7001\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != 7001 {
		t.Errorf("Port = %d, expected .env.local to win", cfg.Port)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q", cfg.LogFormat)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := isolate(t)

	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte("port: [nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"gtfsrt without url", func(c *Config) { c.PositionSource = SourceGTFSRT }, "GTFS_VEHICLE_POSITIONS_URL"},
		{"gtfsrt with url", func(c *Config) {
			c.PositionSource = SourceGTFSRT
			c.GTFSVehiclePositionsURL = "https://feed.example.com/vp.pb"
		}, ""},
		{"postgres without url", func(c *Config) { c.DBDriver = DriverPostgres }, "DATABASE_URL"},
		{"unknown source", func(c *Config) { c.PositionSource = "carrier-pigeon" }, "PositionSource"},
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }, "DBDriver"},
		{"bad backend url", func(c *Config) { c.BackendURL = "not a url" }, "BackendURL"},
		{"zero port", func(c *Config) { c.Port = 0 }, "Port"},
		{"poll too fast", func(c *Config) { c.PollIntervalMS = 10 }, "PollIntervalMS"},
		{"negative session cap", func(c *Config) { c.MaxSessions = -1 }, "MaxSessions"},
		{"sample ratio above one", func(c *Config) { c.TracingSampleRatio = 1.5 }, "TracingSampleRatio"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate returned error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, expected mention of %q", err, tc.wantErr)
			}
		})
	}
}
