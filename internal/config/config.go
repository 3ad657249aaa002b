package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Position sources
const (
	SourceREST   = "rest"
	SourceGTFSRT = "gtfsrt"
)

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all configuration for the tracker service
type Config struct {
	// HTTP
	Port               int      `yaml:"port" validate:"gt=0,lte=65535"`
	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins"`

	// Backend
	BackendURL           string `yaml:"backendURL" validate:"required,url"`
	BackendTimeoutMS     int    `yaml:"backendTimeoutMS" validate:"gt=0"`
	RouteCacheSize       int    `yaml:"routeCacheSize" validate:"gte=0"`
	RouteCacheTTLSeconds int    `yaml:"routeCacheTTLSeconds" validate:"gte=0"`

	// Vehicle polling
	PositionSource          string  `yaml:"positionSource" validate:"oneof=rest gtfsrt"`
	GTFSVehiclePositionsURL string  `yaml:"gtfsVehiclePositionsURL" validate:"omitempty,url"`
	PollIntervalMS          int     `yaml:"pollIntervalMS" validate:"gte=100"`
	PolylinePrecision       float64 `yaml:"polylinePrecision" validate:"gt=0"`

	// Sessions
	MaxSessions               int `yaml:"maxSessions" validate:"gte=0"`
	SessionIdleTimeoutSeconds int `yaml:"sessionIdleTimeoutSeconds" validate:"gte=0"`

	// Database
	DBDriver       string `yaml:"dbDriver" validate:"oneof=sqlite postgres"`
	SQLiteDatabase string `yaml:"sqliteDatabase"`
	DatabaseURL    string `yaml:"databaseURL"`
	RetentionHours int    `yaml:"retentionHours" validate:"gte=1"`
	HistoryBuffer  int    `yaml:"historyBuffer" validate:"gt=0"`

	// Logging
	LogLevel  string `yaml:"logLevel" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"logFormat" validate:"oneof=json text"`

	// Tracing
	TracingEnabled     bool    `yaml:"tracingEnabled"`
	TracingExporter    string  `yaml:"tracingExporter" validate:"oneof=stdout otlp"`
	TracingEndpoint    string  `yaml:"tracingEndpoint"`
	TracingServiceName string  `yaml:"tracingServiceName" validate:"required"`
	TracingSampleRatio float64 `yaml:"tracingSampleRatio" validate:"gte=0,lte=1"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	return &Config{
		Port:                      8080,
		CORSAllowedOrigins:        []string{"http://localhost:5173"},
		BackendURL:                "http://localhost:3000",
		BackendTimeoutMS:          10000,
		RouteCacheSize:            256,
		RouteCacheTTLSeconds:      300,
		PositionSource:            SourceREST,
		PollIntervalMS:            4000,
		PolylinePrecision:         100000,
		MaxSessions:               500,
		SessionIdleTimeoutSeconds: 600,
		DBDriver:                  DriverSQLite,
		SQLiteDatabase:            "/data/tracker.db",
		RetentionHours:            24,
		HistoryBuffer:             1024,
		LogLevel:                  "info",
		LogFormat:                 "json",
		TracingExporter:           "stdout",
		TracingEndpoint:           "localhost:4317",
		TracingServiceName:        "bustracker",
		TracingSampleRatio:        1,
	}
}

// Load reads .env files, the optional YAML file named by CONFIG_FILE and
// then environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	// Missing .env files are fine; real environment variables still apply
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	cfg := Defaults()
	path := getEnv("CONFIG_FILE", "config.yml")
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvInt("PORT", c.Port)
	if origins := getEnv("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		c.CORSAllowedOrigins = splitList(origins)
	}

	c.BackendURL = getEnv("BACKEND_URL", c.BackendURL)
	c.BackendTimeoutMS = getEnvInt("BACKEND_TIMEOUT_MS", c.BackendTimeoutMS)
	c.RouteCacheSize = getEnvInt("ROUTE_CACHE_SIZE", c.RouteCacheSize)
	c.RouteCacheTTLSeconds = getEnvInt("ROUTE_CACHE_TTL_SECONDS", c.RouteCacheTTLSeconds)

	c.PositionSource = strings.ToLower(getEnv("POSITION_SOURCE", c.PositionSource))
	c.GTFSVehiclePositionsURL = getEnv("GTFS_VEHICLE_POSITIONS_URL", c.GTFSVehiclePositionsURL)
	c.PollIntervalMS = getEnvInt("POLL_INTERVAL_MS", c.PollIntervalMS)
	c.PolylinePrecision = getEnvFloat("POLYLINE_PRECISION", c.PolylinePrecision)

	c.MaxSessions = getEnvInt("MAX_SESSIONS", c.MaxSessions)
	c.SessionIdleTimeoutSeconds = getEnvInt("SESSION_IDLE_TIMEOUT_SECONDS", c.SessionIdleTimeoutSeconds)

	c.DBDriver = strings.ToLower(getEnv("DB_DRIVER", c.DBDriver))
	c.SQLiteDatabase = getEnv("SQLITE_DATABASE", c.SQLiteDatabase)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.RetentionHours = getEnvInt("RETENTION_HOURS", c.RetentionHours)
	c.HistoryBuffer = getEnvInt("HISTORY_BUFFER", c.HistoryBuffer)

	c.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", c.LogLevel))
	c.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", c.LogFormat))

	c.TracingEnabled = getEnvBool("TRACING_ENABLED", c.TracingEnabled)
	c.TracingExporter = strings.ToLower(getEnv("TRACING_EXPORTER", c.TracingExporter))
	c.TracingEndpoint = getEnv("TRACING_ENDPOINT", c.TracingEndpoint)
	c.TracingServiceName = getEnv("TRACING_SERVICE_NAME", c.TracingServiceName)
	c.TracingSampleRatio = getEnvFloat("TRACING_SAMPLE_RATIO", c.TracingSampleRatio)
}

// Validate checks field constraints and the settings each choice depends on
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.PositionSource == SourceGTFSRT && c.GTFSVehiclePositionsURL == "" {
		return errors.New("invalid configuration: GTFS_VEHICLE_POSITIONS_URL is required for the gtfsrt source")
	}
	switch c.DBDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("invalid configuration: DATABASE_URL is required for the postgres driver")
		}
	case DriverSQLite:
		if c.SQLiteDatabase == "" {
			return errors.New("invalid configuration: SQLITE_DATABASE is required for the sqlite driver")
		}
	}
	return nil
}

// PollInterval is the vehicle poll period
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// BackendTimeout is the per-request backend timeout
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.BackendTimeoutMS) * time.Millisecond
}

// RouteCacheTTL is how long fetched route details stay cached
func (c *Config) RouteCacheTTL() time.Duration {
	return time.Duration(c.RouteCacheTTLSeconds) * time.Second
}

// SessionIdleTimeout is how long an unwatched session may go unused before
// it is closed. Zero disables expiry.
func (c *Config) SessionIdleTimeout() time.Duration {
	return time.Duration(c.SessionIdleTimeoutSeconds) * time.Second
}

// Retention is how long position history is kept
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
