// Package config holds the runtime configuration of the geo record service
// and builds its logger.
//
// Values come from command line flags, GEOCRUD_* environment variables and an
// optional TOML file, in that priority order (see cmd.setAllConfig).
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Storage engines.
const (
	StoreBolt     = "bolt"
	StorePostgres = "postgres"
)

// Config contains every configuration option of the service.
type Config struct {
	// --- Server ---

	Port      int
	LogLevel  string
	LogFormat string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	ShutdownTimeout  time.Duration

	// CORSOrigin is sent as Access-Control-Allow-Origin. Empty disables CORS.
	CORSOrigin string

	// --- Storage ---

	// Store selects the engine: bolt or postgres.
	Store    string
	BoltPath string

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// --- Record cache ---

	CacheSize int
	CacheTTL  time.Duration
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Port:             8080,
		LogLevel:         "info",
		LogFormat:        "json",
		HTTPReadTimeout:  30 * time.Second,
		HTTPWriteTimeout: 60 * time.Second,
		HTTPIdleTimeout:  120 * time.Second,
		ShutdownTimeout:  5 * time.Second,
		CORSOrigin:       "*",
		Store:            StoreBolt,
		BoltPath:         "geo.db",
		DBHost:           "localhost",
		DBPort:           5432,
		DBName:           "geo",
		DBUser:           "geo",
		DBSSLMode:        "disable",
		CacheSize:        1024,
		CacheTTL:         5 * time.Minute,
	}
}

// ServerFlags registers the HTTP server options on fs.
func (c *Config) ServerFlags(fs *pflag.FlagSet) {
	fs.IntVarP(&c.Port, "port", "p", c.Port, "HTTP port to listen on.")
	fs.DurationVar(&c.HTTPReadTimeout, "http-read-timeout", c.HTTPReadTimeout, "HTTP server read timeout.")
	fs.DurationVar(&c.HTTPWriteTimeout, "http-write-timeout", c.HTTPWriteTimeout, "HTTP server write timeout.")
	fs.DurationVar(&c.HTTPIdleTimeout, "http-idle-timeout", c.HTTPIdleTimeout, "HTTP server idle timeout.")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "Graceful shutdown timeout.")
	fs.StringVar(&c.CORSOrigin, "cors-origin", c.CORSOrigin, "Allowed CORS origin, empty to disable.")
	fs.IntVar(&c.CacheSize, "cache-size", c.CacheSize, "Maximum number of records kept in the lookup cache.")
	fs.DurationVar(&c.CacheTTL, "cache-ttl", c.CacheTTL, "Lifetime of a cached record.")
}

// StoreFlags registers the logging and storage options on fs.
func (c *Config) StoreFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug, info, warn, error.")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format: json or text.")
	fs.StringVar(&c.Store, "store", c.Store, "Storage engine: bolt or postgres.")
	fs.StringVar(&c.BoltPath, "bolt-path", c.BoltPath, "BoltDB file path.")
	fs.StringVar(&c.DBHost, "db-host", c.DBHost, "PostgreSQL host.")
	fs.IntVar(&c.DBPort, "db-port", c.DBPort, "PostgreSQL port.")
	fs.StringVar(&c.DBName, "db-name", c.DBName, "PostgreSQL database name.")
	fs.StringVar(&c.DBUser, "db-user", c.DBUser, "PostgreSQL user.")
	fs.StringVar(&c.DBPassword, "db-password", c.DBPassword, "PostgreSQL password.")
	fs.StringVar(&c.DBSSLMode, "db-sslmode", c.DBSSLMode, "PostgreSQL sslmode.")
}

// Validate checks option values that flags cannot constrain.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port: %d out of range", c.Port)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log-level: %w", err)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("log-format: invalid format %q, valid: json, text", c.LogFormat)
	}
	switch c.Store {
	case StoreBolt:
		if c.BoltPath == "" {
			return fmt.Errorf("bolt-path: must not be empty")
		}
	case StorePostgres:
		if c.DBHost == "" || c.DBName == "" || c.DBUser == "" {
			return fmt.Errorf("db-host, db-name and db-user are required for the postgres store")
		}
	default:
		return fmt.Errorf("store: invalid engine %q, valid: %s, %s", c.Store, StoreBolt, StorePostgres)
	}
	if c.CacheSize < 1 {
		return fmt.Errorf("cache-size: must be > 0")
	}
	return nil
}

// DatabaseDSN returns the pgx connection string.
func (c *Config) DatabaseDSN() string {
	return c.databaseURL("postgres")
}

// MigrateURL returns the connection URL in the form golang-migrate's pgx/v5
// driver expects.
func (c *Config) MigrateURL() string {
	return c.databaseURL("pgx5")
}

func (c *Config) databaseURL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": []string{c.DBSSLMode}}.Encode(),
	}
	return u.String()
}

// SetupLogger configures the global slog logger from the configuration. Logs
// are written to w.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	level, _ := ParseLogLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLogLevel converts a level name to a slog.Level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid level %q, valid: debug, info, warn, error", level)
	}
}
