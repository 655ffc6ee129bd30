// Package config handles relayd configuration loading from the
// environment via a Load/applyDefaults/Validate pipeline.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// dotenvLoadFunc is overridable in tests so they don't depend on a
// .env file existing (or not) in the working directory.
var dotenvLoadFunc = godotenv.Load

// Config holds all relayd configuration. Every field is populated by
// Load: after Load returns successfully, callers can read any field
// without checking for empty strings or zero values.
type Config struct {
	// Host is the bind address in "host:port" form (RELAY_HOST).
	Host string
	// DBPath is the path to the embedded SQLite database file (DB_PATH).
	DBPath string
	// LogLevel is the logging verbosity (RELAY_LOG_LEVEL, falling back
	// to RUST_LOG for compatibility with the literal spec key).
	LogLevel string
	// ShutdownTimeout bounds how long the listener waits for sessions to
	// drain their outbound queues during graceful shutdown.
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment, first loading a
// ".env" file if one is present in the working directory (a no-op,
// non-fatal step when the file is absent — mirrors how container
// deployments lean on a real env in production and a .env file only
// in local development). Unknown environment keys are ignored.
func Load() (*Config, error) {
	if err := dotenvLoadFunc(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Host:     os.Getenv("RELAY_HOST"),
		DBPath:   os.Getenv("DB_PATH"),
		LogLevel: firstNonEmpty(os.Getenv("RELAY_LOG_LEVEL"), os.Getenv("RUST_LOG")),
	}

	if raw := os.Getenv("RELAY_SHUTDOWN_TIMEOUT"); raw != "" {
		d, err := parseTimeout(raw)
		if err != nil {
			return nil, fmt.Errorf("RELAY_SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.ShutdownTimeout = d
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load.
func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0:8080"
	}
	if c.DBPath == "" {
		c.DBPath = "./relay.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
func (c *Config) Validate() error {
	if !strings.Contains(c.Host, ":") {
		return fmt.Errorf("RELAY_HOST %q must be in host:port form", c.Host)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("RELAY_SHUTDOWN_TIMEOUT must be positive, got %s", c.ShutdownTimeout)
	}
	return nil
}

func parseTimeout(raw string) (time.Duration, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	// Fall back to a bare integer number of seconds.
	secs, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return time.Duration(secs) * time.Second, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
