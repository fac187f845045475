package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the DialCore server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir     string
	HTTPPort    int
	LogLevel    string
	LogFormat   string // log output format: "text" or "json"
	CORSOrigins string
	PostgresDSN string // optional Postgres DSN for the call record archive
	JWTSecret   string // shared secret for API bearer tokens; empty disables auth
	RingTimeout int    // seconds a call may stay in "ringing" before auto-missed
	EventBuffer int    // per-subscriber event queue size
}

// defaults
const (
	defaultDataDir     = "./data"
	defaultHTTPPort    = 8080
	defaultLogLevel    = "info"
	defaultLogFormat   = "text"
	defaultRingTimeout = 30
	defaultEventBuffer = 64
)

// envPrefix is the prefix for all DialCore environment variables.
const envPrefix = "DIALCORE_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("dialcore", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the sqlite database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", "", "PostgreSQL DSN for the call record archive (sqlite is used if empty)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "shared secret for API bearer tokens (auth disabled if empty)")
	fs.IntVar(&cfg.RingTimeout, "ring-timeout", defaultRingTimeout, "seconds before an unanswered ringing call is marked missed")
	fs.IntVar(&cfg.EventBuffer, "event-buffer", defaultEventBuffer, "buffered events per subscriber before the subscription is dropped")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"data-dir":     envPrefix + "DATA_DIR",
		"http-port":    envPrefix + "HTTP_PORT",
		"log-level":    envPrefix + "LOG_LEVEL",
		"log-format":   envPrefix + "LOG_FORMAT",
		"cors-origins": envPrefix + "CORS_ORIGINS",
		"postgres-dsn": envPrefix + "POSTGRES_DSN",
		"jwt-secret":   envPrefix + "JWT_SECRET",
		"ring-timeout": envPrefix + "RING_TIMEOUT",
		"event-buffer": envPrefix + "EVENT_BUFFER",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "cors-origins":
			cfg.CORSOrigins = val
		case "postgres-dsn":
			cfg.PostgresDSN = val
		case "jwt-secret":
			cfg.JWTSecret = val
		case "ring-timeout":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RingTimeout = v
			}
		case "event-buffer":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.EventBuffer = v
			}
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.RingTimeout < 1 {
		return fmt.Errorf("ring-timeout must be at least 1 second, got %d", c.RingTimeout)
	}
	if c.EventBuffer < 1 {
		return fmt.Errorf("event-buffer must be at least 1, got %d", c.EventBuffer)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// RingTimeoutDuration returns the ringing timeout as a time.Duration.
func (c *Config) RingTimeoutDuration() time.Duration {
	return time.Duration(c.RingTimeout) * time.Second
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
