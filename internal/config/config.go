// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds the application configuration.
type Config struct {
	App       AppConfig
	Logger    LoggerConfig
	Store     StoreConfig
	Server    ServerConfig
	RateLimit RateLimitConfig
	Jobs      JobsConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
	// File, when set, receives a copy of every log line with size-based rotation.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// StoreConfig selects and locates the progress store.
type StoreConfig struct {
	Backend  string // badger, sqlite or postgres
	DataPath string // directory for the embedded backends
	DSN      string // PostgreSQL connection string
}

// BadgerDir returns the Badger database directory.
func (c StoreConfig) BadgerDir() string {
	return filepath.Join(c.DataPath, "badger")
}

// SQLitePath returns the SQLite database file.
func (c StoreConfig) SQLitePath() string {
	return filepath.Join(c.DataPath, "progress.db")
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Port         string        // Server port (default: 8080)
	ReadTimeout  time.Duration // HTTP read timeout (default: 15s)
	WriteTimeout time.Duration // HTTP write timeout (default: 15s)
	IdleTimeout  time.Duration // HTTP idle timeout (default: 60s)
	CORSOrigins  []string      // Allowed origins (default: *)
}

// RateLimitConfig holds per-client request limits.
type RateLimitConfig struct {
	RPS   float64 // 0 disables rate limiting
	Burst int
}

// JobsConfig holds background job configuration.
type JobsConfig struct {
	// StaleAfter pauses in-progress stories untouched for this long. 0 disables the job.
	StaleAfter         time.Duration
	StaleCheckInterval time.Duration
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig(args []string) (*Config, error) {
	fs := flag.NewFlagSet("storylingo", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	logFile := fs.String("log-file", "", "Also write logs to this file, with rotation")

	backend := fs.String("store", "", "Storage backend (badger, sqlite, postgres)")
	dataPath := fs.String("data-path", "", "Directory for embedded databases")
	dsn := fs.String("database-url", "", "PostgreSQL connection string")

	// Server flags
	serverPort := fs.String("port", "", "Server port (default: 8080)")
	readTimeout := fs.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := fs.String("write-timeout", "", "HTTP write timeout (default: 15s)")
	idleTimeout := fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")
	corsOrigins := fs.String("cors-origins", "", "Comma-separated allowed origins (default: *)")

	rateLimitRPS := fs.String("rate-limit-rps", "", "Requests per second per client, 0 disables (default: 20)")
	rateLimitBurst := fs.String("rate-limit-burst", "", "Burst size per client (default: 40)")

	staleAfter := fs.String("stale-after", "", "Pause stories untouched for this long, 0 disables (default: 0)")
	staleInterval := fs.String("stale-check-interval", "", "How often to look for stale stories (default: 1h)")

	envFile := fs.String("env-file", ".env", "Path to .env file")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// Load .env file if it exists. Existing env vars win.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file %s: %w", *envFile, err)
	}

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
			File:  getConfigValue(*logFile, "LOG_FILE", ""),
		},
		Store: StoreConfig{
			Backend:  strings.ToLower(getConfigValue(*backend, "STORE_BACKEND", BackendBadger)),
			DataPath: getConfigValue(*dataPath, "DATA_PATH", ""),
			DSN:      getConfigValue(*dsn, "DATABASE_URL", ""),
		},
		Server: ServerConfig{
			Port:        getConfigValue(*serverPort, "SERVER_PORT", "8080"),
			CORSOrigins: splitList(getConfigValue(*corsOrigins, "CORS_ORIGINS", "")),
		},
	}

	var err error
	if cfg.Logger.MaxSizeMB, err = getIntConfigValue("", "LOG_MAX_SIZE_MB", 100); err != nil {
		return nil, err
	}
	if cfg.Logger.MaxBackups, err = getIntConfigValue("", "LOG_MAX_BACKUPS", 3); err != nil {
		return nil, err
	}
	if cfg.Logger.MaxAgeDays, err = getIntConfigValue("", "LOG_MAX_AGE_DAYS", 28); err != nil {
		return nil, err
	}

	// Parse server timeouts.
	if cfg.Server.ReadTimeout, err = getDurationConfigValue(*readTimeout, "SERVER_READ_TIMEOUT", "15s"); err != nil {
		return nil, err
	}
	if cfg.Server.WriteTimeout, err = getDurationConfigValue(*writeTimeout, "SERVER_WRITE_TIMEOUT", "15s"); err != nil {
		return nil, err
	}
	if cfg.Server.IdleTimeout, err = getDurationConfigValue(*idleTimeout, "SERVER_IDLE_TIMEOUT", "60s"); err != nil {
		return nil, err
	}

	rpsStr := getConfigValue(*rateLimitRPS, "RATE_LIMIT_RPS", "20")
	if cfg.RateLimit.RPS, err = strconv.ParseFloat(rpsStr, 64); err != nil {
		return nil, fmt.Errorf("invalid rate limit rps %q: %w", rpsStr, err)
	}
	if cfg.RateLimit.Burst, err = getIntConfigValue(*rateLimitBurst, "RATE_LIMIT_BURST", 40); err != nil {
		return nil, err
	}

	if cfg.Jobs.StaleAfter, err = getDurationConfigValue(*staleAfter, "STALE_AFTER", "0"); err != nil {
		return nil, err
	}
	if cfg.Jobs.StaleCheckInterval, err = getDurationConfigValue(*staleInterval, "STALE_CHECK_INTERVAL", "1h"); err != nil {
		return nil, err
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}
	if c.Logger.File != "" && c.Logger.MaxSizeMB <= 0 {
		return errors.New("log max size must be positive when a log file is set")
	}

	switch c.Store.Backend {
	case BackendBadger, BackendSQLite:
		if c.Store.DataPath == "" {
			return fmt.Errorf("data path is required for the %s backend", c.Store.Backend)
		}
	case BackendPostgres:
		if c.Store.DSN == "" {
			return errors.New("DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid store backend: %s (must be badger, sqlite, or postgres)", c.Store.Backend)
	}

	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid server port: %s", c.Server.Port)
	}

	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate limit rps must not be negative: %v", c.RateLimit.RPS)
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate limit burst must be at least 1: %d", c.RateLimit.Burst)
	}

	if c.Jobs.StaleAfter < 0 {
		return fmt.Errorf("stale-after must not be negative: %s", c.Jobs.StaleAfter)
	}
	if c.Jobs.StaleAfter > 0 && c.Jobs.StaleCheckInterval <= 0 {
		return errors.New("stale-check-interval must be positive when stale-after is set")
	}

	return nil
}

// expandPaths resolves the data directory and log file.
func (c *Config) expandPaths() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	if c.Store.DataPath, err = expandPath(c.Store.DataPath, filepath.Join(homeDir, "StoryLingo", "data")); err != nil {
		return fmt.Errorf("invalid data path: %w", err)
	}
	if c.Logger.File, err = expandPath(c.Logger.File, ""); err != nil {
		return fmt.Errorf("invalid log file: %w", err)
	}
	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty, uses defaultPath.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	// Expand tilde.
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	// Make absolute if needed.
	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	// Priority 1: Command-line flag.
	if flagValue != "" {
		return flagValue
	}

	// Priority 2: Environment variable (includes values loaded from .env).
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}

	// Priority 3: Default value.
	return defaultValue
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) (int, error) {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(strValue)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, strValue, err)
	}
	return v, nil
}

// getDurationConfigValue returns a duration from flag, env var, or default.
func getDurationConfigValue(flagValue, envKey, defaultValue string) (time.Duration, error) {
	strValue := getConfigValue(flagValue, envKey, defaultValue)
	d, err := time.ParseDuration(strValue)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, strValue, err)
	}
	return d, nil
}

// splitList splits a comma-separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
