// Package config provides centralized configuration management for the notes server.
// It loads configuration from CLI flags, environment variables and an optional .env file,
// validates it, and provides sensible defaults.
//
// CLI flags control process-level choices (--addr, --no-s3, --env-file).
// Environment variables provide secrets and service configuration.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kuitang/versioned-notes/internal/db"
	"github.com/kuitang/versioned-notes/internal/obs"
	"github.com/kuitang/versioned-notes/internal/ratelimit"
)

const (
	defaultListenAddr      = ":8000"
	defaultRegion          = "auto"
	defaultShutdownTimeout = 10 * time.Second
	defaultEnvFile         = ".env"
)

// Flags are the values the CLI layer collects before loading configuration.
type Flags struct {
	Addr    string // --addr, overrides LISTEN_ADDR
	NoS3    bool   // --no-s3, in-memory object storage
	EnvFile string // --env-file, defaults to .env when present
}

// Config holds all application configuration.
type Config struct {
	// Server settings
	ListenAddr         string
	BaseURL            string // share links; empty means derive from each request
	CORSAllowedOrigins []string
	ShutdownTimeout    time.Duration
	LogLevel           slog.Level

	// Database and encryption
	DatabasePath string
	MasterKey    string // 64 hex characters (32 bytes); empty means an unencrypted database

	// Rate limiting
	RateLimitConfig ratelimit.Config

	// NoS3 uses an in-memory S3 (--no-s3)
	NoS3 bool

	// BackupInterval > 0 enables periodic backups while serving
	BackupInterval time.Duration

	// S3 storage for backups
	AWSEndpointS3      string // AWS_ENDPOINT_URL_S3
	AWSRegion          string // AWS_REGION
	AWSAccessKeyID     string // AWS_ACCESS_KEY_ID
	AWSSecretAccessKey string // AWS_SECRET_ACCESS_KEY
	AWSBucketName      string // BUCKET_NAME

	// problems found while parsing, reported by Validate
	parseErrors []string
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing default .env is not an error.
func LoadDotEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}
	err := godotenv.Load(path)
	if err == nil {
		obs.Pkg("config").Debug("env_file_loaded", "path", path)
		return nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load env file %q: %w", path, err)
}

// LoadConfig loads configuration from environment variables and CLI flag values.
func LoadConfig(flags Flags) (*Config, error) {
	if err := LoadDotEnv(flags.EnvFile); err != nil {
		return nil, err
	}

	cfg := &Config{}
	cfg.NoS3 = flags.NoS3

	// Server settings
	cfg.ListenAddr = getEnvOrDefault("LISTEN_ADDR", defaultListenAddr)
	if flags.Addr != "" {
		cfg.ListenAddr = flags.Addr
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("BASE_URL")), "/")
	cfg.CORSAllowedOrigins = parseList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000"))
	cfg.ShutdownTimeout = cfg.parseDurationOrDefault("SHUTDOWN_TIMEOUT", defaultShutdownTimeout)

	level, err := obs.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		cfg.parseErrors = append(cfg.parseErrors, "LOG_LEVEL must be one of debug, info, warn, error")
	}
	cfg.LogLevel = level

	// Database and encryption
	cfg.DatabasePath = getEnvOrDefault("DATABASE_PATH", db.DefaultDatabasePath)
	cfg.MasterKey = strings.TrimSpace(os.Getenv("MASTER_KEY"))

	// Rate limiting
	cfg.RateLimitConfig = ratelimit.Config{
		RPS:             cfg.parseFloat64OrDefault("RATE_LIMIT_RPS", ratelimit.DefaultConfig.RPS),
		Burst:           cfg.parseIntOrDefault("RATE_LIMIT_BURST", ratelimit.DefaultConfig.Burst),
		CleanupInterval: cfg.parseDurationOrDefault("RATE_LIMIT_CLEANUP_INTERVAL", ratelimit.DefaultConfig.CleanupInterval),
	}

	// S3 storage
	cfg.BackupInterval = cfg.parseDurationOrDefault("BACKUP_INTERVAL", 0)
	cfg.AWSEndpointS3 = strings.TrimSpace(os.Getenv("AWS_ENDPOINT_URL_S3"))
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", defaultRegion)
	cfg.AWSAccessKeyID = strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID"))
	cfg.AWSSecretAccessKey = strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY"))
	cfg.AWSBucketName = strings.TrimSpace(os.Getenv("BUCKET_NAME"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all configuration is present and valid.
func (c *Config) Validate() error {
	errs := append([]string(nil), c.parseErrors...)

	if c.ListenAddr == "" {
		errs = append(errs, "LISTEN_ADDR must not be empty")
	}
	if c.DatabasePath == "" {
		errs = append(errs, "DATABASE_PATH must not be empty")
	}

	if c.MasterKey != "" {
		if len(c.MasterKey) != 64 {
			errs = append(errs, "MASTER_KEY must be 64 hex characters (32 bytes)")
		} else if _, err := hex.DecodeString(c.MasterKey); err != nil {
			errs = append(errs, "MASTER_KEY must be hex encoded (generate with: openssl rand -hex 32)")
		}
	}

	// S3: credentials come in pairs when given explicitly
	if !c.NoS3 && c.AWSBucketName != "" {
		if (c.AWSAccessKeyID == "") != (c.AWSSecretAccessKey == "") {
			errs = append(errs, "AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
		}
	}

	if c.RateLimitConfig.RPS <= 0 {
		errs = append(errs, "RATE_LIMIT_RPS must be positive")
	}
	if c.RateLimitConfig.Burst <= 0 {
		errs = append(errs, "RATE_LIMIT_BURST must be positive")
	}
	if c.RateLimitConfig.CleanupInterval <= 0 {
		errs = append(errs, "RATE_LIMIT_CLEANUP_INTERVAL must be positive")
	}
	if c.BackupInterval < 0 {
		errs = append(errs, "BACKUP_INTERVAL must not be negative")
	}
	if c.BackupInterval > 0 && !c.BackupsEnabled() {
		errs = append(errs, "BACKUP_INTERVAL requires BUCKET_NAME or --no-s3")
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, "SHUTDOWN_TIMEOUT must be positive")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}

	return nil
}

// BackupsEnabled reports whether an object store is configured (real or in-memory).
func (c *Config) BackupsEnabled() bool {
	return c.NoS3 || c.AWSBucketName != ""
}

// Encrypted reports whether the database is opened with a SQLCipher key.
func (c *Config) Encrypted() bool {
	return c.MasterKey != ""
}

// PrintStartupSummary prints a human-readable summary of the configuration.
func (c *Config) PrintStartupSummary(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "notes server starting...")

	fmt.Fprintf(w, "  Database: %s", c.DatabasePath)
	if c.Encrypted() {
		fmt.Fprintln(w, " (encrypted, key from MASTER_KEY)")
	} else {
		fmt.Fprintln(w, " (unencrypted)")
	}

	switch {
	case c.NoS3:
		fmt.Fprintln(w, "  Backups:  Mock S3 (--no-s3)")
	case c.AWSBucketName != "":
		fmt.Fprintf(w, "  Backups:  S3 bucket %s (endpoint: %s)\n", c.AWSBucketName, orDefault(c.AWSEndpointS3, "aws"))
	default:
		fmt.Fprintln(w, "  Backups:  disabled (set BUCKET_NAME or use --no-s3)")
	}
	if c.BackupInterval > 0 {
		fmt.Fprintf(w, "  Schedule: every %s\n", c.BackupInterval)
	}

	fmt.Fprintf(w, "  Listen:   %s\n", c.ListenAddr)
	fmt.Fprintf(w, "  Base:     %s\n", orDefault(c.BaseURL, "(from request Host)"))
	fmt.Fprintf(w, "  CORS:     %s\n", strings.Join(c.CORSAllowedOrigins, ", "))
	fmt.Fprintln(w, "")
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func orDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func parseList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.TrimRight(part, "/"))
		}
	}
	return out
}

func (c *Config) parseIntOrDefault(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		c.parseErrors = append(c.parseErrors, fmt.Sprintf("%s must be an integer, got %q", key, value))
		return defaultValue
	}
	return parsed
}

func (c *Config) parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		c.parseErrors = append(c.parseErrors, fmt.Sprintf("%s must be a number, got %q", key, value))
		return defaultValue
	}
	return parsed
}

func (c *Config) parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		c.parseErrors = append(c.parseErrors, fmt.Sprintf("%s must be a duration like 30s, got %q", key, value))
		return defaultValue
	}
	return parsed
}
