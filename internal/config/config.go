// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Store    StoreConfig
	Import   ImportConfig
	Upload   UploadConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including draining runs (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string, required for the postgres driver.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// StoreConfig selects where imported records go.
type StoreConfig struct {
	// Driver is memory, sqlite or postgres (default: sqlite)
	Driver string `env:"STORE_DRIVER" default:"sqlite"`

	// SQLiteDir holds the SQLite database file (default: data)
	SQLiteDir string `env:"SQLITE_DIR" default:"data"`
}

// ImportConfig tunes import runs.
type ImportConfig struct {
	// Workers is the row concurrency per entity (default: 4)
	Workers int `env:"IMPORT_WORKERS" default:"4"`

	// MaxRetries is the number of retries for transient write errors; 0 or -1 disables (default: 3)
	MaxRetries int `env:"IMPORT_MAX_RETRIES" default:"3"`

	// RetryBaseDelay is the first backoff delay (default: 100ms)
	RetryBaseDelay time.Duration `env:"IMPORT_RETRY_BASE_DELAY" default:"100ms"`

	// RetryMaxDelay caps the backoff (default: 5s)
	RetryMaxDelay time.Duration `env:"IMPORT_RETRY_MAX_DELAY" default:"5s"`

	// WriteRate is row writes per second across all runs; 0 is unlimited (default: 0)
	WriteRate float64 `env:"IMPORT_WRITE_RATE" default:"0"`

	// WriteBurst is the write limiter burst (default: 50)
	WriteBurst int `env:"IMPORT_WRITE_BURST" default:"50"`

	// MaxConcurrentRuns is the number of runs executing at once (default: 2)
	MaxConcurrentRuns int `env:"IMPORT_MAX_CONCURRENT_RUNS" default:"2"`

	// MaxWaitTime is how long a new run waits for a free slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// RunTimeout is the hard limit for one run; 0 means none (default: 30m)
	RunTimeout time.Duration `env:"IMPORT_RUN_TIMEOUT" default:"30m"`

	// Retention is how long finished runs stay in memory (default: 15m)
	Retention time.Duration `env:"IMPORT_RETENTION" default:"15m"`
}

// UploadConfig holds request body limits.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed body or file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`
}

// RateLimitConfig holds rate limiting settings per client IP.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for starting imports (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enables API key authentication on /api (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of name:key pairs
	APIKeys []string `env:"API_KEYS"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// RetryLimit converts MaxRetries for core.RunOptions, where zero means the
// default and a negative value disables retries.
func (c ImportConfig) RetryLimit() int {
	if c.MaxRetries <= 0 {
		return -1
	}
	return c.MaxRetries
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
