// Package config provides centralized configuration management for the
// pipeline server. It loads configuration from environment variables with
// sensible defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Pipeline PipelineConfig
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

	// WriteTimeout is the maximum duration for writing response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`
}

// RedisConfig holds message-queue connection settings.
type RedisConfig struct {
	// Addr is the Redis address (default: localhost:6379)
	Addr string `env:"REDIS_ADDR" default:"localhost:6379"`

	// QueueKey is the base key of the message list pair (default: conveyor:messages)
	QueueKey string `env:"REDIS_QUEUE_KEY" default:"conveyor:messages"`
}

// PipelineConfig holds batch-pipeline processing settings.
type PipelineConfig struct {
	// Workers is the number of concurrent message handlers (default: 4)
	Workers int `env:"PIPELINE_WORKERS" default:"4"`

	// JobTimeout is the wall-clock ceiling for a single job run (default: 2h)
	JobTimeout time.Duration `env:"PIPELINE_JOB_TIMEOUT" default:"2h"`

	// ChunkSize is the default fan-out row range for parallelizable imports
	// that declare no chunk size of their own (default: 500)
	ChunkSize int64 `env:"PIPELINE_CHUNK_SIZE" default:"500"`

	// ReaperInterval is how often stale claimed messages are requeued (default: 30s)
	ReaperInterval time.Duration `env:"PIPELINE_REAPER_INTERVAL" default:"30s"`

	// ReaperBatch is the maximum messages requeued per reaper run (default: 100)
	ReaperBatch int64 `env:"PIPELINE_REAPER_BATCH" default:"100"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "REDIS_ADDR is required")
	}
	if c.Redis.QueueKey == "" {
		errs = append(errs, "REDIS_QUEUE_KEY is required")
	}

	if c.Pipeline.Workers <= 0 {
		errs = append(errs, "PIPELINE_WORKERS must be positive")
	}
	if c.Pipeline.JobTimeout <= 0 {
		errs = append(errs, "PIPELINE_JOB_TIMEOUT must be positive")
	}
	if c.Pipeline.ChunkSize <= 0 {
		errs = append(errs, "PIPELINE_CHUNK_SIZE must be positive")
	}
	if c.Pipeline.ReaperInterval <= 0 {
		errs = append(errs, "PIPELINE_REAPER_INTERVAL must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", joinLines(errs))
	}
	return nil
}

func joinLines(lines []string) string {
	out := lines[0]
	for _, l := range lines[1:] {
		out += "\n  - " + l
	}
	return out
}
