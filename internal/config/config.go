// Package config provides hierarchical configuration loading for AlarmRelay.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the relay service.
type Config struct {
	Server  Server  `yaml:"server"`
	Store   Store   `yaml:"store"`
	Ingest  Ingest  `yaml:"ingest"`
	Stream  Stream  `yaml:"stream"`
	Auth    Auth    `yaml:"auth"`
	Rate    Rate    `yaml:"rate"`
	Cache   Cache   `yaml:"cache"`
	NATS    NATS    `yaml:"nats"`
	Breaker Breaker `yaml:"breaker"`
	OTEL    OTEL    `yaml:"otel"`
	Logging Logging `yaml:"logging"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port              string        `yaml:"port"`
	CORSOrigin        string        `yaml:"cors_origin"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"` // non-streaming routes only
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// Store holds alarm retention configuration.
type Store struct {
	Capacity int `yaml:"capacity"` // number of alarms kept for catch-up (default: 100)
}

// Ingest holds webhook ingestion limits.
type Ingest struct {
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`  // default: 2 MiB
	MaxConcurrent  int           `yaml:"max_concurrent"`  // bodies buffered at once (default: 64)
	AcquireTimeout time.Duration `yaml:"acquire_timeout"` // wait for a free slot before 503 (default: 5s)
}

// Stream holds live subscription configuration.
type Stream struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // keepalive period (default: 25s)
	WriteTimeout      time.Duration `yaml:"write_timeout"`      // bound on a single frame write (default: 10s)
	SendBuffer        int           `yaml:"send_buffer"`        // per-subscriber queue length (default: 256)
}

// Auth holds the optional shared-secret gate. The gate is active when either
// Secret or SecretHash is set.
type Auth struct {
	Username   string `yaml:"username"`
	Secret     string `yaml:"secret"`      //nolint:gosec // G117: config field name, not a hardcoded secret
	SecretHash string `yaml:"secret_hash"` // bcrypt hash, takes precedence over Secret
}

// Enabled reports whether the shared-secret gate is configured.
func (a Auth) Enabled() bool {
	return a.Secret != "" || a.SecretHash != ""
}

// Rate holds ingest rate limiter configuration.
type Rate struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
}

// Cache holds the snapshot cache configuration.
type Cache struct {
	L1MaxSizeMB int64         `yaml:"l1_max_size_mb"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
}

// NATS holds the optional alarm forwarder configuration. Forwarding is
// disabled when URL is empty.
type NATS struct {
	URL     string `yaml:"url"`
	Stream  string `yaml:"stream"`
	Subject string `yaml:"subject"`
}

// Breaker holds circuit breaker configuration for the forwarder.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// OTEL holds OpenTelemetry exporter configuration.
type OTEL struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:              "8080",
			CORSOrigin:        "*",
			ReadHeaderTimeout: 10 * time.Second,
			RequestTimeout:    30 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Store: Store{
			Capacity: 100,
		},
		Ingest: Ingest{
			MaxBodyBytes:   2 << 20,
			MaxConcurrent:  64,
			AcquireTimeout: 5 * time.Second,
		},
		Stream: Stream{
			HeartbeatInterval: 25 * time.Second,
			WriteTimeout:      10 * time.Second,
			SendBuffer:        256,
		},
		Rate: Rate{
			RequestsPerSecond: 50,
			Burst:             200,
			CleanupInterval:   5 * time.Minute,
			MaxIdleTime:       10 * time.Minute,
		},
		Cache: Cache{
			L1MaxSizeMB: 16,
			SnapshotTTL: time.Minute,
		},
		NATS: NATS{
			Stream:  "ALARMS",
			Subject: "alarms.received",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		OTEL: OTEL{
			Endpoint:    "localhost:4317",
			ServiceName: "alarmrelay",
			Insecure:    true,
		},
		Logging: Logging{
			Level:   "info",
			Service: "alarmrelay",
		},
	}
}
