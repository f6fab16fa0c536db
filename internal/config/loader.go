package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "alarmrelay.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML path can be overridden with ALARMRELAY_CONFIG; a missing file is
// not an error.
func Load() (*Config, error) {
	cfg, _, err := LoadWithCLI(CLIFlags{})
	return cfg, err
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Server.Port, "ALARMRELAY_PORT")
	setString(&cfg.Server.CORSOrigin, "ALARMRELAY_CORS_ORIGIN")
	setDuration(&cfg.Server.ReadHeaderTimeout, "ALARMRELAY_READ_HEADER_TIMEOUT")
	setDuration(&cfg.Server.RequestTimeout, "ALARMRELAY_REQUEST_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "ALARMRELAY_SHUTDOWN_TIMEOUT")

	setInt(&cfg.Store.Capacity, "ALARMRELAY_STORE_CAPACITY")

	setInt64(&cfg.Ingest.MaxBodyBytes, "ALARMRELAY_MAX_BODY_BYTES")
	setInt(&cfg.Ingest.MaxConcurrent, "ALARMRELAY_INGEST_MAX_CONCURRENT")
	setDuration(&cfg.Ingest.AcquireTimeout, "ALARMRELAY_INGEST_ACQUIRE_TIMEOUT")

	setDuration(&cfg.Stream.HeartbeatInterval, "ALARMRELAY_HEARTBEAT_INTERVAL")
	setDuration(&cfg.Stream.WriteTimeout, "ALARMRELAY_STREAM_WRITE_TIMEOUT")
	setInt(&cfg.Stream.SendBuffer, "ALARMRELAY_STREAM_SEND_BUFFER")

	// Auth
	setString(&cfg.Auth.Username, "ALARMRELAY_AUTH_USER")
	setString(&cfg.Auth.Secret, "ALARMRELAY_AUTH_SECRET")
	setString(&cfg.Auth.SecretHash, "ALARMRELAY_AUTH_SECRET_HASH")

	setFloat64(&cfg.Rate.RequestsPerSecond, "ALARMRELAY_RATE_RPS")
	setInt(&cfg.Rate.Burst, "ALARMRELAY_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "ALARMRELAY_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "ALARMRELAY_RATE_MAX_IDLE_TIME")

	setInt64(&cfg.Cache.L1MaxSizeMB, "ALARMRELAY_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.SnapshotTTL, "ALARMRELAY_CACHE_SNAPSHOT_TTL")

	// Forwarder
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "ALARMRELAY_NATS_STREAM")
	setString(&cfg.NATS.Subject, "ALARMRELAY_NATS_SUBJECT")
	setInt(&cfg.Breaker.MaxFailures, "ALARMRELAY_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "ALARMRELAY_BREAKER_TIMEOUT")

	// Telemetry
	setBool(&cfg.OTEL.Enabled, "ALARMRELAY_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "ALARMRELAY_OTEL_INSECURE")

	setString(&cfg.Logging.Level, "ALARMRELAY_LOG_LEVEL")
	setString(&cfg.Logging.Service, "ALARMRELAY_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "ALARMRELAY_LOG_ASYNC")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Store.Capacity < 1 {
		return errors.New("store.capacity must be >= 1")
	}
	if cfg.Ingest.MaxBodyBytes < 1 {
		return errors.New("ingest.max_body_bytes must be >= 1")
	}
	if cfg.Ingest.MaxConcurrent < 1 {
		return errors.New("ingest.max_concurrent must be >= 1")
	}
	if cfg.Ingest.AcquireTimeout <= 0 {
		return errors.New("ingest.acquire_timeout must be > 0")
	}
	if cfg.Server.RequestTimeout > 0 && cfg.Ingest.AcquireTimeout >= cfg.Server.RequestTimeout {
		return errors.New("ingest.acquire_timeout must be shorter than server.request_timeout")
	}
	if cfg.Stream.HeartbeatInterval <= 0 {
		return errors.New("stream.heartbeat_interval must be > 0")
	}
	if cfg.Stream.WriteTimeout <= 0 {
		return errors.New("stream.write_timeout must be > 0")
	}
	if cfg.Stream.SendBuffer < 1 {
		return errors.New("stream.send_buffer must be >= 1")
	}
	if cfg.Rate.RequestsPerSecond <= 0 {
		return errors.New("rate.requests_per_second must be > 0")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Rate.CleanupInterval <= 0 {
		return errors.New("rate.cleanup_interval must be > 0")
	}
	if cfg.Rate.MaxIdleTime <= 0 {
		return errors.New("rate.max_idle_time must be > 0")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.NATS.URL != "" && cfg.NATS.Subject == "" {
		return errors.New("nats.subject is required when nats.url is set")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
