// Package config loads server configuration from environment variables.
//
// Required variables:
//   - DATABASE_URL: PostgreSQL connection string.
//
// Optional variables:
//   - HTTP_ADDR, GRPC_ADDR: listen addresses (defaults ":8080", ":9090").
//   - LOG_LEVEL: debug, info, warn or error (default "info").
//   - STREAM_POLL_INTERVAL: SSE and gRPC watch poll interval (default "1s").
//   - AUTH_RATE_LIMIT: failed auth attempts per IP per minute (default 10).
//   - MAX_JSON_BODY_SIZE: HTTP JSON body limit in bytes (default 1MB).
//   - EVENT_BATCH_SIZE: events returned per stream poll (default 1000).
//   - CACHE_RESYNC_INTERVAL: safety-net cache reload interval (default "1m").
//   - NOTIFY_CHANNEL: LISTEN/NOTIFY channel (default "setting_events").
//   - SCHEMA_PATH: JSON Schema that every written entry list must satisfy.
//     The embedded entry schema is used when unset.
//   - TS_HOSTNAME: enables a read-only tailnet listener under this name.
//   - TS_AUTH_KEY, TS_STATE_DIR: tailnet credentials and state directory.
//
// Durations and counts must be positive when set.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPAddr                  = ":8080"
	defaultGRPCAddr                  = ":9090"
	defaultStreamPollInterval        = time.Second
	defaultTSStateDir                = "tsnet-state"
	defaultAuthRateLimit             = 10
	defaultMaxJSONBodySize     int64 = 1 << 20
	defaultEventBatchSize            = 1000
	defaultCacheResyncInterval       = time.Minute
	defaultNotifyChannel             = "setting_events"
)

// Config holds the runtime configuration for the cerebro server.
type Config struct {
	DatabaseURL         string
	HTTPAddr            string
	GRPCAddr            string
	StreamPollInterval  time.Duration
	LogLevel            string
	AuthRateLimit       int
	MaxJSONBodySize     int64
	EventBatchSize      int
	CacheResyncInterval time.Duration
	NotifyChannel       string
	SchemaPath          string
	TSHostname          string
	TSAuthKey           string
	TSStateDir          string
}

// TailnetEnabled reports whether the read-only tailnet listener should run.
func (c Config) TailnetEnabled() bool {
	return c.TSHostname != ""
}

// Load reads configuration from environment variables, applying defaults
// where appropriate.
func Load() (Config, error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}

	streamPollInterval, err := positiveDuration("STREAM_POLL_INTERVAL", defaultStreamPollInterval)
	if err != nil {
		return Config{}, err
	}
	cacheResyncInterval, err := positiveDuration("CACHE_RESYNC_INTERVAL", defaultCacheResyncInterval)
	if err != nil {
		return Config{}, err
	}
	authRateLimit, err := positiveInt("AUTH_RATE_LIMIT", defaultAuthRateLimit)
	if err != nil {
		return Config{}, err
	}
	eventBatchSize, err := positiveInt("EVENT_BATCH_SIZE", defaultEventBatchSize)
	if err != nil {
		return Config{}, err
	}

	maxJSONBodySize := defaultMaxJSONBodySize
	if v := strings.TrimSpace(os.Getenv("MAX_JSON_BODY_SIZE")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return Config{}, errors.New("MAX_JSON_BODY_SIZE must be a positive integer (bytes)")
		}
		maxJSONBodySize = n
	}

	schemaPath := strings.TrimSpace(os.Getenv("SCHEMA_PATH"))
	if schemaPath != "" {
		if _, err := os.Stat(schemaPath); err != nil {
			return Config{}, fmt.Errorf("SCHEMA_PATH: %w", err)
		}
	}

	tsHostname := strings.TrimSpace(os.Getenv("TS_HOSTNAME"))
	tsAuthKey := strings.TrimSpace(os.Getenv("TS_AUTH_KEY"))
	if tsAuthKey != "" && tsHostname == "" {
		return Config{}, errors.New("TS_HOSTNAME is required when TS_AUTH_KEY is set")
	}

	return Config{
		DatabaseURL:         databaseURL,
		HTTPAddr:            envOrDefault("HTTP_ADDR", defaultHTTPAddr),
		GRPCAddr:            envOrDefault("GRPC_ADDR", defaultGRPCAddr),
		StreamPollInterval:  streamPollInterval,
		LogLevel:            envOrDefault("LOG_LEVEL", "info"),
		AuthRateLimit:       authRateLimit,
		MaxJSONBodySize:     maxJSONBodySize,
		EventBatchSize:      eventBatchSize,
		CacheResyncInterval: cacheResyncInterval,
		NotifyChannel:       envOrDefault("NOTIFY_CHANNEL", defaultNotifyChannel),
		SchemaPath:          schemaPath,
		TSHostname:          tsHostname,
		TSAuthKey:           tsAuthKey,
		TSStateDir:          envOrDefault("TS_STATE_DIR", defaultTSStateDir),
	}, nil
}

func positiveDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return parsed, nil
}

func positiveInt(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return parsed, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
