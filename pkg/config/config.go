// Package config provides configuration loading from defaults, an optional
// YAML file and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "EVALBENCH_"

// StorageBackend represents the session storage implementation type.
type StorageBackend string

const (
	// StorageMemory keeps session state in process (for development/testing).
	StorageMemory StorageBackend = "memory"
	// StorageRedis keeps session state in Redis so several replicas can share it.
	StorageRedis StorageBackend = "redis"
)

// Base contains common configuration shared by the server and its services.
type Base struct {
	// Service identification
	ServiceName string
	Environment string // development, staging, production
	Version     string

	// Server
	GRPCPort int
	HTTPPort int

	// Session storage backend
	StorageBackend StorageBackend
	SessionTTL     time.Duration

	// Redis (used when StorageBackend is "redis")
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Ingestion
	MaxUploadBytes int64
	// AllowRemoteSources enables URL and S3 dataset sources, which make the
	// server fetch from addresses chosen by the caller.
	AllowRemoteSources bool

	// Evaluation runs
	EvalTickInterval time.Duration
	EvalConcurrency  int

	// Providers
	ProviderTestLatency time.Duration

	// Observability
	OTLPEndpoint string
	LogLevel     string
	LogFormat    string // json, text

	// Tracing
	TracingEnabled  bool
	TracingSampling float64
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"env":                  "development",
		"version":              "dev",
		"grpc_port":            9000,
		"http_port":            8080,
		"storage_backend":      "memory",
		"session_ttl":          "2h",
		"redis_addr":           "localhost:6379",
		"redis_password":       "",
		"redis_db":             0,
		"max_upload_bytes":     10 * 1024 * 1024,
		"allow_remote_sources": false,
		"eval_tick":            "100ms",
		"eval_concurrency":     4,
		"provider_latency":     "1s",
		"otlp_endpoint":        "localhost:4317",
		"log_level":            "info",
		"log_format":           "json",
		"tracing_enabled":      false,
		"tracing_sampling":     1.0,
	}
}

// Load loads base configuration. Precedence, lowest to highest: defaults, the
// YAML file named by EVALBENCH_CONFIG, EVALBENCH_* environment variables.
func Load(serviceName string) (*Base, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := os.Getenv(EnvPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// EVALBENCH_GRPC_PORT -> grpc_port
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	cfg := &Base{
		ServiceName: serviceName,
		Environment: k.String("env"),
		Version:     k.String("version"),

		GRPCPort: k.Int("grpc_port"),
		HTTPPort: k.Int("http_port"),

		StorageBackend: parseStorageBackend(k.String("storage_backend")),
		SessionTTL:     k.Duration("session_ttl"),

		RedisAddr:     k.String("redis_addr"),
		RedisPassword: k.String("redis_password"),
		RedisDB:       k.Int("redis_db"),

		MaxUploadBytes:     k.Int64("max_upload_bytes"),
		AllowRemoteSources: k.Bool("allow_remote_sources"),

		EvalTickInterval: k.Duration("eval_tick"),
		EvalConcurrency:  k.Int("eval_concurrency"),

		ProviderTestLatency: k.Duration("provider_latency"),

		OTLPEndpoint: k.String("otlp_endpoint"),
		LogLevel:     k.String("log_level"),
		LogFormat:    k.String("log_format"),

		TracingEnabled:  k.Bool("tracing_enabled"),
		TracingSampling: k.Float64("tracing_sampling"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports configuration values the server cannot start with.
func (c *Base) Validate() error {
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive, got %s", c.SessionTTL)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.EvalConcurrency < 1 {
		return fmt.Errorf("eval_concurrency must be at least 1, got %d", c.EvalConcurrency)
	}
	if c.EvalTickInterval < 0 {
		return fmt.Errorf("eval_tick must not be negative, got %s", c.EvalTickInterval)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Base) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Base) IsProduction() bool {
	return c.Environment == "production"
}

// UseRedisStorage returns true if session state lives in Redis.
func (c *Base) UseRedisStorage() bool {
	return c.StorageBackend == StorageRedis
}

func parseStorageBackend(s string) StorageBackend {
	switch strings.ToLower(s) {
	case "redis":
		return StorageRedis
	default:
		return StorageMemory
	}
}
