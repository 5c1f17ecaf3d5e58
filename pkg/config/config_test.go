package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envVars = []string{
	"EVALBENCH_CONFIG", "EVALBENCH_ENV", "EVALBENCH_VERSION", "EVALBENCH_GRPC_PORT",
	"EVALBENCH_HTTP_PORT", "EVALBENCH_STORAGE_BACKEND", "EVALBENCH_SESSION_TTL",
	"EVALBENCH_REDIS_ADDR", "EVALBENCH_REDIS_PASSWORD", "EVALBENCH_REDIS_DB",
	"EVALBENCH_MAX_UPLOAD_BYTES", "EVALBENCH_ALLOW_REMOTE_SOURCES", "EVALBENCH_EVAL_TICK", "EVALBENCH_EVAL_CONCURRENCY",
	"EVALBENCH_OTLP_ENDPOINT", "EVALBENCH_LOG_LEVEL", "EVALBENCH_LOG_FORMAT",
	"EVALBENCH_TRACING_ENABLED", "EVALBENCH_TRACING_SAMPLING",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envVars {
		// t.Setenv restores the original value when the test ends.
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		clearEnv(t)

		cfg, err := Load("test-service")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.ServiceName != "test-service" {
			t.Errorf("ServiceName = %v, want %v", cfg.ServiceName, "test-service")
		}
		if cfg.Environment != "development" {
			t.Errorf("Environment = %v, want %v", cfg.Environment, "development")
		}
		if cfg.GRPCPort != 9000 {
			t.Errorf("GRPCPort = %v, want %v", cfg.GRPCPort, 9000)
		}
		if cfg.HTTPPort != 8080 {
			t.Errorf("HTTPPort = %v, want %v", cfg.HTTPPort, 8080)
		}
		if cfg.StorageBackend != StorageMemory {
			t.Errorf("StorageBackend = %v, want %v", cfg.StorageBackend, StorageMemory)
		}
		if cfg.SessionTTL != 2*time.Hour {
			t.Errorf("SessionTTL = %v, want %v", cfg.SessionTTL, 2*time.Hour)
		}
		if cfg.MaxUploadBytes != 10*1024*1024 {
			t.Errorf("MaxUploadBytes = %v, want %v", cfg.MaxUploadBytes, 10*1024*1024)
		}
		if cfg.AllowRemoteSources {
			t.Error("AllowRemoteSources = true, want false")
		}
		if cfg.EvalTickInterval != 100*time.Millisecond {
			t.Errorf("EvalTickInterval = %v, want %v", cfg.EvalTickInterval, 100*time.Millisecond)
		}
		if cfg.EvalConcurrency != 4 {
			t.Errorf("EvalConcurrency = %v, want %v", cfg.EvalConcurrency, 4)
		}
		if cfg.ProviderTestLatency != time.Second {
			t.Errorf("ProviderTestLatency = %v, want %v", cfg.ProviderTestLatency, time.Second)
		}
		if cfg.LogFormat != "json" {
			t.Errorf("LogFormat = %v, want %v", cfg.LogFormat, "json")
		}
		if cfg.TracingEnabled {
			t.Error("TracingEnabled = true, want false")
		}
	})

	t.Run("environment overrides", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("EVALBENCH_ENV", "production")
		t.Setenv("EVALBENCH_GRPC_PORT", "9100")
		t.Setenv("EVALBENCH_STORAGE_BACKEND", "redis")
		t.Setenv("EVALBENCH_SESSION_TTL", "30m")
		t.Setenv("EVALBENCH_EVAL_TICK", "5ms")
		t.Setenv("EVALBENCH_TRACING_ENABLED", "true")
		t.Setenv("EVALBENCH_ALLOW_REMOTE_SOURCES", "true")

		cfg, err := Load("test-service")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if !cfg.IsProduction() {
			t.Errorf("Environment = %v, want production", cfg.Environment)
		}
		if cfg.GRPCPort != 9100 {
			t.Errorf("GRPCPort = %v, want %v", cfg.GRPCPort, 9100)
		}
		if !cfg.UseRedisStorage() {
			t.Errorf("StorageBackend = %v, want %v", cfg.StorageBackend, StorageRedis)
		}
		if cfg.SessionTTL != 30*time.Minute {
			t.Errorf("SessionTTL = %v, want %v", cfg.SessionTTL, 30*time.Minute)
		}
		if cfg.EvalTickInterval != 5*time.Millisecond {
			t.Errorf("EvalTickInterval = %v, want %v", cfg.EvalTickInterval, 5*time.Millisecond)
		}
		if !cfg.TracingEnabled {
			t.Error("TracingEnabled = false, want true")
		}
		if !cfg.AllowRemoteSources {
			t.Error("AllowRemoteSources = false, want true")
		}
	})

	t.Run("yaml file below environment", func(t *testing.T) {
		clearEnv(t)

		path := filepath.Join(t.TempDir(), "evalbench.yaml")
		content := "http_port: 8181\nlog_level: debug\neval_concurrency: 2\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		t.Setenv("EVALBENCH_CONFIG", path)
		t.Setenv("EVALBENCH_LOG_LEVEL", "warn")

		cfg, err := Load("test-service")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.HTTPPort != 8181 {
			t.Errorf("HTTPPort = %v, want %v", cfg.HTTPPort, 8181)
		}
		if cfg.EvalConcurrency != 2 {
			t.Errorf("EvalConcurrency = %v, want %v", cfg.EvalConcurrency, 2)
		}
		if cfg.LogLevel != "warn" {
			t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, "warn")
		}
	})

	t.Run("missing config file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("EVALBENCH_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

		if _, err := Load("test-service"); err == nil {
			t.Fatal("Load() error = nil, want error for missing file")
		}
	})

	t.Run("invalid concurrency", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("EVALBENCH_EVAL_CONCURRENCY", "0")

		if _, err := Load("test-service"); err == nil {
			t.Fatal("Load() error = nil, want validation error")
		}
	})
}

func TestParseStorageBackend(t *testing.T) {
	tests := []struct {
		input string
		want  StorageBackend
	}{
		{"redis", StorageRedis},
		{"REDIS", StorageRedis},
		{"memory", StorageMemory},
		{"", StorageMemory},
		{"postgres", StorageMemory},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseStorageBackend(tt.input); got != tt.want {
				t.Errorf("parseStorageBackend(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
