// Package config provides configuration for the CLI.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of the environment variables read by Load.
const EnvPrefix = "EVALBENCH_"

// Config holds CLI configuration.
type Config struct {
	// Server gRPC address
	Addr string

	// Session used by remote commands
	Session string

	// Output format
	Format string // json, table, yaml

	// Timeout for each remote call
	Timeout time.Duration

	// Verbosity
	Verbose bool
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"addr":    "localhost:9000",
		"session": "",
		"output":  "table",
		"timeout": "30s",
		"verbose": false,
	}
}

// Load layers, lowest to highest: defaults, EVALBENCH_* environment
// variables, flags explicitly set on the command line. A nil flag set skips
// the last layer.
func Load(flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// EVALBENCH_SESSION -> session
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	cfg := &Config{
		Addr:    k.String("addr"),
		Session: k.String("session"),
		Format:  k.String("output"),
		Timeout: k.Duration("timeout"),
		Verbose: k.Bool("verbose"),
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}
	return cfg, nil
}
