package config

import (
	"context"
	"runtime"

	"github.com/leapstack-labs/specpipe/internal/spec"
)

// configKey is used to store the loaded config in context.
type configKey struct{}

// WithConfig returns a context carrying cfg.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// GetConfig retrieves the config from the command context, falling back to
// the defaults when none was loaded.
func GetConfig(ctx context.Context) *Config {
	if ctx != nil {
		if c, ok := ctx.Value(configKey{}).(*Config); ok {
			return c
		}
	}
	return Default()
}

// Default returns the configuration used when nothing is loaded.
func Default() *Config {
	return &Config{
		Platform:     DefaultPlatform,
		OutputDir:    DefaultOutputDir,
		Workers:      runtime.GOMAXPROCS(0),
		Namespaces:   spec.DefaultNamespaces(),
		PlatformsDir: DefaultPlatformsDir,
		Suggester:    SuggesterConfig{Timeout: DefaultTimeout},
		Serve:        ServeConfig{Addr: DefaultAddr},
		OutputFormat: DefaultOutput,
	}
}
