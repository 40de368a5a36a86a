package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/specpipe/pkg/platform"
)

// Validate checks if the configuration is valid. Platforms from
// PlatformsDir must be registered first, see RegisterPlatforms.
func (c *Config) Validate() error {
	if c.Platform == "" {
		return fmt.Errorf("platform is required")
	}
	if _, ok := platform.Get(c.Platform); !ok {
		return fmt.Errorf("unknown platform %q (available: %s)\nHint: add platforms/%s.star or set platform in specpipe.yaml",
			c.Platform, strings.Join(platform.List(), ", "), c.Platform)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if !slices.Contains(OutputFormats, c.OutputFormat) {
		return fmt.Errorf("invalid output format %q (expected one of: %s)", c.OutputFormat, strings.Join(OutputFormats, ", "))
	}
	if c.Suggester.Timeout <= 0 {
		return fmt.Errorf("suggester.timeout must be positive, got %s", c.Suggester.Timeout)
	}
	if c.Suggester.Enabled && c.Suggester.Endpoint == "" {
		return fmt.Errorf("suggester.endpoint is required when the suggester is enabled")
	}
	return nil
}

// RegisterPlatforms loads the scripted platforms in PlatformsDir and
// registers them. A missing directory is not an error.
func (c *Config) RegisterPlatforms() ([]string, error) {
	loaded, err := platform.LoadDir(c.PlatformsDir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(loaded))
	for _, p := range loaded {
		platform.Register(p)
		names = append(names, p.Name)
	}
	return names, nil
}

// SelectedPlatform returns the configured platform.
func (c *Config) SelectedPlatform() (*platform.Platform, error) {
	p, ok := platform.Get(c.Platform)
	if !ok {
		return nil, fmt.Errorf("unknown platform %q", c.Platform)
	}
	return p, nil
}
