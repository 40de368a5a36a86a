// Package config provides configuration management for the specpipe CLI.
package config

import (
	"time"

	"github.com/leapstack-labs/specpipe/internal/spec"
)

// Config holds all CLI configuration options.
type Config struct {
	Platform     string          `koanf:"platform"`
	OutputDir    string          `koanf:"output_dir"`
	Workers      int             `koanf:"workers"`
	Namespaces   spec.Namespaces `koanf:"namespaces"`
	PlatformsDir string          `koanf:"platforms_dir"`
	Suggester    SuggesterConfig `koanf:"suggester"`
	Serve        ServeConfig     `koanf:"serve"`
	OutputFormat string          `koanf:"output"`
	Verbose      bool            `koanf:"verbose"`

	// ProjectRoot is the directory relative paths are resolved against.
	ProjectRoot string `koanf:"-"`
	// File is the config file that was loaded, if any.
	File string `koanf:"-"`
}

// SuggesterConfig configures the optional document suggester.
type SuggesterConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Endpoint string        `koanf:"endpoint"`
	Model    string        `koanf:"model"`
	Timeout  time.Duration `koanf:"timeout"`
	APIKey   string        `koanf:"api_key"`
}

// ServeConfig configures the HTTP API.
type ServeConfig struct {
	Addr string `koanf:"addr"`
}

// Default configuration values.
const (
	DefaultPlatform     = "dataform"
	DefaultOutputDir    = "build"
	DefaultPlatformsDir = "platforms"
	DefaultOutput       = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultAddr         = "127.0.0.1:8080"
	DefaultTimeout      = 30 * time.Second
)

// FileNames are the config file names searched for, in order.
var FileNames = []string{"specpipe.yaml", "specpipe.yml"}

// OutputFormats are the accepted values of the output key.
var OutputFormats = []string{"auto", "text", "markdown", "json"}
