package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// loggerKey is used to store logger in context.
type loggerKey struct{}

// EnvPrefix prefixes every environment variable read by the loader.
// Nested keys use a double underscore: SPECPIPE_SUGGESTER__ENDPOINT.
const EnvPrefix = "SPECPIPE_"

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// flagKeys maps flags whose config key is not their snake_cased name.
// Other flags load under their snake_cased name; keys Config does not
// declare are ignored when decoding.
var flagKeys = map[string]string{
	"addr":             "serve.addr",
	"suggest":          "suggester.enabled",
	"suggest-endpoint": "suggester.endpoint",
	"suggest-model":    "suggester.model",
	"suggest-timeout":  "suggester.timeout",
	"raw-schema":       "namespaces.raw",
	"staging-schema":   "namespaces.staging",
	"final-schema":     "namespaces.final",
}

// pathFlags are resolved against the working directory rather than the
// project root.
var pathFlags = map[string]string{
	"output-dir":    "output_dir",
	"platforms-dir": "platforms_dir",
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// configExistsIn reports the config file in dir, if any.
func configExistsIn(dir string) string {
	for _, name := range FileNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// findConfigUpward searches upward from startDir for a config file.
func findConfigUpward(startDir string) string {
	dir := startDir
	for range maxUpwardSearchLevels {
		if found := configExistsIn(dir); found != "" {
			return found
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Defaults returns the lowest configuration layer.
func Defaults() map[string]any {
	d := Default()
	return map[string]any{
		"platform":           d.Platform,
		"output_dir":         d.OutputDir,
		"workers":            d.Workers,
		"namespaces.raw":     d.Namespaces.Raw,
		"namespaces.staging": d.Namespaces.Staging,
		"namespaces.final":   d.Namespaces.Final,
		"platforms_dir":      d.PlatformsDir,
		"suggester.enabled":  d.Suggester.Enabled,
		"suggester.timeout":  d.Suggester.Timeout.String(),
		"serve.addr":         d.Serve.Addr,
		"output":             d.OutputFormat,
		"verbose":            d.Verbose,
	}
}

// Load loads configuration from defaults, the config file, environment
// variables and flags. Precedence (highest to lowest): flags > env vars >
// config file > defaults.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	if cfgFile == "" {
		cfgFile = findConfigUpward(cwd)
	}
	projectRoot := cwd
	if cfgFile != "" {
		abs, err := filepath.Abs(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		cfgFile = abs
		projectRoot = filepath.Dir(abs)
	}

	// 1. Defaults
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	// 3. Environment: SPECPIPE_SUGGESTER__ENDPOINT -> suggester.endpoint
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags that were explicitly set
	flagPaths := map[string]string{}
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key, mapped := flagKeys[f.Name]
			if !mapped {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			if pathKey, ok := pathFlags[f.Name]; ok {
				if abs, err := filepath.Abs(f.Value.String()); err == nil {
					flagPaths[pathKey] = abs
				}
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Decode
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.File = cfgFile
	cfg.ProjectRoot = projectRoot
	cfg.expandEnvVars()

	// 6. Paths given as flags are relative to the working directory; the
	// rest are relative to the project root.
	cfg.OutputDir = resolvePath(cfg.OutputDir, flagPaths["output_dir"], projectRoot)
	cfg.PlatformsDir = resolvePath(cfg.PlatformsDir, flagPaths["platforms_dir"], projectRoot)

	return &cfg, nil
}

func resolvePath(value, fromFlag, root string) string {
	if fromFlag != "" {
		return fromFlag
	}
	return resolvePathRelativeTo(value, root)
}

// expandEnvVars expands ${VAR} patterns in every string setting.
func (c *Config) expandEnvVars() {
	for _, s := range []*string{
		&c.Platform,
		&c.OutputDir,
		&c.PlatformsDir,
		&c.Namespaces.Raw,
		&c.Namespaces.Staging,
		&c.Namespaces.Final,
		&c.Suggester.Endpoint,
		&c.Suggester.Model,
		&c.Suggester.APIKey,
		&c.Serve.Addr,
	} {
		*s = expandEnvVars(*s)
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
// Unset variables are left as-is.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})
}

// LoggerKey returns the context key used for storing the logger.
// This allows the commands package to retrieve the logger from context
// without creating an import cycle with the cli package.
func LoggerKey() any {
	return loggerKey{}
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}
