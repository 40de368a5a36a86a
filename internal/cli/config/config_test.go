package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/specpipe/internal/spec"
	"github.com/leapstack-labs/specpipe/pkg/platform"
)

// chdirTemp switches to a fresh directory and returns its path.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	wd, err := os.Getwd()
	require.NoError(t, err)
	return wd
}

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("platform", "", "")
	fs.Int("workers", 0, "")
	fs.String("output-dir", "", "")
	fs.String("output", "", "")
	fs.Bool("suggest", false, "")
	fs.Duration("suggest-timeout", 0, "")
	fs.String("raw-schema", "", "")
	fs.String("addr", "", "")
	fs.Bool("watch", false, "")
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	dir := chdirTemp(t)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultPlatform, cfg.Platform)
	assert.Equal(t, filepath.Join(dir, DefaultOutputDir), cfg.OutputDir)
	assert.Equal(t, filepath.Join(dir, DefaultPlatformsDir), cfg.PlatformsDir)
	assert.GreaterOrEqual(t, cfg.Workers, 1)
	assert.Equal(t, spec.DefaultNamespaces(), cfg.Namespaces)
	assert.Equal(t, DefaultTimeout, cfg.Suggester.Timeout)
	assert.False(t, cfg.Suggester.Enabled)
	assert.Equal(t, DefaultAddr, cfg.Serve.Addr)
	assert.Equal(t, DefaultOutput, cfg.OutputFormat)
	assert.Empty(t, cfg.File)
	assert.Equal(t, dir, cfg.ProjectRoot)
	assert.NoError(t, cfg.Validate())
}

const projectConfig = `
platform: dbt
output_dir: out
workers: 3
namespaces:
  raw: landing
suggester:
  enabled: true
  endpoint: http://localhost:9000/suggest
  timeout: 45s
  api_key: ${TEST_SPECPIPE_KEY}
serve:
  addr: ":9090"
`

func TestLoad_FileFoundUpward(t *testing.T) {
	root := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "specpipe.yaml"), []byte(projectConfig), 0o600))
	sub := filepath.Join(root, "docs", "requirements")
	require.NoError(t, os.MkdirAll(sub, 0o750))
	t.Chdir(sub)
	t.Setenv("TEST_SPECPIPE_KEY", "secret")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "specpipe.yaml"), cfg.File)
	assert.Equal(t, root, cfg.ProjectRoot)
	assert.Equal(t, "dbt", cfg.Platform)
	assert.Equal(t, filepath.Join(root, "out"), cfg.OutputDir)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, spec.Namespaces{Raw: "landing", Staging: "temp", Final: "analytics"}, cfg.Namespaces)
	assert.True(t, cfg.Suggester.Enabled)
	assert.Equal(t, 45*time.Second, cfg.Suggester.Timeout)
	assert.Equal(t, "secret", cfg.Suggester.APIKey)
	assert.Equal(t, ":9090", cfg.Serve.Addr)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Precedence(t *testing.T) {
	root := chdirTemp(t)
	cfgPath := filepath.Join(root, "custom.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(projectConfig), 0o600))

	t.Setenv("SPECPIPE_WORKERS", "5")
	t.Setenv("SPECPIPE_PLATFORM", "leapsql")
	t.Setenv("SPECPIPE_SUGGESTER__MODEL", "small")
	t.Setenv("SPECPIPE_NAMESPACES__FINAL", "marts")

	t.Run("env over file", func(t *testing.T) {
		cfg, err := Load(cfgPath, nil)
		require.NoError(t, err)
		assert.Equal(t, 5, cfg.Workers)
		assert.Equal(t, "leapsql", cfg.Platform)
		assert.Equal(t, "small", cfg.Suggester.Model)
		assert.Equal(t, "landing", cfg.Namespaces.Raw)
		assert.Equal(t, "marts", cfg.Namespaces.Final)
	})

	t.Run("flags over env", func(t *testing.T) {
		fs := testFlags()
		require.NoError(t, fs.Parse([]string{
			"--workers", "7",
			"--platform", "dataform",
			"--output-dir", "artifacts",
			"--suggest-timeout", "2s",
			"--raw-schema", "bronze",
			"--addr", ":7000",
			"--watch",
		}))

		cfg, err := Load(cfgPath, fs)
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.Workers)
		assert.Equal(t, "dataform", cfg.Platform)
		assert.Equal(t, filepath.Join(root, "artifacts"), cfg.OutputDir)
		assert.Equal(t, 2*time.Second, cfg.Suggester.Timeout)
		assert.Equal(t, "bronze", cfg.Namespaces.Raw)
		assert.Equal(t, ":7000", cfg.Serve.Addr)
	})

	t.Run("unchanged flags are ignored", func(t *testing.T) {
		fs := testFlags()
		require.NoError(t, fs.Parse(nil))
		cfg, err := Load(cfgPath, fs)
		require.NoError(t, err)
		assert.Equal(t, 5, cfg.Workers)
		assert.Equal(t, ":9090", cfg.Serve.Addr)
	})
}

func TestLoad_FlagPathRelativeToWorkingDir(t *testing.T) {
	root := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "specpipe.yaml"), []byte("output_dir: out\n"), 0o600))
	sub := filepath.Join(root, "nested")
	require.NoError(t, os.MkdirAll(sub, 0o750))
	t.Chdir(sub)

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "out"), cfg.OutputDir)

	fs := testFlags()
	require.NoError(t, fs.Parse([]string{"--output-dir", "here"}))
	cfg, err = Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sub, "here"), cfg.OutputDir)
}

func TestLoad_BadFile(t *testing.T) {
	root := chdirTemp(t)
	path := filepath.Join(root, "specpipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte("platform: [unclosed\n"), 0o600))

	_, err := Load("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoad_BadDuration(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SPECPIPE_SUGGESTER__TIMEOUT", "soon")

	_, err := Load("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to decode config")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Platform:     "dataform",
			Workers:      2,
			OutputFormat: "auto",
			Suggester:    SuggesterConfig{Timeout: time.Second},
		}
	}

	tests := []struct {
		name      string
		mutate    func(c *Config)
		errSubstr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "empty platform", mutate: func(c *Config) { c.Platform = "" }, errSubstr: "platform is required"},
		{name: "unknown platform", mutate: func(c *Config) { c.Platform = "oracle" }, errSubstr: "dataform, dbt, leapsql"},
		{name: "platform case", mutate: func(c *Config) { c.Platform = "DBT" }},
		{name: "zero workers", mutate: func(c *Config) { c.Workers = 0 }, errSubstr: "workers must be at least 1"},
		{name: "negative workers", mutate: func(c *Config) { c.Workers = -2 }, errSubstr: "got -2"},
		{name: "bad output", mutate: func(c *Config) { c.OutputFormat = "xml" }, errSubstr: "invalid output format"},
		{name: "zero timeout", mutate: func(c *Config) { c.Suggester.Timeout = 0 }, errSubstr: "suggester.timeout must be positive"},
		{
			name:      "enabled without endpoint",
			mutate:    func(c *Config) { c.Suggester.Enabled = true },
			errSubstr: "suggester.endpoint is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.errSubstr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestRegisterPlatforms(t *testing.T) {
	dir := t.TempDir()
	script := `
name = "warehouse_views"
extension = "sql"

def ref(name, schema):
    return "wh.%s.%s" % (schema, name)
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "warehouse.star"), []byte(script), 0o600))

	cfg := &Config{PlatformsDir: dir}
	names, err := cfg.RegisterPlatforms()
	require.NoError(t, err)
	assert.Equal(t, []string{"warehouse_views"}, names)

	cfg.Platform = "warehouse_views"
	p, err := cfg.SelectedPlatform()
	require.NoError(t, err)
	assert.Equal(t, ".sql", p.Extension)
	_, ok := platform.Get("warehouse_views")
	assert.True(t, ok)

	missing := &Config{PlatformsDir: filepath.Join(dir, "nope")}
	names, err = missing.RegisterPlatforms()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR_ONE", "value_one")
	t.Setenv("TEST_VAR_TWO", "value_two")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "single variable", input: "${TEST_VAR_ONE}", expected: "value_one"},
		{name: "multiple variables", input: "${TEST_VAR_ONE}/${TEST_VAR_TWO}", expected: "value_one/value_two"},
		{name: "variable in url", input: "https://${TEST_VAR_ONE}.example/v1", expected: "https://value_one.example/v1"},
		{name: "unset variable stays as-is", input: "${UNSET_VARIABLE}", expected: "${UNSET_VARIABLE}"},
		{name: "no variables", input: "plain string", expected: "plain string"},
		{name: "empty string", input: "", expected: ""},
		{name: "mixed set and unset", input: "${TEST_VAR_ONE}:${UNSET_VAR}", expected: "value_one:${UNSET_VAR}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, expandEnvVars(tt.input))
		})
	}
}
