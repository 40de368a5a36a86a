package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/specpipe/internal/cli/config"
	"github.com/leapstack-labs/specpipe/internal/cli/testutil"
	"github.com/leapstack-labs/specpipe/internal/spec"
)

// runCommand executes cmd with cfg in its context and returns stdout.
func runCommand(t *testing.T, cmd *cobra.Command, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	ctx := config.WithConfig(context.Background(), cfg)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// testProject returns a project directory and a config writing into it.
func testProject(t *testing.T, mode string) (string, *config.Config) {
	t.Helper()
	dir := testutil.SetupTestProject(t)
	cfg := config.Default()
	cfg.OutputDir = filepath.Join(dir, "build")
	cfg.PlatformsDir = filepath.Join(dir, "platforms")
	cfg.Workers = 2
	cfg.OutputFormat = mode
	return dir, cfg
}

func TestCommandMetadata(t *testing.T) {
	tests := []struct {
		cmd   *cobra.Command
		use   string
		flags []string
	}{
		{NewSpecCommand(), "spec <document>", []string{"out", "docs"}},
		{NewCompileCommand(), "compile <input>", []string{"select", "downstream"}},
		{NewTestsCommand(), "tests <input>", []string{"select", "downstream"}},
		{NewBuildCommand(), "build <input>", []string{"watch", "select", "downstream"}},
		{NewPlanCommand(), "plan <input>", []string{"select", "downstream"}},
		{NewPlatformsCommand(), "platforms", nil},
		{NewExportCommand(), "export <input>", []string{"format", "out", "title", "model"}},
		{NewServeCommand(), "serve", []string{"addr"}},
	}
	for _, tt := range tests {
		t.Run(tt.use, func(t *testing.T) {
			assert.Equal(t, tt.use, tt.cmd.Use)
			assert.NotEmpty(t, tt.cmd.Short, "Short should not be empty")
			for _, flag := range tt.flags {
				assert.NotNil(t, tt.cmd.Flags().Lookup(flag), "flag %q should exist", flag)
			}
		})
	}
}

func TestCompileCommand(t *testing.T) {
	dir, cfg := testProject(t, "json")

	out, err := runCommand(t, NewCompileCommand(), cfg, filepath.Join(dir, "requirements.md"))
	require.NoError(t, err)

	var got GenerateOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "dataform", got.Platform)
	assert.Equal(t, []string{"stg_customers", "stg_orders", "fct_country_revenue"}, got.Order)
	assert.Equal(t, []string{
		"stg_customers.sqlx",
		"stg_orders.sqlx",
		"fct_country_revenue.sqlx",
		"manifest.json",
	}, got.Files)
	assert.Zero(t, got.Cases)
	assert.NotEmpty(t, got.RunID)

	data, err := os.ReadFile(filepath.Join(cfg.OutputDir, "stg_orders.sqlx"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "crm_orders")
	assert.NoDirExists(t, filepath.Join(cfg.OutputDir, "tests"))
}

func TestTestsCommand(t *testing.T) {
	dir, cfg := testProject(t, "json")

	out, err := runCommand(t, NewTestsCommand(), cfg, filepath.Join(dir, "requirements.md"))
	require.NoError(t, err)

	var got GenerateOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Positive(t, got.Cases)
	assert.Contains(t, got.Files, filepath.Join("tests", "results.json"))
	assert.NotContains(t, got.Files, "manifest.json")
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "tests", "stg_customers_test.sql"))
}

func TestBuildCommand_Markdown(t *testing.T) {
	dir, cfg := testProject(t, "markdown")

	out, err := runCommand(t, NewBuildCommand(), cfg, filepath.Join(dir, "requirements.md"))
	require.NoError(t, err)

	testutil.AssertNoANSI(t, out)
	testutil.AssertValidMarkdown(t, out)
	assert.Contains(t, out, "# Generated 3 models for dataform")
	assert.Contains(t, out, "- manifest.json: success")
	assert.Contains(t, out, "stg_customers → stg_orders → fct_country_revenue")
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "manifest.json"))
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "tests", "results.json"))
}

func TestBuildCommand_Stdin(t *testing.T) {
	dir, cfg := testProject(t, "json")
	doc, err := os.ReadFile(filepath.Join(dir, "requirements.md"))
	require.NoError(t, err)

	cmd := NewBuildCommand()
	cmd.SetIn(bytes.NewReader(doc))
	out, err := runCommand(t, cmd, cfg, "-")
	require.NoError(t, err)
	assert.Contains(t, out, `"fct_country_revenue"`)
}

func TestBuildCommand_WatchNeedsFile(t *testing.T) {
	_, cfg := testProject(t, "json")
	_, err := runCommand(t, NewBuildCommand(), cfg, "-", "--watch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--watch needs a file")
}

func TestCompileCommand_Select(t *testing.T) {
	dir, cfg := testProject(t, "json")
	input := filepath.Join(dir, "requirements.md")

	out, err := runCommand(t, NewCompileCommand(), cfg, input, "--select", "stg_orders")
	require.NoError(t, err)
	var got GenerateOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, []string{"stg_orders"}, got.Order)

	out, err = runCommand(t, NewCompileCommand(), cfg, input, "-s", "stg_orders", "--downstream")
	require.NoError(t, err)
	got = GenerateOutput{}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, []string{"stg_customers", "stg_orders", "fct_country_revenue"}, got.Order)

	_, err = runCommand(t, NewCompileCommand(), cfg, input, "--select", "nope")
	assert.EqualError(t, err, `unknown model "nope"`)

	_, err = runCommand(t, NewCompileCommand(), cfg, input, "--downstream")
	assert.EqualError(t, err, "--downstream needs --select")

	_, err = runCommand(t, NewBuildCommand(), cfg, input, "--watch", "--select", "stg_orders")
	assert.EqualError(t, err, "--select cannot be combined with --watch")
}

func TestCompileCommand_UnknownPlatform(t *testing.T) {
	dir, cfg := testProject(t, "json")
	cfg.Platform = "oracle"

	_, err := runCommand(t, NewCompileCommand(), cfg, filepath.Join(dir, "requirements.md"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown platform "oracle"`)
}

func TestCompileCommand_InvalidDocument(t *testing.T) {
	dir, cfg := testProject(t, "json")
	path := filepath.Join(dir, "broken.md")
	require.NoError(t, os.WriteFile(path, []byte("# Nothing here\n"), 0o600))

	_, err := runCommand(t, NewCompileCommand(), cfg, path)
	require.Error(t, err)
	assert.NoDirExists(t, cfg.OutputDir)
}

func TestPlanCommand(t *testing.T) {
	dir, cfg := testProject(t, "json")
	cfg.Platform = "dbt"

	out, err := runCommand(t, NewPlanCommand(), cfg, filepath.Join(dir, "requirements.md"))
	require.NoError(t, err)

	var plan struct {
		Order  []string   `json:"order"`
		Levels [][]string `json:"levels"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	assert.Equal(t, [][]string{{"stg_customers", "stg_orders"}, {"fct_country_revenue"}}, plan.Levels)

	out, err = runCommand(t, NewPlanCommand(), cfg, filepath.Join(dir, "requirements.md"), "--select", "stg_customers")
	require.NoError(t, err)
	plan.Levels = nil
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	assert.Equal(t, [][]string{{"stg_customers"}}, plan.Levels)

	cfg.OutputFormat = "markdown"
	out, err = runCommand(t, NewPlanCommand(), cfg, filepath.Join(dir, "requirements.md"))
	require.NoError(t, err)
	assert.Contains(t, out, "## Level 1")
	assert.Contains(t, out, "- **Total Models:** 3")
	assert.Contains(t, out, "- **Leaves:** fct_country_revenue")
	testutil.AssertValidMarkdown(t, out)
}

func TestPlatformsCommand(t *testing.T) {
	_, cfg := testProject(t, "json")
	cfg.Platform = "dbt"

	out, err := runCommand(t, NewPlatformsCommand(), cfg)
	require.NoError(t, err)

	var infos []PlatformInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	var names []string
	for _, info := range infos {
		names = append(names, info.Name)
		assert.Equal(t, info.Name == "dbt", info.Selected, info.Name)
	}
	assert.Subset(t, names, []string{"dataform", "dbt", "leapsql"})

	cfg.OutputFormat = "markdown"
	out, err = runCommand(t, NewPlatformsCommand(), cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "dbt *")
	assert.Contains(t, out, "| Name")
}

func TestExportCommand(t *testing.T) {
	dir, cfg := testProject(t, "json")
	input := filepath.Join(dir, "requirements.md")

	t.Run("mermaid to stdout", func(t *testing.T) {
		out, err := runCommand(t, NewExportCommand(), cfg, input, "--format", "mermaid")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "graph TD"), out)
		assert.Contains(t, out, "stg_customers")
	})

	t.Run("markdown round trip", func(t *testing.T) {
		path := filepath.Join(dir, "exported.md")
		_, err := runCommand(t, NewExportCommand(), cfg, input, "--out", path, "--title", "Exported")
		require.NoError(t, err)

		// the exported document parses into the same spec
		specOut, err := runCommand(t, NewSpecCommand(), cfg, path)
		require.NoError(t, err)
		origOut, err := runCommand(t, NewSpecCommand(), cfg, input)
		require.NoError(t, err)
		assert.JSONEq(t, origOut, specOut)
	})

	t.Run("html", func(t *testing.T) {
		path := filepath.Join(dir, "review", "index.html")
		out, err := runCommand(t, NewExportCommand(), cfg, input, "--format", "html", "--out", path, "--title", "Review")
		require.NoError(t, err)
		assert.Contains(t, out, path)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "<title>Review</title>")
		assert.Contains(t, string(data), `<section id="model-fct_country_revenue">`)
	})

	t.Run("csv needs out", func(t *testing.T) {
		_, err := runCommand(t, NewExportCommand(), cfg, input, "--format", "csv")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--out <dir> is required")
	})

	t.Run("csv", func(t *testing.T) {
		outDir := filepath.Join(dir, "sheets")
		out, err := runCommand(t, NewExportCommand(), cfg, input, "--format", "csv", "--out", outDir)
		require.NoError(t, err)
		var got map[string][]string
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.NotEmpty(t, got["files"])
		for _, f := range got["files"] {
			assert.FileExists(t, f)
		}
	})

	t.Run("model needs markdown", func(t *testing.T) {
		_, err := runCommand(t, NewExportCommand(), cfg, input, "--format", "yaml", "--model", "stg_orders")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "only supported for markdown")
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := runCommand(t, NewExportCommand(), cfg, input, "--format", "xlsx")
		require.Error(t, err)
	})
}

func TestSpecCommand(t *testing.T) {
	dir, cfg := testProject(t, "json")
	input := filepath.Join(dir, "requirements.md")

	t.Run("stdout", func(t *testing.T) {
		out, err := runCommand(t, NewSpecCommand(), cfg, input)
		require.NoError(t, err)
		ps, err := spec.Unmarshal([]byte(out), spec.FormatJSON)
		require.NoError(t, err)
		assert.Equal(t, []string{"stg_customers", "stg_orders", "fct_country_revenue"}, ps.Names())
	})

	t.Run("out and docs", func(t *testing.T) {
		specPath := filepath.Join(dir, "spec.yaml")
		docsDir := filepath.Join(dir, "docs")
		out, err := runCommand(t, NewSpecCommand(), cfg, input, "--out", specPath, "--docs", docsDir)
		require.NoError(t, err)

		var got SpecOutput
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, specPath, got.Spec)
		assert.Len(t, got.Documents, 3)
		assert.FileExists(t, filepath.Join(docsDir, "stg_orders.md"))

		// the persisted spec compiles like the document
		compiled, err := runCommand(t, NewCompileCommand(), cfg, specPath)
		require.NoError(t, err)
		assert.Contains(t, compiled, `"fct_country_revenue"`)
	})
}
