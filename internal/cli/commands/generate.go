package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/specpipe/internal/builder"
	"github.com/leapstack-labs/specpipe/internal/cli/output"
	"github.com/leapstack-labs/specpipe/internal/engine"
	"github.com/leapstack-labs/specpipe/internal/spec"
	"github.com/leapstack-labs/specpipe/internal/testgen"
)

// GenerateOutput is the JSON output of compile, tests and build.
type GenerateOutput struct {
	RunID     string            `json:"run_id"`
	Platform  string            `json:"platform"`
	OutputDir string            `json:"output_dir"`
	Order     []string          `json:"order"`
	Files     []string          `json:"files"`
	Cases     int               `json:"cases"`
	Skipped   []testgen.Skipped `json:"skipped,omitempty"`
}

type generateKind int

const (
	generateUnits generateKind = iota
	generateTests
	generateAll
)

// NewCompileCommand creates the compile command.
func NewCompileCommand() *cobra.Command {
	return newGenerateCommand(generateUnits, &cobra.Command{
		Use:   "compile <input>",
		Short: "Generate SQL models",
		Long: `Generate one SQL file per model plus manifest.json.

The input is a requirements document (.md, .html) or a persisted spec
(.json, .yaml). Use - to read a markdown document from stdin. Files are
written to the output directory in the dialect of the selected platform.`,
		Example: `  # Compile for the default platform
  specpipe compile requirements.md

  # Compile a persisted spec for dbt into ./models
  specpipe compile spec.yaml --platform dbt --output-dir models

  # Only one mart and the models it reads from
  specpipe compile requirements.md --select fct_country_revenue`,
	})
}

// NewTestsCommand creates the tests command.
func NewTestsCommand() *cobra.Command {
	return newGenerateCommand(generateTests, &cobra.Command{
		Use:   "tests <input>",
		Short: "Generate SQL tests",
		Long: `Generate one SQL test script per model plus tests/results.json.

Each column test becomes a self-contained case: a fixture of input rows,
the transform replayed on them, and an assertion expected to pass.`,
		Example: `  specpipe tests requirements.md --output-dir build`,
	})
}

// NewBuildCommand creates the build command.
func NewBuildCommand() *cobra.Command {
	var watch bool
	cmd := newGenerateCommand(generateAll, &cobra.Command{
		Use:   "build <input>",
		Short: "Generate SQL models and tests",
		Long: `Generate SQL models, manifest.json and test scripts in one run.

With --watch the input is rebuilt every time it changes until interrupted.`,
		Example: `  # Build once
  specpipe build requirements.md

  # Rebuild on every save
  specpipe build requirements.md --watch`,
	})
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Rebuild when the input changes")

	runOnce := cmd.RunE
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if !watch {
			return runOnce(cmd, args)
		}
		if cmd.Flags().Changed("select") {
			return fmt.Errorf("--select cannot be combined with --watch")
		}
		return runWatch(cmd, args[0])
	}
	return cmd
}

// selection narrows a pipeline to some models before generating.
type selection struct {
	models     []string
	downstream bool
}

func (s *selection) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&s.models, "select", "s", nil, "Only these models and the models they read from")
	cmd.Flags().BoolVar(&s.downstream, "downstream", false, "Also include models that depend on the selection")
}

func (s *selection) apply(ps *spec.PipelineSpec) (*spec.PipelineSpec, error) {
	if len(s.models) == 0 {
		if s.downstream {
			return nil, fmt.Errorf("--downstream needs --select")
		}
		return ps, nil
	}
	return builder.Select(ps, s.models, s.downstream)
}

func newGenerateCommand(kind generateKind, cmd *cobra.Command) *cobra.Command {
	var sel selection
	sel.register(cmd)

	cmd.Args = cobra.ExactArgs(1)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cmdCtx, err := NewCommandContext(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		ps, err := loadInput(ctx, cmdCtx.Engine, args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}
		if ps, err = sel.apply(ps); err != nil {
			return err
		}

		var res *engine.Result
		switch kind {
		case generateUnits:
			res, err = cmdCtx.Engine.Compile(ctx, ps)
		case generateTests:
			res, err = cmdCtx.Engine.Tests(ctx, ps)
		default:
			res, err = cmdCtx.Engine.Build(ctx, ps)
		}
		if err != nil {
			return err
		}
		return writeResult(cmdCtx, res)
	}
	return cmd
}

// loadInput reads a document or spec; "-" reads a markdown document from in.
func loadInput(ctx context.Context, eng *engine.Engine, path string, in io.Reader) (*spec.PipelineSpec, error) {
	if path != "-" {
		return eng.Load(ctx, path)
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	return eng.ParseDocument(ctx, string(data))
}

func writeResult(cmdCtx *CommandContext, res *engine.Result) error {
	dir := cmdCtx.Cfg.OutputDir
	files, err := cmdCtx.Engine.Write(res, dir)
	if err != nil {
		return fmt.Errorf("failed to write artifacts: %w", err)
	}
	renderResult(cmdCtx.Renderer, res, dir, files)
	return nil
}

func renderResult(r *output.Renderer, res *engine.Result, dir string, files []string) {
	var skipped []testgen.Skipped
	cases := 0
	for _, s := range res.Suites {
		skipped = append(skipped, s.Skipped...)
		cases += len(s.Cases)
	}

	if r.EffectiveMode() == output.ModeJSON {
		_ = r.JSON(GenerateOutput{
			RunID:     res.RunID,
			Platform:  res.Platform,
			OutputDir: dir,
			Order:     res.Order,
			Files:     files,
			Cases:     cases,
			Skipped:   skipped,
		})
		return
	}

	r.Header(1, fmt.Sprintf("Generated %d models for %s", len(res.Order), res.Platform))
	for _, f := range files {
		r.StatusLine(filepath.ToSlash(f), "success", "")
	}
	for _, s := range skipped {
		target := s.Model
		if s.Column != "" {
			target += "." + s.Column
		}
		r.StatusLine(fmt.Sprintf("%s %s", target, s.Kind), "skipped", s.Reason)
	}
	r.Println("")

	r.Println(output.FormatKeyValue("Order", strings.Join(res.Order, " → ")))
	if res.Suites != nil {
		r.Println(output.FormatKeyValue("Test cases", fmt.Sprintf("%d", cases)))
	}
	r.Println(output.FormatKeyValue("Output", dir))
	r.Println(output.FormatKeyValue("Run", res.RunID))
}

func runWatch(cmd *cobra.Command, path string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	if path == "-" {
		return fmt.Errorf("--watch needs a file, not stdin")
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	r := cmdCtx.Renderer
	r.Println(r.Styles().Muted.Render(fmt.Sprintf("Watching %s (Ctrl+C to stop)", path)))
	return cmdCtx.Engine.Watch(ctx, path, func(res *engine.Result, err error) {
		if err != nil {
			r.Error(err.Error())
			return
		}
		if err := writeResult(cmdCtx, res); err != nil {
			r.Error(err.Error())
		}
	})
}
