package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/specpipe/internal/cli/output"
	"github.com/leapstack-labs/specpipe/internal/export"
	"github.com/leapstack-labs/specpipe/internal/spec"
)

// NewExportCommand creates the export command.
func NewExportCommand() *cobra.Command {
	var format string
	var outPath string
	var title string
	var model string

	cmd := &cobra.Command{
		Use:   "export <input>",
		Short: "Export a pipeline spec",
		Long: `Export a validated pipeline spec in another format.

Formats:
  markdown  requirements document that parses back into the same spec
  csv       overview, columns, joins, tests and lineage sheets (needs --out <dir>)
  mermaid   lineage diagram
  html      review page with overview, lineage diagram and per-model tables
  json      persisted spec
  yaml      persisted spec

The spec is validated first; an invalid spec is never exported.`,
		Example: `  # Lineage diagram
  specpipe export requirements.md --format mermaid

  # Review page for sharing
  specpipe export requirements.md --format html --out review.html

  # Spreadsheet-friendly sheets
  specpipe export spec.yaml --format csv --out export/

  # One model as a mapping document
  specpipe export spec.yaml --format markdown --model stg_orders`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(strings.ToLower(format))
			if err != nil {
				return err
			}
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			ps, err := loadInput(cmd.Context(), cmdCtx.Engine, args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			if f == export.FormatCSV {
				if outPath == "" {
					return fmt.Errorf("--out <dir> is required for csv export")
				}
				paths, err := export.WriteCSV(outPath, ps)
				if err != nil {
					return err
				}
				return renderWritten(cmdCtx.Renderer, paths)
			}

			data, err := exportBytes(ps, f, title, model)
			if err != nil {
				return err
			}
			if outPath == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return fmt.Errorf("failed to write %s: %w", outPath, err)
			}
			return renderWritten(cmdCtx.Renderer, []string{outPath})
		},
	}

	formats := make([]string, 0, len(export.Formats()))
	for _, f := range export.Formats() {
		formats = append(formats, string(f))
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(export.FormatMarkdown), "Export format ("+strings.Join(formats, "|")+")")
	cmd.Flags().StringVar(&outPath, "out", "", "Output file (directory for csv); stdout when empty")
	cmd.Flags().StringVar(&title, "title", "", "Document title for markdown and html export")
	cmd.Flags().StringVar(&model, "model", "", "Export a single model (markdown only)")
	_ = cmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return formats, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func exportBytes(ps *spec.PipelineSpec, f export.Format, title, model string) ([]byte, error) {
	if model != "" && f != export.FormatMarkdown {
		return nil, fmt.Errorf("--model is only supported for markdown export")
	}
	switch f {
	case export.FormatMarkdown:
		if model != "" {
			return export.ModelMarkdown(ps, model)
		}
		return export.Markdown(ps, export.MarkdownOptions{Title: title})
	case export.FormatMermaid:
		diagram, err := export.Mermaid(ps)
		return []byte(diagram), err
	case export.FormatHTML:
		return export.HTML(ps, export.HTMLOptions{Title: title})
	case export.FormatJSON:
		return spec.Marshal(ps, spec.FormatJSON)
	case export.FormatYAML:
		return spec.Marshal(ps, spec.FormatYAML)
	}
	return nil, fmt.Errorf("unsupported export format %q", f)
}

func renderWritten(r *output.Renderer, paths []string) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(map[string][]string{"files": paths})
	}
	for _, p := range paths {
		r.StatusLine(p, "success", "")
	}
	return nil
}
