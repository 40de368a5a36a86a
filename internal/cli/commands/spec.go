package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/specpipe/internal/builder"
	"github.com/leapstack-labs/specpipe/internal/cli/output"
	"github.com/leapstack-labs/specpipe/internal/export"
	"github.com/leapstack-labs/specpipe/internal/spec"
)

// SpecOutput is the JSON summary of the spec command when writing files.
type SpecOutput struct {
	Spec      string   `json:"spec,omitempty"`
	Documents []string `json:"documents,omitempty"`
	Models    []string `json:"models"`
	Order     []string `json:"order"`
}

// NewSpecCommand creates the spec command.
func NewSpecCommand() *cobra.Command {
	var outPath string
	var docsDir string

	cmd := &cobra.Command{
		Use:   "spec <document>",
		Short: "Parse a requirements document into a pipeline spec",
		Long: `Parse a requirements document and write the validated pipeline spec.

Without --out the spec is printed to stdout as JSON. With --out the format
follows the file extension (.json, .yaml, .yml). --docs writes one
markdown mapping document per model in the same table format the parser
reads, so the documents can be edited and parsed again.`,
		Example: `  # Print the spec as JSON
  specpipe spec requirements.md

  # Persist as YAML and write per-model documents
  specpipe spec requirements.md --out spec.yaml --docs docs/models`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			ps, err := loadInput(cmd.Context(), cmdCtx.Engine, args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			order, err := builder.ResolveOrder(ps)
			if err != nil {
				return err
			}

			if outPath == "" && docsDir == "" {
				data, err := spec.Marshal(ps, spec.FormatJSON)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			out := SpecOutput{Models: ps.Names(), Order: order}
			if outPath != "" {
				if err := spec.Save(outPath, ps); err != nil {
					return err
				}
				out.Spec = outPath
			}
			if docsDir != "" {
				out.Documents, err = writeModelDocuments(docsDir, ps)
				if err != nil {
					return err
				}
			}
			return renderSpecOutput(cmdCtx.Renderer, out)
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "Write the spec to this file (.json, .yaml)")
	cmd.Flags().StringVar(&docsDir, "docs", "", "Write one markdown document per model into this directory")
	return cmd
}

func writeModelDocuments(dir string, ps *spec.PipelineSpec) ([]string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	var written []string
	for _, name := range ps.Names() {
		data, err := export.ModelMarkdown(ps, name)
		if err != nil {
			return written, err
		}
		path := filepath.Join(dir, name+".md")
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func renderSpecOutput(r *output.Renderer, out SpecOutput) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}
	if out.Spec != "" {
		r.StatusLine(out.Spec, "success", "")
	}
	for _, d := range out.Documents {
		r.StatusLine(d, "success", "")
	}
	r.Println("")
	r.Success(fmt.Sprintf("Parsed %d models", len(out.Models)))
	return nil
}
