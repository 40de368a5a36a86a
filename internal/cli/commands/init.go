package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/specpipe/internal/cli/output"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool
	var example bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new specpipe project",
		Long: `Initialize a new specpipe project.

This creates:
  - specpipe.yaml configuration file
  - requirements.md, a requirements template with one model

Use --example to create a three-model pipeline with a join, a filter,
an aggregation and a scripted Trino platform in platforms/.`,
		Example: `  # Initialize in current directory
  specpipe init

  # Initialize with a full working example
  specpipe init my-pipeline --example

  # Force overwrite existing config
  specpipe init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			r := NewCommandContextWithoutEngine(cmd).Renderer

			template := "minimal"
			if example {
				template = "example"
			}
			return runInit(r, dir, template, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")
	cmd.Flags().BoolVar(&example, "example", false, "Create a full example pipeline")

	return cmd
}

func runInit(r *output.Renderer, dir, template string, force bool) error {
	if dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	configPath := filepath.Join(dir, "specpipe.yaml")
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("specpipe.yaml already exists. Use --force to overwrite")
	}

	files, err := copyTemplate(template, dir, force)
	if err != nil {
		return fmt.Errorf("failed to initialize project: %w", err)
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(map[string]any{"directory": dir, "template": template, "files": files})
	}

	groups := groupTemplateFiles(files)
	for _, section := range []struct{ key, title string }{
		{"config", "Configuration"},
		{"requirements", "Requirements"},
		{"platforms", "Platforms"},
	} {
		if len(groups[section.key]) == 0 {
			continue
		}
		r.Header(2, section.title)
		for _, f := range groups[section.key] {
			r.StatusLine(f, "success", "")
		}
		r.Println("")
	}

	r.Success("specpipe project initialized!")
	r.Println("")
	r.Println("Next steps:")
	if template == "example" {
		r.Println("  specpipe plan requirements/pipeline.md                      Show the model order")
		r.Println("  specpipe build requirements/pipeline.md                     Generate models and tests")
		r.Println("  specpipe build requirements/pipeline.md --platform trino    Use the scripted platform")
	} else {
		r.Println("  1. Describe your models in requirements.md")
		r.Println("  2. Run 'specpipe plan requirements.md' to check the order")
		r.Println("  3. Run 'specpipe build requirements.md' to generate SQL and tests")
	}
	return nil
}
