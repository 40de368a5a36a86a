// Package cli provides the command-line interface for specpipe.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/specpipe/internal/cli/commands"
	"github.com/leapstack-labs/specpipe/internal/cli/config"
	"github.com/leapstack-labs/specpipe/pkg/platform"
)

var cfgFile string

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "specpipe",
		Short: "specpipe - requirements tables to SQL",
		Long: `specpipe turns markdown requirements documents into SQL models and tests.

A requirements document describes each model as a set of tables: column
mappings, joins, filters, aggregations and output constraints. specpipe
validates them into a pipeline spec, orders the models by dependency and
generates one SQL file per model plus self-contained test scripts for the
selected platform (Dataform, dbt, LeapSQL or a scripted platform).`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			// cmd.Flags() holds the persistent flags plus the command's own
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			if _, err := cfg.RegisterPlatforms(); err != nil {
				return fmt.Errorf("failed to load platforms: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			level := slog.LevelInfo
			if cfg.Verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = context.WithValue(ctx, config.LoggerKey(), logger)
			cmd.SetContext(config.WithConfig(ctx, cfg))

			if cfg.File != "" {
				logger.Debug("using config file", "path", cfg.File)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set version template
	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
Requirements tables to SQL models and tests
`)

	// Global persistent flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: specpipe.yaml found upward)")
	flags.BoolP("verbose", "v", false, "Verbose output")
	flags.StringP("output", "o", "", "Output format (auto|text|markdown|json)")
	flags.StringP("platform", "p", "", "Target platform (default dataform)")
	flags.Int("workers", 0, "Models generated in parallel (default GOMAXPROCS)")
	flags.String("output-dir", "", "Directory for generated files")
	flags.String("platforms-dir", "", "Directory of scripted platforms (*.star)")
	flags.String("raw-schema", "", "Schema of raw sources")
	flags.String("staging-schema", "", "Schema of staging models")
	flags.String("final-schema", "", "Schema of final models")
	flags.Bool("suggest", false, "Ask the suggestion service to fill unresolved transforms")
	flags.String("suggest-endpoint", "", "Suggestion service URL")
	flags.String("suggest-model", "", "Model name sent to the suggestion service")
	flags.Duration("suggest-timeout", 0, "Suggestion request timeout")

	// Register completion for output flag
	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return config.OutputFormats, cobra.ShellCompDirectiveNoFileComp
	})

	// Register completion for platform flag
	_ = rootCmd.RegisterFlagCompletionFunc("platform", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return platform.List(), cobra.ShellCompDirectiveNoFileComp
	})

	// Inputs are documents or persisted specs
	_ = rootCmd.MarkPersistentFlagDirname("output-dir")
	_ = rootCmd.MarkPersistentFlagDirname("platforms-dir")

	// Add subcommands
	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewSpecCommand())
	rootCmd.AddCommand(commands.NewCompileCommand())
	rootCmd.AddCommand(commands.NewTestsCommand())
	rootCmd.AddCommand(commands.NewBuildCommand())
	rootCmd.AddCommand(commands.NewPlanCommand())
	rootCmd.AddCommand(commands.NewPlatformsCommand())
	rootCmd.AddCommand(commands.NewExportCommand())
	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewInitCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	setInputCompletion(rootCmd)

	return rootCmd
}

// setInputCompletion completes positional inputs with document and spec files.
func setInputCompletion(root *cobra.Command) {
	exts := []string{"md", "markdown", "html", "htm", "json", "yaml", "yml"}

	for _, c := range root.Commands() {
		switch c.Name() {
		case "spec", "compile", "tests", "build", "plan", "export":
			c.ValidArgsFunction = func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
				if len(args) > 0 {
					return nil, cobra.ShellCompDirectiveNoFileComp
				}
				return exts, cobra.ShellCompDirectiveFilterFileExt
			}
		}
	}
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for specpipe.

To load completions:

Bash:
  $ source <(specpipe completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ specpipe completion bash > /etc/bash_completion.d/specpipe
  # macOS:
  $ specpipe completion bash > $(brew --prefix)/etc/bash_completion.d/specpipe

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ specpipe completion zsh > "${fpath[1]}/_specpipe"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ specpipe completion fish | source

  # To load completions for each session, execute once:
  $ specpipe completion fish > ~/.config/fish/completions/specpipe.fish

PowerShell:
  PS> specpipe completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> specpipe completion powershell > specpipe.ps1
  # and source this file from your PowerShell profile.
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
