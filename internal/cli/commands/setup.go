package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/specpipe/internal/cli/config"
	"github.com/leapstack-labs/specpipe/internal/cli/output"
	"github.com/leapstack-labs/specpipe/internal/engine"
	"github.com/leapstack-labs/specpipe/internal/suggest"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Engine   *engine.Engine
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext with engine and renderer.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	cmdCtx := NewCommandContextWithoutEngine(cmd)

	eng, err := createEngine(cmdCtx.Cfg, cmdCtx.Logger)
	if err != nil {
		return nil, err
	}
	cmdCtx.Engine = eng
	return cmdCtx, nil
}

// NewCommandContextWithoutEngine creates a CommandContext without an engine.
// Useful for commands that only inspect configuration or write templates.
func NewCommandContextWithoutEngine(cmd *cobra.Command) *CommandContext {
	cfg := getConfig(cmd)
	logger := config.GetLogger(cmd.Context())
	mode := output.Mode(cfg.OutputFormat)
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}
}

// getConfig returns the configuration loaded by the root command.
func getConfig(cmd *cobra.Command) *config.Config {
	return config.GetConfig(cmd.Context())
}

func createEngine(cfg *config.Config, logger *slog.Logger) (*engine.Engine, error) {
	p, err := cfg.SelectedPlatform()
	if err != nil {
		return nil, err
	}

	var suggester suggest.Suggester
	if cfg.Suggester.Enabled {
		s, err := suggest.NewHTTP(suggest.Config{
			Endpoint: cfg.Suggester.Endpoint,
			Model:    cfg.Suggester.Model,
			APIKey:   cfg.Suggester.APIKey,
			Timeout:  cfg.Suggester.Timeout,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure suggester: %w", err)
		}
		suggester = s
	}

	return engine.New(engine.Config{
		Platform:   p,
		Namespaces: cfg.Namespaces,
		Workers:    cfg.Workers,
		Suggester:  suggester,
		Logger:     logger,
	})
}

// signalContext returns a context cancelled on interrupt or terminate.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
