// Package engine orchestrates a specpipe run.
// It loads a requirements document or a persisted spec, resolves the model
// order, generates SQL units and test suites, and writes the artifacts.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/specpipe/internal/builder"
	"github.com/leapstack-labs/specpipe/internal/codegen"
	"github.com/leapstack-labs/specpipe/internal/spec"
	"github.com/leapstack-labs/specpipe/internal/suggest"
	"github.com/leapstack-labs/specpipe/internal/testgen"
	"github.com/leapstack-labs/specpipe/pkg/platform"
)

// Engine runs the pipeline for one target platform.
type Engine struct {
	platform   *platform.Platform
	namespaces spec.Namespaces
	workers    int
	suggester  suggest.Suggester
	logger     *slog.Logger
}

// Config holds engine configuration.
type Config struct {
	// Platform is the target platform (required).
	Platform *platform.Platform
	// Namespaces are the fallback schemas for documents that set none.
	Namespaces spec.Namespaces
	// Workers bounds concurrent per-model generation. Zero means GOMAXPROCS.
	Workers int
	// Suggester is asked for a document when the input has no model sections.
	Suggester suggest.Suggester
	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Platform == nil {
		return nil, platform.ErrPlatformRequired
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	suggester := cfg.Suggester
	if suggester == nil {
		suggester = suggest.Noop{}
	}

	logger.Debug("initializing engine", "platform", cfg.Platform.Name, "workers", workers)
	return &Engine{
		platform:   cfg.Platform,
		namespaces: cfg.Namespaces.WithDefaults(),
		workers:    workers,
		suggester:  suggester,
		logger:     logger,
	}, nil
}

// Platform returns the engine's target platform.
func (e *Engine) Platform() *platform.Platform {
	return e.platform
}

// WithPlatform returns a copy of the engine targeting p.
func (e *Engine) WithPlatform(p *platform.Platform) *Engine {
	cp := *e
	cp.platform = p
	return &cp
}

// Result holds everything generated by one run.
type Result struct {
	RunID    string
	Platform string
	Spec     *spec.PipelineSpec
	Order    []string
	Units    []*codegen.Unit
	Manifest *codegen.Manifest
	Suites   []*testgen.Suite
}

// Compile generates the SQL units and the manifest.
func (e *Engine) Compile(ctx context.Context, ps *spec.PipelineSpec) (*Result, error) {
	return e.run(ctx, ps, true, false)
}

// Tests generates the test suites.
func (e *Engine) Tests(ctx context.Context, ps *spec.PipelineSpec) (*Result, error) {
	return e.run(ctx, ps, false, true)
}

// Build generates units, manifest and test suites.
func (e *Engine) Build(ctx context.Context, ps *spec.PipelineSpec) (*Result, error) {
	return e.run(ctx, ps, true, true)
}

// BuildFile loads path and builds it.
func (e *Engine) BuildFile(ctx context.Context, path string) (*Result, error) {
	ps, err := e.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	return e.Build(ctx, ps)
}

func (e *Engine) run(ctx context.Context, ps *spec.PipelineSpec, units, tests bool) (*Result, error) {
	order, err := builder.ResolveOrder(ps)
	if err != nil {
		return nil, err
	}
	res := &Result{
		RunID:    uuid.New().String(),
		Platform: e.platform.Name,
		Spec:     ps,
		Order:    order,
	}
	e.logger.Info("starting run", "run_id", res.RunID, "platform", e.platform.Name, "models", len(order))

	models := codegen.Models(ps)
	if units {
		compiler, err := codegen.New(codegen.Config{Platform: e.platform, Namespaces: ps.Namespaces, Logger: e.logger})
		if err != nil {
			return nil, err
		}
		res.Units, err = forEach(ctx, e.workers, order, func(name string) (*codegen.Unit, error) {
			return compiler.Compile(models[name], models)
		})
		if err != nil {
			return nil, err
		}
		res.Manifest = compiler.NewManifest(ps, res.Units)
	}
	if tests {
		gen, err := testgen.New(testgen.Config{Platform: e.platform, Logger: e.logger})
		if err != nil {
			return nil, err
		}
		res.Suites, err = forEach(ctx, e.workers, order, func(name string) (*testgen.Suite, error) {
			return gen.Generate(models[name])
		})
		if err != nil {
			return nil, err
		}
		for _, s := range res.Suites {
			for _, sk := range s.Skipped {
				e.logger.Warn("test skipped", "model", sk.Model, "column", sk.Column, "kind", sk.Kind, "reason", sk.Reason)
			}
		}
	}

	e.logger.Info("run completed", "run_id", res.RunID, "units", len(res.Units), "suites", len(res.Suites))
	return res, nil
}

// forEach runs fn for every name on at most workers goroutines. Results land
// in the slot of their name so output order is the input order. When several
// names fail, the error of the earliest one is returned.
func forEach[T any](ctx context.Context, workers int, names []string, fn func(name string) (T, error)) ([]T, error) {
	out := make([]T, len(names))
	errs := make([]error, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, err := fn(name)
			if err != nil {
				errs[i] = fmt.Errorf("model %q: %w", name, err)
				return nil
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
