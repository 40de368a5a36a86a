package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/specpipe/internal/builder"
	"github.com/leapstack-labs/specpipe/internal/reqdoc"
	"github.com/leapstack-labs/specpipe/internal/spec"
	"github.com/leapstack-labs/specpipe/internal/suggest"
)

// ErrNoModels is returned when a document has no model sections and no
// suggestion produced any.
var ErrNoModels = errors.New("document has no model sections")

// IsSpecFile reports whether path names a persisted spec rather than a
// requirements document.
func IsSpecFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads a pipeline from a persisted spec or a requirements document.
func (e *Engine) Load(ctx context.Context, path string) (*spec.PipelineSpec, error) {
	if IsSpecFile(path) {
		return LoadSpec(path)
	}
	return e.LoadDocument(ctx, path)
}

// LoadSpec reads a persisted spec and checks its references and dependency
// graph.
func LoadSpec(path string) (*spec.PipelineSpec, error) {
	ps, err := spec.Load(path)
	if err != nil {
		return nil, err
	}
	if err := builder.Check(ps); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ps, nil
}

// LoadDocument reads and builds a requirements document.
func (e *Engine) LoadDocument(ctx context.Context, path string) (*spec.PipelineSpec, error) {
	src, err := reqdoc.ReadSource(path)
	if err != nil {
		return nil, err
	}
	ps, err := e.ParseDocument(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ps, nil
}

// ParseDocument parses and builds a markdown document. A document without
// model sections is handed to the suggester once; its answer is parsed like
// any other document.
func (e *Engine) ParseDocument(ctx context.Context, src string) (*spec.PipelineSpec, error) {
	opts := reqdoc.Options{Namespaces: e.namespaces}
	doc, err := reqdoc.Parse(src, opts)
	if err != nil {
		return nil, err
	}
	if len(doc.Models) == 0 {
		e.logger.Info("document has no model sections, asking for a suggestion")
		if suggested := suggest.Try(ctx, e.suggester, src, e.logger); suggested != "" {
			doc, err = reqdoc.Parse(suggested, opts)
			if err != nil {
				return nil, fmt.Errorf("suggested document: %w", err)
			}
		}
	}
	if len(doc.Models) == 0 {
		return nil, ErrNoModels
	}
	return builder.New(e.logger).Build(doc)
}
