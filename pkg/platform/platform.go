// Package platform describes target platforms for generated SQL: file
// extension, identifier quoting, cross-model reference syntax and the
// configuration block placed above each compiled model.
//
// This package has no dependency on the spec model so that external tools
// can register their own platforms.
package platform

import (
	"errors"
	"regexp"
	"strings"
)

// ErrPlatformRequired is returned when a platform is required but not provided.
var ErrPlatformRequired = errors.New("platform is required")

// Relation names a table by schema and name.
type Relation struct {
	Schema string
	Name   string
}

// AcceptedValues is an accepted_values test on one column.
type AcceptedValues struct {
	Column string
	Values []string
}

// Tests are the column tests a platform may declare natively.
type Tests struct {
	Unique         []string
	NotNull        []string
	AcceptedValues []AcceptedValues
}

// Empty reports whether no tests are declared.
func (t Tests) Empty() bool {
	return len(t.Unique) == 0 && len(t.NotNull) == 0 && len(t.AcceptedValues) == 0
}

// Model is the platform-facing view of a compiled model.
type Model struct {
	Name        string
	Schema      string
	Layer       string
	Description string
	PrimaryKey  []string
	PartitionBy string
	ClusterBy   []string
	DependsOn   []string
	Tests       Tests
}

// Platform renders platform-specific fragments of a compiled model.
type Platform struct {
	Name        string
	Description string
	// Extension of generated files, including the dot.
	Extension string
	// Quote and QuoteEnd delimit quoted identifiers.
	Quote    string
	QuoteEnd string

	// Ref renders a reference to another model of the pipeline.
	Ref func(rel Relation) (string, error)
	// Source renders a reference to a table outside the pipeline.
	Source func(rel Relation) (string, error)
	// Config renders the configuration block, or "" for none.
	Config func(m Model) (string, error)
}

var simpleIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// QuoteIdent quotes name unless it is a plain identifier.
func (p *Platform) QuoteIdent(name string) string {
	if simpleIdent.MatchString(name) {
		return name
	}
	end := p.QuoteEnd
	if end == "" {
		end = p.Quote
	}
	return p.Quote + strings.ReplaceAll(name, end, end+end) + end
}

// RenderRef renders a model reference, falling back to schema.name.
func (p *Platform) RenderRef(rel Relation) (string, error) {
	if p.Ref != nil {
		return p.Ref(rel)
	}
	return p.qualified(rel), nil
}

// RenderSource renders a source table reference, falling back to schema.name.
func (p *Platform) RenderSource(rel Relation) (string, error) {
	if p.Source != nil {
		return p.Source(rel)
	}
	return p.qualified(rel), nil
}

// RenderConfig renders the configuration block.
func (p *Platform) RenderConfig(m Model) (string, error) {
	if p.Config == nil {
		return "", nil
	}
	return p.Config(m)
}

func (p *Platform) qualified(rel Relation) string {
	if rel.Schema == "" {
		return p.QuoteIdent(rel.Name)
	}
	return p.QuoteIdent(rel.Schema) + "." + p.QuoteIdent(rel.Name)
}
