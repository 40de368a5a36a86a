// Package export renders a pipeline spec for human review: markdown mapping
// documents that parse back into the same spec, CSV sheets, a Mermaid
// lineage diagram and an HTML page combining them. Exporters only read the
// spec and refuse invalid ones.
package export

import (
	"fmt"

	"github.com/leapstack-labs/specpipe/internal/builder"
	"github.com/leapstack-labs/specpipe/internal/dag"
	"github.com/leapstack-labs/specpipe/internal/spec"
)

// Format names an export format.
type Format string

// Export formats.
const (
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
	FormatMermaid  Format = "mermaid"
	FormatHTML     Format = "html"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

// Formats lists every export format.
func Formats() []Format {
	return []Format{FormatMarkdown, FormatCSV, FormatMermaid, FormatHTML, FormatJSON, FormatYAML}
}

// ParseFormat resolves a format name.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats() {
		if string(f) == s {
			return f, nil
		}
	}
	if s == "md" {
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// validate checks the spec invariants and returns its dependency graph.
func validate(ps *spec.PipelineSpec) (*dag.Graph, error) {
	if ps == nil {
		return nil, fmt.Errorf("no spec to export")
	}
	if err := builder.Check(ps); err != nil {
		return nil, fmt.Errorf("invalid spec: %w", err)
	}
	g, err := builder.Graph(ps)
	if err != nil {
		return nil, fmt.Errorf("invalid spec: %w", err)
	}
	return g, nil
}

// externalSources lists sources that are not models, in first-seen order.
func externalSources(ps *spec.PipelineSpec) []string {
	models := ps.NameSet()
	seen := make(map[string]bool)
	var out []string
	for _, m := range ps.Models {
		for _, s := range m.Sources {
			if models[s] || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
