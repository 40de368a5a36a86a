package export

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/leapstack-labs/specpipe/internal/spec"
)

var unsafeID = regexp.MustCompile(`[^A-Za-z0-9_]`)

// Mermaid renders the lineage of the spec as a Mermaid flowchart: external
// sources as cylinders, models as boxes styled by layer.
func Mermaid(ps *spec.PipelineSpec) (string, error) {
	if _, err := validate(ps); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("graph TD\n")
	for _, s := range externalSources(ps) {
		fmt.Fprintf(&b, "    %s[(%s)]:::source\n", nodeID(s), s)
	}
	for _, m := range ps.Models {
		fmt.Fprintf(&b, "    %s[%s]:::%s\n", nodeID(m.Name), m.Name, m.Layer)
	}
	for _, m := range ps.Models {
		for _, s := range m.Sources {
			fmt.Fprintf(&b, "    %s --> %s\n", nodeID(s), nodeID(m.Name))
		}
	}
	b.WriteString("    classDef source fill:#e1f5ff,stroke:#01579b,stroke-width:2px\n")
	b.WriteString("    classDef raw fill:#f9f,stroke:#333,stroke-width:2px\n")
	b.WriteString("    classDef staging fill:#bbf,stroke:#333,stroke-width:2px\n")
	b.WriteString("    classDef final fill:#bfb,stroke:#333,stroke-width:3px\n")
	return b.String(), nil
}

func nodeID(name string) string {
	return unsafeID.ReplaceAllString(name, "_")
}
