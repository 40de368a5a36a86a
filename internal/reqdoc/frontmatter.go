package reqdoc

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/specpipe/internal/spec"
	"gopkg.in/yaml.v3"
)

// Config is the document-level configuration found in YAML frontmatter or
// in a fenced yaml block before the first model.
type Config struct {
	Title       string         `yaml:"title"`
	Description string         `yaml:"description"`
	Owner       string         `yaml:"owner"`
	Schema      SchemaConfig   `yaml:"schema"`
	Meta        map[string]any `yaml:"meta"`
}

// SchemaConfig names the schema used for each layer.
type SchemaConfig struct {
	RawSchema     string `yaml:"raw_schema"`
	StagingSchema string `yaml:"staging_schema"`
	FinalSchema   string `yaml:"final_schema"`
}

// Namespaces converts the schema block, leaving unset layers blank.
func (s SchemaConfig) Namespaces() spec.Namespaces {
	return spec.Namespaces{Raw: s.RawSchema, Staging: s.StagingSchema, Final: s.FinalSchema}
}

var knownConfigFields = map[string]bool{
	"title":       true,
	"description": true,
	"owner":       true,
	"schema":      true,
	"meta":        true,
}

var knownSchemaFields = map[string]bool{
	"raw_schema":     true,
	"staging_schema": true,
	"final_schema":   true,
}

// FrontmatterError reports invalid document configuration.
type FrontmatterError struct {
	Line    int
	Message string
}

func (e *FrontmatterError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// UnknownFieldError reports an unrecognized configuration key.
type UnknownFieldError struct {
	Line  int
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("line %d: unknown field %q in document config, use \"meta\" for custom fields", e.Line, e.Field)
}

// parseConfig decodes a YAML block that starts at line startLine of the document.
func parseConfig(content string, startLine int) (*Config, error) {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(content), &root); err != nil {
		return nil, &FrontmatterError{Line: startLine, Message: fmt.Sprintf("invalid YAML: %v", err)}
	}
	cfg := &Config{}
	if len(root.Content) == 0 {
		return cfg, nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, &FrontmatterError{Line: startLine + doc.Line - 1, Message: "document config must be a mapping"}
	}

	for i := 0; i+1 < len(doc.Content); i += 2 {
		key, value := doc.Content[i], doc.Content[i+1]
		if !knownConfigFields[key.Value] {
			return nil, &UnknownFieldError{Line: startLine + key.Line - 1, Field: key.Value}
		}
		if key.Value == "schema" && value.Kind == yaml.MappingNode {
			for j := 0; j+1 < len(value.Content); j += 2 {
				sk := value.Content[j]
				if !knownSchemaFields[sk.Value] {
					return nil, &UnknownFieldError{Line: startLine + sk.Line - 1, Field: "schema." + sk.Value}
				}
			}
		}
	}

	if err := doc.Decode(cfg); err != nil {
		return nil, &FrontmatterError{Line: startLine, Message: fmt.Sprintf("failed to parse document config: %v", err)}
	}
	cfg.Schema.RawSchema = strings.TrimSpace(cfg.Schema.RawSchema)
	cfg.Schema.StagingSchema = strings.TrimSpace(cfg.Schema.StagingSchema)
	cfg.Schema.FinalSchema = strings.TrimSpace(cfg.Schema.FinalSchema)
	return cfg, nil
}
