package spec

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// cue.Context is not safe for concurrent use.
var schemaMu sync.Mutex

// CheckSchema validates a persisted spec document against the embedded CUE
// schema before it is decoded into Go types.
func CheckSchema(data []byte, format Format) error {
	var doc any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return &SchemaError{Message: err.Error()}
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return &SchemaError{Message: err.Error()}
		}
	}
	if doc == nil {
		return &SchemaError{Message: "empty document"}
	}

	schemaMu.Lock()
	defer schemaMu.Unlock()

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile spec schema: %w", err)
	}

	value := ctx.Encode(doc)
	if err := value.Err(); err != nil {
		return &SchemaError{Message: err.Error()}
	}

	unified := schema.LookupPath(cue.ParsePath("#Pipeline")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{Message: strings.TrimSpace(cueerrors.Details(err, nil))}
	}
	return nil
}
