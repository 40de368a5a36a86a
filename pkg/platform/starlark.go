package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

const maxScriptSteps = uint64(100_000)

// LoadError reports a platform script that cannot be loaded.
type LoadError struct {
	File    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("platforms/%s: %s", filepath.Base(e.File), e.Message)
}

// LoadDir loads every .star file in dir as a platform. A missing directory
// yields no platforms. Files are loaded in name order.
func LoadDir(dir string) ([]*Platform, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to access platforms directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("platforms path is not a directory: %s", dir)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.star"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan platforms directory: %w", err)
	}
	var out []*Platform
	for _, file := range files {
		p, err := LoadFile(file)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// LoadFile loads one platform script.
//
// The script sets extension (required), and optionally name, description,
// quote and quote_end. It may define ref(name, schema),
// source(name, schema) and config(model); each returns a string.
func LoadFile(path string) (*Platform, error) {
	content, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the platforms directory
	if err != nil {
		return nil, &LoadError{File: path, Message: fmt.Sprintf("failed to read file: %v", err)}
	}

	thread := &starlark.Thread{
		Name:  "load:" + filepath.Base(path),
		Print: func(_ *starlark.Thread, _ string) {},
	}
	thread.SetMaxExecutionSteps(maxScriptSteps)
	globals, err := starlark.ExecFileOptions(&syntax.FileOptions{}, thread, path, content, nil)
	if err != nil {
		return nil, &LoadError{File: path, Message: fmt.Sprintf("Starlark execution error: %v", err)}
	}

	name := strings.TrimSuffix(filepath.Base(path), ".star")
	p := &Platform{Name: name}
	strs := map[string]*string{
		"name":        &p.Name,
		"description": &p.Description,
		"extension":   &p.Extension,
		"quote":       &p.Quote,
		"quote_end":   &p.QuoteEnd,
	}
	for key, dst := range strs {
		v, ok := globals[key]
		if !ok {
			continue
		}
		s, ok := starlark.AsString(v)
		if !ok {
			return nil, &LoadError{File: path, Message: fmt.Sprintf("%s must be a string, got %s", key, v.Type())}
		}
		*dst = s
	}
	if p.Extension == "" {
		return nil, &LoadError{File: path, Message: "extension is required"}
	}
	if !strings.HasPrefix(p.Extension, ".") {
		p.Extension = "." + p.Extension
	}
	if p.Quote == "" {
		p.Quote = `"`
	}

	if fn, err := callable(globals, "ref", path); err != nil {
		return nil, err
	} else if fn != nil {
		p.Ref = relationFunc(p.Name, fn)
	}
	if fn, err := callable(globals, "source", path); err != nil {
		return nil, err
	} else if fn != nil {
		p.Source = relationFunc(p.Name, fn)
	}
	if fn, err := callable(globals, "config", path); err != nil {
		return nil, err
	} else if fn != nil {
		p.Config = func(m Model) (string, error) {
			return callString(p.Name, fn, starlark.Tuple{modelValue(m)})
		}
	}
	return p, nil
}

func callable(globals starlark.StringDict, name, path string) (starlark.Callable, error) {
	v, ok := globals[name]
	if !ok {
		return nil, nil
	}
	fn, ok := v.(starlark.Callable)
	if !ok {
		return nil, &LoadError{File: path, Message: fmt.Sprintf("%s must be a function, got %s", name, v.Type())}
	}
	return fn, nil
}

func relationFunc(platform string, fn starlark.Callable) func(Relation) (string, error) {
	return func(rel Relation) (string, error) {
		return callString(platform, fn, starlark.Tuple{starlark.String(rel.Name), starlark.String(rel.Schema)})
	}
}

// callString calls fn on a fresh thread. Script globals are frozen after
// loading, so concurrent calls are safe.
func callString(platform string, fn starlark.Callable, args starlark.Tuple) (string, error) {
	thread := &starlark.Thread{
		Name:  platform + ":" + fn.Name(),
		Print: func(_ *starlark.Thread, _ string) {},
	}
	thread.SetMaxExecutionSteps(maxScriptSteps)
	v, err := starlark.Call(thread, fn, args, nil)
	if err != nil {
		return "", fmt.Errorf("platform %s: %s: %w", platform, fn.Name(), err)
	}
	if v == starlark.None {
		return "", nil
	}
	s, ok := starlark.AsString(v)
	if !ok {
		return "", fmt.Errorf("platform %s: %s must return a string, got %s", platform, fn.Name(), v.Type())
	}
	return s, nil
}

func modelValue(m Model) starlark.Value {
	accepted := make([]starlark.Value, len(m.Tests.AcceptedValues))
	for i, av := range m.Tests.AcceptedValues {
		accepted[i] = starlarkstruct.FromStringDict(starlark.String("accepted_values"), starlark.StringDict{
			"column": starlark.String(av.Column),
			"values": stringList(av.Values),
		})
	}
	return starlarkstruct.FromStringDict(starlark.String("model"), starlark.StringDict{
		"name":         starlark.String(m.Name),
		"schema":       starlark.String(m.Schema),
		"layer":        starlark.String(m.Layer),
		"description":  starlark.String(m.Description),
		"primary_key":  stringList(m.PrimaryKey),
		"partition_by": starlark.String(m.PartitionBy),
		"cluster_by":   stringList(m.ClusterBy),
		"depends_on":   stringList(m.DependsOn),
		"unique":       stringList(m.Tests.Unique),
		"not_null":     stringList(m.Tests.NotNull),
		"accepted":     starlark.NewList(accepted),
	})
}

func stringList(items []string) *starlark.List {
	vals := make([]starlark.Value, len(items))
	for i, s := range items {
		vals[i] = starlark.String(s)
	}
	return starlark.NewList(vals)
}
