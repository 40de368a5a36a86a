package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/specpipe/internal/testgen"
)

// Artifact file names.
const (
	ManifestFile = "manifest.json"
	TestsDir     = "tests"
	ResultsFile  = "results.json"
)

// Write writes the result's artifacts under dir: one file per unit,
// manifest.json, one script per suite and tests/results.json. Every file is
// attempted; all failures are returned together. Paths are relative to dir.
func (e *Engine) Write(res *Result, dir string) ([]string, error) {
	type file struct {
		path string
		data []byte
	}
	var files []file
	var errs []error

	for _, u := range res.Units {
		files = append(files, file{u.Path, []byte(u.SQL)})
	}
	if res.Manifest != nil {
		data, err := res.Manifest.JSON()
		if err != nil {
			errs = append(errs, err)
		} else {
			files = append(files, file{ManifestFile, data})
		}
	}
	if res.Suites != nil {
		for _, s := range res.Suites {
			files = append(files, file{s.Path, []byte(s.SQL)})
		}
		data, err := testgen.ResultsJSON(res.Suites)
		if err != nil {
			errs = append(errs, err)
		} else {
			files = append(files, file{filepath.Join(TestsDir, ResultsFile), data})
		}
	}

	written := make([]string, 0, len(files))
	for _, f := range files {
		full := filepath.Join(dir, f.path)
		if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
			errs = append(errs, fmt.Errorf("create directory for %s: %w", f.path, err))
			continue
		}
		if err := os.WriteFile(full, f.data, 0o600); err != nil {
			errs = append(errs, fmt.Errorf("write %s: %w", f.path, err))
			continue
		}
		written = append(written, f.path)
	}

	e.logger.Debug("wrote artifacts", "dir", dir, "files", len(written), "errors", len(errs))
	return written, errors.Join(errs...)
}
