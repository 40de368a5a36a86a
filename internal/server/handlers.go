package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/leapstack-labs/specpipe/internal/builder"
	"github.com/leapstack-labs/specpipe/internal/codegen"
	"github.com/leapstack-labs/specpipe/internal/engine"
	"github.com/leapstack-labs/specpipe/internal/reqdoc"
	"github.com/leapstack-labs/specpipe/internal/spec"
	"github.com/leapstack-labs/specpipe/internal/testgen"
	"github.com/leapstack-labs/specpipe/pkg/platform"
)

// SpecRequest is the body of POST /v1/spec.
type SpecRequest struct {
	Document string `json:"document"`
	// Format is "markdown" (default) or "html".
	Format string `json:"format,omitempty"`
}

// SpecResponse is returned by POST /v1/spec.
type SpecResponse struct {
	Spec  *spec.PipelineSpec `json:"spec"`
	Order []string           `json:"order"`
}

// GenerateRequest is the body of POST /v1/compile and POST /v1/tests.
type GenerateRequest struct {
	// Platform overrides the server's default platform.
	Platform string          `json:"platform,omitempty"`
	Spec     json.RawMessage `json:"spec"`
}

// UnitResponse is one compiled model.
type UnitResponse struct {
	Model     string   `json:"model"`
	Path      string   `json:"path"`
	SQL       string   `json:"sql"`
	DependsOn []string `json:"depends_on"`
}

// CompileResponse is returned by POST /v1/compile.
type CompileResponse struct {
	RunID    string            `json:"run_id"`
	Platform string            `json:"platform"`
	Order    []string          `json:"order"`
	Units    []UnitResponse    `json:"units"`
	Manifest *codegen.Manifest `json:"manifest"`
}

// ScriptResponse is one generated test script.
type ScriptResponse struct {
	Model   string            `json:"model"`
	Path    string            `json:"path"`
	SQL     string            `json:"sql"`
	Skipped []testgen.Skipped `json:"skipped,omitempty"`
}

// TestsResponse is returned by POST /v1/tests.
type TestsResponse struct {
	RunID    string           `json:"run_id"`
	Platform string           `json:"platform"`
	Scripts  []ScriptResponse `json:"scripts"`
	Results  []testgen.Result `json:"results"`
}

// PlatformResponse describes one registered platform.
type PlatformResponse struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Extension   string `json:"extension"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return &requestError{err: fmt.Errorf(format, args...)}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePlatforms(w http.ResponseWriter, _ *http.Request) {
	names := platform.List()
	out := make([]PlatformResponse, 0, len(names))
	for _, name := range names {
		p, _ := platform.Get(name)
		out = append(out, PlatformResponse{Name: p.Name, Description: p.Description, Extension: p.Extension})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSpec(w http.ResponseWriter, r *http.Request) {
	var req SpecRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	src := req.Document
	switch strings.ToLower(req.Format) {
	case "", "markdown", "md":
	case "html":
		converted, err := reqdoc.ConvertHTML(src)
		if err != nil {
			s.writeError(w, badRequest("convert html: %w", err))
			return
		}
		src = converted
	default:
		s.writeError(w, badRequest("unknown document format %q", req.Format))
		return
	}

	ps, err := s.engine.ParseDocument(r.Context(), src)
	if err != nil {
		s.writeError(w, err)
		return
	}
	order, err := builder.ResolveOrder(ps)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, SpecResponse{Spec: ps, Order: order})
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	eng, ps, err := s.generateRequest(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := eng.Compile(r.Context(), ps)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := CompileResponse{
		RunID:    res.RunID,
		Platform: res.Platform,
		Order:    res.Order,
		Units:    make([]UnitResponse, 0, len(res.Units)),
		Manifest: res.Manifest,
	}
	for _, u := range res.Units {
		deps := u.DependsOn
		if deps == nil {
			deps = []string{}
		}
		out.Units = append(out.Units, UnitResponse{Model: u.Model, Path: u.Path, SQL: u.SQL, DependsOn: deps})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTests(w http.ResponseWriter, r *http.Request) {
	eng, ps, err := s.generateRequest(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := eng.Tests(r.Context(), ps)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := TestsResponse{
		RunID:    res.RunID,
		Platform: res.Platform,
		Scripts:  make([]ScriptResponse, 0, len(res.Suites)),
		Results:  testgen.Results(res.Suites),
	}
	for _, suite := range res.Suites {
		out.Scripts = append(out.Scripts, ScriptResponse{
			Model:   suite.Model,
			Path:    suite.Path,
			SQL:     suite.SQL,
			Skipped: suite.Skipped,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// generateRequest decodes a GenerateRequest and picks the engine for its
// platform. The spec goes through the same schema check as a spec file.
func (s *Server) generateRequest(w http.ResponseWriter, r *http.Request) (*engine.Engine, *spec.PipelineSpec, error) {
	var req GenerateRequest
	if err := decode(w, r, &req); err != nil {
		return nil, nil, err
	}
	if raw := bytes.TrimSpace(req.Spec); len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil, badRequest("spec is required")
	}

	eng := s.engine
	if req.Platform != "" && req.Platform != eng.Platform().Name {
		p, ok := platform.Get(req.Platform)
		if !ok {
			return nil, nil, badRequest("unknown platform %q (available: %s)", req.Platform, strings.Join(platform.List(), ", "))
		}
		eng = eng.WithPlatform(p)
	}

	ps, err := spec.Unmarshal(req.Spec, spec.FormatJSON)
	if err != nil {
		return nil, nil, err
	}
	return eng, ps, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is empty")
		}
		return badRequest("decode request: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	} else {
		s.logger.Debug("request rejected", "kind", kind, "error", err)
	}
	s.writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}

// classify maps an error to a status code and a stable kind name.
func classify(err error) (int, string) {
	var (
		reqErr       *requestError
		malformed    *spec.MalformedTableError
		missing      *spec.MissingSourceError
		unknownType  *spec.UnknownTypeError
		conflicting  *spec.ConflictingConstraintError
		cyclic       *spec.CyclicDependencyError
		unknownRef   *spec.UnknownSourceReferenceError
		transform    *spec.TransformResolutionError
		schema       *spec.SchemaError
		frontmatter  *reqdoc.FrontmatterError
		unknownField *reqdoc.UnknownFieldError
	)
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, "bad_request"
	case errors.As(err, &malformed):
		return http.StatusUnprocessableEntity, "malformed_table"
	case errors.As(err, &missing):
		return http.StatusUnprocessableEntity, "missing_source"
	case errors.As(err, &unknownType):
		return http.StatusUnprocessableEntity, "unknown_type"
	case errors.As(err, &conflicting):
		return http.StatusUnprocessableEntity, "conflicting_constraint"
	case errors.As(err, &cyclic):
		return http.StatusUnprocessableEntity, "cyclic_dependency"
	case errors.As(err, &unknownRef):
		return http.StatusUnprocessableEntity, "unknown_source_reference"
	case errors.As(err, &transform):
		return http.StatusUnprocessableEntity, "transform_resolution"
	case errors.As(err, &schema):
		return http.StatusUnprocessableEntity, "schema"
	case errors.As(err, &frontmatter), errors.As(err, &unknownField):
		return http.StatusUnprocessableEntity, "frontmatter"
	case errors.Is(err, engine.ErrNoModels):
		return http.StatusUnprocessableEntity, "no_models"
	}
	return http.StatusInternalServerError, "internal"
}
