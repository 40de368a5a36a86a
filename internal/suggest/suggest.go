// Package suggest turns narrative requirement prose into a table-driven
// requirements document.
//
// Suggestions are best effort: the compiler never depends on them, and the
// returned document is parsed exactly like a hand-written one.
package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Suggester proposes a requirements document for free-form prose. An empty
// document means no suggestion.
type Suggester interface {
	Suggest(ctx context.Context, prose string) (string, error)
}

// Noop never suggests anything.
type Noop struct{}

// Suggest implements Suggester.
func (Noop) Suggest(context.Context, string) (string, error) { return "", nil }

// Instruction is sent with every request.
const Instruction = "Convert the data pipeline requirements below into a markdown document. " +
	"Write one section per model headed 'Model: <name>' followed by a 'Sources:' line and the tables " +
	"Column mapping, Joins, Filters, Aggregations, Group by and Output constraints. " +
	"Use expressions only in transform and formula cells and keep table names as given."

// DefaultTimeout bounds a request when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

const maxResponseBytes = 1 << 20

// ErrEndpointRequired is returned when an HTTP suggester has no endpoint.
var ErrEndpointRequired = errors.New("suggester endpoint is required")

// Config configures an HTTP suggester.
type Config struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
	Client   *http.Client
	Logger   *slog.Logger
}

// HTTP asks a remote service for suggestions. The service receives a JSON
// request and answers with {"document": "..."}.
type HTTP struct {
	endpoint string
	model    string
	apiKey   string
	timeout  time.Duration
	client   *http.Client
	logger   *slog.Logger
}

// Request is the body posted to the suggestion endpoint.
type Request struct {
	RequestID   string `json:"request_id"`
	Model       string `json:"model,omitempty"`
	Instruction string `json:"instruction"`
	Prose       string `json:"prose"`
}

// Response is the expected answer.
type Response struct {
	Document string `json:"document"`
}

// NewHTTP creates an HTTP suggester.
func NewHTTP(cfg Config) (*HTTP, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, ErrEndpointRequired
	}
	h := &HTTP{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		timeout:  cfg.Timeout,
		client:   cfg.Client,
		logger:   cfg.Logger,
	}
	if h.timeout <= 0 {
		h.timeout = DefaultTimeout
	}
	if h.client == nil {
		h.client = http.DefaultClient
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	return h, nil
}

// Suggest implements Suggester. The request is bounded by the configured
// timeout; there are no retries.
func (h *HTTP) Suggest(ctx context.Context, prose string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req := Request{
		RequestID:   uuid.New().String(),
		Model:       h.model,
		Instruction: Instruction,
		Prose:       prose,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode suggestion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create suggestion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", req.RequestID)
	if h.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	h.logger.Debug("requesting suggestion", "request_id", req.RequestID, "endpoint", h.endpoint, "bytes", len(prose))
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("suggestion request %s: %w", req.RequestID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read suggestion response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("suggestion request %s: unexpected status %d: %s",
			req.RequestID, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode suggestion response: %w", err)
	}
	return unfence(out.Document), nil
}

var fenced = regexp.MustCompile("(?s)^```[A-Za-z]*\\s*\\n(.*?)\\n?```\\s*$")

// unfence strips a code fence wrapped around the whole document.
func unfence(doc string) string {
	doc = strings.TrimSpace(doc)
	if m := fenced.FindStringSubmatch(doc); m != nil {
		return m[1]
	}
	return doc
}

// Try runs s and returns its document, or "" when s is nil or fails.
// Failures are logged, never returned.
func Try(ctx context.Context, s Suggester, prose string, logger *slog.Logger) string {
	if s == nil {
		return ""
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	doc, err := s.Suggest(ctx, prose)
	if err != nil {
		logger.Warn("suggestion failed", "error", err)
		return ""
	}
	return doc
}
