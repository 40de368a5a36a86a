// Package reqdoc parses markdown requirements documents into typed model
// blocks. A document holds one or more model sections, each introduced by a
// "Model: <name>" heading and followed by a sources line and a set of named
// pipe tables.
package reqdoc

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/leapstack-labs/specpipe/internal/spec"
)

// Options controls parsing.
type Options struct {
	// Namespaces are the fallback schema names per layer. Document config
	// overrides them field by field.
	Namespaces spec.Namespaces
}

var (
	headingRe     = regexp.MustCompile(`^\s{0,3}(#{1,6})\s+(.*?)\s*#*\s*$`)
	modelRe       = regexp.MustCompile("(?i)^model\\s*:\\s*`?([A-Za-z_][A-Za-z0-9_.]*)`?\\s*(?:\\(\\s*(schema|layer)\\s*:\\s*`?([^)`]*)`?\\s*\\))?\\s*$")
	sourcesRe     = regexp.MustCompile(`(?i)^sources\**\s*:\s*\**\s*(.*)$`)
	groupByLineRe = regexp.MustCompile(`(?i)^group\s+by\**\s*:\s*\**\s*(.+)$`)
	schemaLineRe  = regexp.MustCompile("(?i)^schema\\**\\s*:\\s*\\**\\s*`?([A-Za-z_][A-Za-z0-9_]*)`?\\s*$")
	fenceRe       = regexp.MustCompile("^\\s*(```+|~~~+)\\s*([A-Za-z0-9_+-]*)")
)

// Parse parses a markdown requirements document.
func Parse(src string, opts Options) (*Document, error) {
	p := &parser{
		doc:  &Document{},
		opts: opts,
	}
	p.doc.Namespaces = opts.Namespaces.WithDefaults()
	if err := p.run(src); err != nil {
		return nil, err
	}
	return p.doc, nil
}

// ParseFile reads and parses a document.
func ParseFile(path string, opts Options) (*Document, error) {
	src, err := ReadSource(path)
	if err != nil {
		return nil, err
	}
	return Parse(src, opts)
}

// IsHTML reports whether path names an HTML document.
func IsHTML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return true
	}
	return false
}

// ReadSource reads a document as markdown. HTML files are converted first.
func ReadSource(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the command line
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !IsHTML(path) {
		return string(data), nil
	}
	src, err := ConvertHTML(string(data))
	if err != nil {
		return "", fmt.Errorf("failed to convert %s: %w", path, err)
	}
	return src, nil
}

type parser struct {
	doc  *Document
	opts Options

	cur      *ModelBlock
	kind     spec.TableKind
	sawTable bool
	prose    []string

	tableStart int
	tableLines []string

	inFence    bool
	fenceMark  string
	fenceLang  string
	fenceStart int
	fenceBody  []string
}

func (p *parser) run(src string) error {
	lines := strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n")

	start := 0
	if len(lines) > 0 && strings.TrimSpace(lines[0]) == "---" {
		for i := 1; i < len(lines); i++ {
			if t := strings.TrimSpace(lines[i]); t == "---" || t == "..." {
				if err := p.applyConfig(strings.Join(lines[1:i], "\n"), 2); err != nil {
					return err
				}
				start = i + 1
				break
			}
		}
		if start == 0 {
			return &FrontmatterError{Line: 1, Message: "unterminated frontmatter"}
		}
	}

	for i := start; i < len(lines); i++ {
		if err := p.line(lines[i], i+1); err != nil {
			return err
		}
	}
	if p.inFence {
		return fmt.Errorf("line %d: unterminated code fence", p.fenceStart)
	}
	if err := p.flushTable(); err != nil {
		return err
	}
	return p.closeModel()
}

func (p *parser) line(raw string, n int) error {
	trimmed := strings.TrimSpace(raw)

	if p.inFence {
		if strings.HasPrefix(trimmed, p.fenceMark) && strings.Trim(trimmed, p.fenceMark[:1]) == "" {
			p.inFence = false
			if err := p.flushTable(); err != nil {
				return err
			}
			if (p.fenceLang == "yaml" || p.fenceLang == "yml") && p.cur == nil {
				return p.applyConfig(strings.Join(p.fenceBody, "\n"), p.fenceStart+1)
			}
			return nil
		}
		switch p.fenceLang {
		case "", "markdown", "md":
			// A markdown fence may hold several headed tables.
			return p.block(raw, trimmed, n)
		default:
			p.fenceBody = append(p.fenceBody, raw)
		}
		return nil
	}

	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		if err := p.flushTable(); err != nil {
			return err
		}
		p.inFence = true
		p.fenceMark = m[1]
		p.fenceLang = strings.ToLower(m[2])
		p.fenceStart = n
		p.fenceBody = nil
		return nil
	}
	return p.block(raw, trimmed, n)
}

// block handles one markdown line: a table row, a heading or prose.
func (p *parser) block(raw, trimmed string, n int) error {
	if strings.HasPrefix(trimmed, "|") {
		p.addTableLine(trimmed, n)
		return nil
	}
	if err := p.flushTable(); err != nil {
		return err
	}
	if trimmed == "" {
		return nil
	}

	text := trimmed
	isHeading := false
	if m := headingRe.FindStringSubmatch(raw); m != nil {
		text = m[2]
		isHeading = true
	}
	text = strings.Trim(text, "*_ ")

	if m := modelRe.FindStringSubmatch(strings.ReplaceAll(text, "**", "")); m != nil {
		if err := p.closeModel(); err != nil {
			return err
		}
		return p.openModel(m[1], strings.ToLower(m[2]), strings.TrimSpace(m[3]), n)
	}
	if p.cur == nil {
		return nil
	}

	decorated := strings.TrimLeft(trimmed, "-*_> \t")
	if m := sourcesRe.FindStringSubmatch(decorated); m != nil {
		p.cur.Sources = append(p.cur.Sources, splitSources(m[1])...)
		return nil
	}
	if m := schemaLineRe.FindStringSubmatch(decorated); m != nil {
		p.cur.Schema = m[1]
		return nil
	}
	if m := groupByLineRe.FindStringSubmatch(decorated); m != nil {
		for _, key := range splitList(strings.ReplaceAll(m[1], "`", "")) {
			p.cur.GroupBy = append(p.cur.GroupBy, GroupByRow{Row: len(p.cur.GroupBy) + 1, GroupKey: key})
		}
		return nil
	}
	if kind, ok := titles[normalizeName(text)]; ok {
		p.kind = kind
		p.tableStart = 0
		return nil
	}
	if isHeading {
		// Unrecognized sections end the current table context.
		p.kind = ""
		return nil
	}
	if !p.sawTable && p.kind == "" {
		p.prose = append(p.prose, trimmed)
	}
	return nil
}

func (p *parser) addTableLine(line string, n int) {
	if len(p.tableLines) == 0 {
		p.tableStart = n
	}
	p.tableLines = append(p.tableLines, line)
}

func (p *parser) flushTable() error {
	if len(p.tableLines) == 0 {
		return nil
	}
	lines, start := p.tableLines, p.tableStart
	p.tableLines = nil
	if p.cur == nil || p.kind == "" {
		return nil
	}
	kind := p.kind
	p.kind = ""
	p.sawTable = true

	t, err := buildTable(p.cur.Name, kind, start, lines)
	if err != nil {
		return err
	}
	return p.cur.addTable(kind, t)
}

func (p *parser) openModel(name, suffixKind, suffixValue string, line int) error {
	m := ModelBlock{Name: name, Line: line}
	if i := strings.LastIndex(name, "."); i >= 0 {
		m.Name = name[i+1:]
		if suffixKind == "" {
			suffixKind, suffixValue = "schema", name[:i]
		}
	}

	ns := p.doc.Namespaces
	switch suffixKind {
	case "layer":
		layer, ok := spec.ParseLayer(suffixValue)
		if !ok {
			return fmt.Errorf("line %d: model %q: unknown layer %q", line, m.Name, suffixValue)
		}
		m.Layer = layer
	case "schema":
		m.Layer = ns.LayerOf(suffixValue)
		if suffixValue != ns.For(m.Layer) {
			m.Schema = suffixValue
		}
	default:
		m.Layer = layerFromName(m.Name)
	}

	p.cur = &m
	p.kind = ""
	p.sawTable = false
	p.prose = nil
	return nil
}

func (p *parser) closeModel() error {
	if p.cur == nil {
		return nil
	}
	m := p.cur
	p.cur = nil
	if len(m.Sources) == 0 {
		return &spec.MissingSourceError{Model: m.Name}
	}
	m.Description = strings.Join(p.prose, " ")
	p.doc.Models = append(p.doc.Models, *m)
	return nil
}

func (p *parser) applyConfig(content string, startLine int) error {
	cfg, err := parseConfig(content, startLine)
	if err != nil {
		return err
	}
	p.doc.Config = *cfg
	base := p.opts.Namespaces.WithDefaults()
	override := cfg.Schema.Namespaces()
	if override.Raw != "" {
		base.Raw = override.Raw
	}
	if override.Staging != "" {
		base.Staging = override.Staging
	}
	if override.Final != "" {
		base.Final = override.Final
	}
	p.doc.Namespaces = base
	return nil
}

func layerFromName(name string) spec.Layer {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "stg_"):
		return spec.LayerStaging
	case strings.HasPrefix(lower, "raw_"):
		return spec.LayerRaw
	default:
		return spec.LayerFinal
	}
}

// splitSources parses a sources line. Schema qualifiers are dropped.
func splitSources(s string) []string {
	s = strings.ReplaceAll(s, "`", "")
	s = strings.TrimRight(strings.TrimSpace(s), ".")
	var out []string
	for _, item := range splitList(s) {
		lower := strings.ToLower(item)
		if lower == "none" || lower == "n/a" {
			continue
		}
		if i := strings.LastIndex(item, "."); i >= 0 {
			item = item[i+1:]
		}
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// splitList splits a comma separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
