package export

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/leapstack-labs/specpipe/internal/spec"
)

// HTMLOptions configures the HTML review page.
type HTMLOptions struct {
	Title string
}

type htmlModel struct {
	Name        string
	Anchor      string
	Layer       string
	Schema      string
	Sources     []string
	Description string
	Sections    []*Table
}

type htmlPage struct {
	Title    string
	Overview *Table
	Diagram  string
	Models   []htmlModel
}

var pageTemplate = template.Must(template.New("review").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<script src="https://cdn.jsdelivr.net/npm/mermaid@10/dist/mermaid.min.js"></script>
<script>mermaid.initialize({ startOnLoad: true });</script>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem auto; max-width: 72rem; color: #222; }
table { border-collapse: collapse; margin: 0.5rem 0 1.5rem; width: 100%; }
th, td { border: 1px solid #ccc; padding: 0.3rem 0.6rem; text-align: left; vertical-align: top; }
th { background: #f3f3f3; }
code { font-size: 0.9em; }
.layer { color: #666; font-weight: normal; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<nav>
<ul>
{{- range .Models}}
<li><a href="#{{.Anchor}}">{{.Name}}</a> <span class="layer">({{.Layer}})</span></li>
{{- end}}
</ul>
</nav>
<h2>Overview</h2>
{{template "table" .Overview}}
<h2>Lineage</h2>
<pre class="mermaid">
{{.Diagram}}
</pre>
{{- range .Models}}
<section id="{{.Anchor}}">
<h2>Model: {{.Name}} <span class="layer">(layer: {{.Layer}})</span></h2>
<p>Schema: <code>{{.Schema}}</code>. Sources: {{range $i, $s := .Sources}}{{if $i}}, {{end}}<code>{{$s}}</code>{{end}}</p>
{{- if .Description}}
<p>{{.Description}}</p>
{{- end}}
{{- range .Sections}}
<h3>{{.Name}}</h3>
{{template "table" .}}
{{- end}}
</section>
{{- end}}
</body>
</html>
{{define "table"}}<table>
<thead><tr>{{range .Header}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{- range .Rows}}
<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{- end}}
</tbody>
</table>{{end}}`))

// HTML renders a standalone review page: an overview, the lineage diagram
// and the column, join and test tables of every model.
func HTML(ps *spec.PipelineSpec, opts HTMLOptions) ([]byte, error) {
	tables, err := Tables(ps)
	if err != nil {
		return nil, err
	}
	diagram, err := Mermaid(ps)
	if err != nil {
		return nil, err
	}

	title := opts.Title
	if title == "" {
		title = "Pipeline specification"
	}
	page := htmlPage{Title: title, Overview: tables[0], Diagram: diagram}

	// Sheets other than the overview start with model and layer columns.
	perModel := tables[1:4]
	for _, m := range ps.Models {
		hm := htmlModel{
			Name:        m.Name,
			Anchor:      "model-" + m.Name,
			Layer:       string(m.Layer),
			Schema:      ps.SchemaFor(m),
			Sources:     m.Sources,
			Description: m.Description,
		}
		for _, t := range perModel {
			if section := modelRows(t, m.Name); len(section.Rows) > 0 {
				hm.Sections = append(hm.Sections, section)
			}
		}
		page.Models = append(page.Models, hm)
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, page); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return buf.Bytes(), nil
}

// modelRows returns the rows of sheet t that belong to model, without the
// leading model and layer columns.
func modelRows(t *Table, model string) *Table {
	out := &Table{Name: t.Name, Header: t.Header[2:]}
	for _, row := range t.Rows {
		if row[0] == model {
			out.Rows = append(out.Rows, row[2:])
		}
	}
	return out
}
