package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"connsura/api/internal/diff"
)

//go:embed templates/*.html
var templateFS embed.FS

var profileTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/profile.html")
	if err != nil {
		// Fallback to built-in template if file not found
		profileTemplate = template.Must(template.New("profile").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	profileTemplate = template.Must(template.New("profile").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for profile snapshot rendering
type TemplateData struct {
	Title         string
	CustomerName  string
	RecipientName string
	GeneratedAt   time.Time
	Sections      []TemplateSection
}

// TemplateSection is one shared section of the snapshot
type TemplateSection struct {
	Label  string
	Groups []TemplateGroup
}

// TemplateGroup is a run of rows under an optional sub-heading, one per
// array element for repeated forms.
type TemplateGroup struct {
	Heading string
	Rows    []TemplateRow
}

// TemplateRow is a single label/value line
type TemplateRow struct {
	Label string
	Value string
}

// BuildTemplateData flattens the snapshot forms into renderable sections.
func BuildTemplateData(req Request) TemplateData {
	data := TemplateData{
		Title:         "Connsura Profile",
		CustomerName:  req.CustomerName,
		RecipientName: req.RecipientName,
		GeneratedAt:   req.GeneratedAt,
	}
	for _, key := range req.SectionKeys {
		forms, ok := req.Forms[key]
		if !ok {
			continue
		}
		label := req.SectionLabels[key]
		if label == "" {
			label = diff.Label(key)
		}
		data.Sections = append(data.Sections, TemplateSection{
			Label:  label,
			Groups: buildGroups(forms),
		})
	}
	return data
}

func buildGroups(value any) []TemplateGroup {
	switch typed := value.(type) {
	case []any:
		groups := make([]TemplateGroup, 0, len(typed))
		for i, item := range typed {
			groups = append(groups, TemplateGroup{
				Heading: fmt.Sprintf("Entry %d", i+1),
				Rows:    buildRows(item, ""),
			})
		}
		return groups
	default:
		return []TemplateGroup{{Rows: buildRows(value, "")}}
	}
}

func buildRows(value any, prefix string) []TemplateRow {
	object, ok := value.(map[string]any)
	if !ok {
		if value == nil {
			return nil
		}
		return []TemplateRow{{Label: diff.Label(prefix), Value: fmt.Sprintf("%v", value)}}
	}

	keys := make([]string, 0, len(object))
	for key := range object {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([]TemplateRow, 0, len(keys))
	for _, key := range keys {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		switch nested := object[key].(type) {
		case map[string]any:
			rows = append(rows, buildRows(nested, path)...)
		case []any:
			for i, item := range nested {
				rows = append(rows, buildRows(item, fmt.Sprintf("%s[%d]", path, i+1))...)
			}
		case nil:
			// skip empty
		default:
			text := strings.TrimSpace(fmt.Sprintf("%v", nested))
			if text == "" {
				continue
			}
			rows = append(rows, TemplateRow{Label: diff.Label(path), Value: text})
		}
	}
	return rows
}

// RenderProfileHTML renders the snapshot template with provided data
func RenderProfileHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := profileTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #1a3c6e; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { width: 100%; border-collapse: collapse; margin-bottom: 1.5rem; }
    td { padding: 4px 8px; border-bottom: 1px solid #eee; }
    td:first-child { color: #555; width: 40%; }
    h3 { margin-bottom: 0.25rem; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.CustomerName}} | shared with {{.RecipientName}} | {{.GeneratedAt.Format "Jan 2, 2006"}}</div>
  {{range .Sections}}
  <h2>{{.Label}}</h2>
  {{range .Groups}}
  {{if .Heading}}<h3>{{.Heading}}</h3>{{end}}
  <table>
    {{range .Rows}}<tr><td>{{.Label}}</td><td>{{.Value}}</td></tr>{{end}}
  </table>
  {{end}}
  {{end}}
</body>
</html>`
