package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var documentTemplate = template.Must(template.New("document").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
	"paragraphs": toParagraphs,
}).Parse(documentTemplateText))

// TemplateData holds data for document template rendering.
type TemplateData struct {
	Title      string
	MatterName string
	ClientName string
	Body       string
	UpdatedAt  time.Time
	Threads    []TemplateThread
}

// TemplateThread holds one top-level comment with its replies.
type TemplateThread struct {
	Author     string
	Body       string
	Resolved   bool
	ResolvedBy string
	CreatedAt  time.Time
	Replies    []TemplateReply
}

// TemplateReply holds one reply.
type TemplateReply struct {
	Author string
	Body   string
}

// RenderDocumentHTML renders the export template with the provided data.
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// toParagraphs splits plain text on blank lines into HTML paragraphs. The
// template escapes each paragraph, so document bodies cannot inject markup.
func toParagraphs(body string) []string {
	var out []string
	for _, block := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			out = append(out, block)
		}
	}
	return out
}

const documentTemplateText = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .thread { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
    .thread .resolved { color: #2a7a2a; font-size: 0.85em; }
    .reply { margin: 0.5rem 0 0 1.5rem; padding-left: 0.75rem; border-left: 2px solid #bbb; }
    .author { font-weight: bold; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.MatterName}}{{if .ClientName}} &mdash; {{.ClientName}}{{end}} | updated {{formatDate .UpdatedAt "Jan 2, 2006"}}</div>
  {{range paragraphs .Body}}<p>{{.}}</p>
  {{end}}
  {{if .Threads}}
  <h2>Comments</h2>
  {{range .Threads}}
  <div class="thread">
    <div><span class="author">{{.Author}}</span> &middot; {{formatDate .CreatedAt "Jan 2, 2006 15:04"}}</div>
    <div>{{.Body}}</div>
    {{if .Resolved}}<div class="resolved">Resolved by {{.ResolvedBy}}</div>{{end}}
    {{range .Replies}}
    <div class="reply"><span class="author">{{.Author}}</span>: {{.Body}}</div>
    {{end}}
  </div>
  {{end}}
  {{end}}
</body>
</html>`
