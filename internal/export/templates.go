package export

import (
	"bytes"
	"html/template"
	"strings"
)

var submissionTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"nl2br": func(s string) template.HTML {
			return template.HTML(strings.ReplaceAll(template.HTMLEscapeString(s), "\n", "<br>"))
		},
	}
	submissionTemplate = template.Must(template.New("submission").Funcs(funcMap).Parse(submissionTemplateHTML))
}

// RenderSubmissionHTML renders the printable view of a confirmed submission.
func RenderSubmissionHTML(sub Submission) (string, error) {
	var buf bytes.Buffer
	if err := submissionTemplate.Execute(&buf, sub); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const submissionTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.FormTitle}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .field { margin: 1rem 0; }
    .field .title { font-weight: bold; }
    .field .value { margin-top: 0.25rem; white-space: pre-wrap; }
    .attachments { background: #f5f5f5; padding: 1rem; margin-top: 2rem; border-left: 3px solid #333; }
  </style>
</head>
<body>
  <h1>{{.FormTitle}}</h1>
  <div class="meta">{{if .OrderID}}Order {{.OrderID}}{{else}}No order bound{{end}}</div>
  {{range .Fields}}
  <div class="field">
    <div class="title">{{.Title}}</div>
    <div class="value">{{if .Value}}{{nl2br .Value}}{{else}}&mdash;{{end}}</div>
  </div>
  {{end}}
  {{if .Attachments}}
  <div class="attachments">
    <strong>Attached files</strong>
    <ul>
    {{range .Attachments}}<li>{{lower .Category}}: {{.Name}}</li>{{end}}
    </ul>
  </div>
  {{end}}
</body>
</html>`
