package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"rollcall/internal/roster"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate = template.Must(
	template.New("report.html").Funcs(template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"group": func(label string, participants []roster.Participant) templateGroup {
			return templateGroup{Label: label, Participants: participants}
		},
	}).ParseFS(templateFS, "templates/report.html"),
)

type templateGroup struct {
	Label        string
	Participants []roster.Participant
}

// RenderReportHTML renders the report page that is printed to PDF.
func RenderReportHTML(r Report) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, r); err != nil {
		return "", err
	}
	return buf.String(), nil
}
