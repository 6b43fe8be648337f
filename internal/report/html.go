package report

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"

	"github.com/Masterminds/sprig/v3"

	"github.com/yorozuya-cybersecurity/yorosec-probe/pkg/utils"
)

//go:embed templates/report.html.tmpl
var reportHTMLTemplate string

var htmlTemplate = template.Must(template.New("report").Funcs(htmlFuncs()).Parse(reportHTMLTemplate))

func htmlFuncs() template.FuncMap {
	funcs := sprig.FuncMap()
	funcs["noIssues"] = func() string { return NoIssuesText }
	funcs["truncate"] = func(n int, s string) string { return utils.Truncate(s, n) }
	funcs["metaValue"] = func(fields []Field, label string) string {
		for _, f := range fields {
			if f.Label == label {
				return f.Value
			}
		}
		return ""
	}
	return funcs
}

// WriteHTML renders doc as a standalone HTML page.
func WriteHTML(w io.Writer, doc Document) error {
	if err := htmlTemplate.Execute(w, doc); err != nil {
		return fmt.Errorf("execute template: %w", err)
	}
	return nil
}
