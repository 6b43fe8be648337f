package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// WriteText renders doc as plain text.
func WriteText(w io.Writer, doc Document) error {
	bw := bufio.NewWriter(w)

	heading(bw, doc.Title, "=")
	for _, f := range doc.Metadata {
		fmt.Fprintf(bw, "%-11s %s\n", f.Label+":", f.Value)
	}
	fmt.Fprintln(bw)

	heading(bw, "Severity Summary", "-")
	for _, c := range doc.Summary {
		fmt.Fprintf(bw, "%s: %d\n", c.Severity, c.Count)
	}
	fmt.Fprintf(bw, "Total: %d\n", doc.Total)
	fmt.Fprintf(bw, "Risk score: %d/100 (grade %s)\n", doc.Score, doc.Grade)
	fmt.Fprintln(bw)

	if doc.Empty() {
		fmt.Fprintln(bw, NoIssuesText)
		return bw.Flush()
	}

	heading(bw, "Findings", "-")
	for i, b := range doc.Findings {
		if i > 0 {
			fmt.Fprintln(bw)
		}
		fmt.Fprintf(bw, "Finding #%d: %s\n", b.Index, b.Title)
		line(bw, "Severity", string(b.Severity))
		line(bw, "Component", b.Component)
		line(bw, "CVE", b.CVE)
		line(bw, "CVSS", b.CVSS)
		line(bw, "Description", b.Description)
		line(bw, "Recommendation", b.Recommendation)
		for _, d := range b.Details {
			line(bw, d.Label, d.Value)
		}
	}
	return bw.Flush()
}

func heading(w io.Writer, title, rule string) {
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, strings.Repeat(rule, len(title)))
	fmt.Fprintln(w)
}

// line skips empty optional values.
func line(w io.Writer, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	fmt.Fprintf(w, "  %-15s %s\n", label+":", value)
}
