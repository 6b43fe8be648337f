package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/schema"
)

// NoIssuesText replaces the findings section when a scan found nothing.
const NoIssuesText = "No issues found."

// ErrScanNotCompleted is returned when a report is requested for a scan
// that has not completed.
var ErrScanNotCompleted = errors.New("report: scan is not completed")

// Field is one labelled line of the metadata block.
type Field struct {
	Label string
	Value string
}

// SeverityCount is one row of the severity summary.
type SeverityCount struct {
	Severity schema.Severity
	Count    int
}

// Block is the detail section of a single finding.
type Block struct {
	Index          int
	Title          string
	Severity       schema.Severity
	Description    string
	Component      string
	Recommendation string
	CVE            string
	CVSS           string
	Details        []Field
}

// Document is the rendered-format-independent content of a report.
type Document struct {
	Title       string
	Metadata    []Field
	Summary     []SeverityCount
	Total       int
	Score       int
	Grade       string
	Findings    []Block
	Generator   string
	GeneratedAt time.Time
}

// Empty reports whether the scan produced no findings.
func (d Document) Empty() bool { return len(d.Findings) == 0 }

// Options tweak document construction.
type Options struct {
	Title          string
	IncludeDetails bool
	Now            func() time.Time
}

// Build turns a completed scan into a Document. Findings keep the order
// the platform returned them in. Titles are copied verbatim; severities go
// through schema.ParseSeverity, so "High" renders as high, "moderate" as
// medium and "informational" as info, in both the blocks and the summary.
func Build(scan schema.Scan, opts Options) (Document, error) {
	if scan.Status != schema.StatusCompleted {
		return Document{}, fmt.Errorf("%w (status %q)", ErrScanNotCompleted, scan.Status)
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	title := opts.Title
	if title == "" {
		title = "Security Scan Report"
	}
	generated := now().UTC()

	doc := Document{
		Title:       title,
		Generator:   "yoroprobe",
		GeneratedAt: generated,
		Metadata: []Field{
			{Label: "Target", Value: emptyFallback(scan.Target, "-")},
			{Label: "Scan ID", Value: emptyFallback(string(scan.ID), "-")},
			{Label: "Scan type", Value: emptyFallback(scan.Type, "-")},
			{Label: "Status", Value: string(scan.Status)},
			{Label: "Created", Value: formatTime(scan.CreatedAt)},
			{Label: "Completed", Value: formatTime(scan.CompletedAt)},
			{Label: "Generated", Value: generated.Format(time.RFC3339)},
		},
	}

	counts := map[schema.Severity]int{}
	for i, f := range scan.Results {
		sev := schema.ParseSeverity(string(f.Severity))
		counts[sev]++
		b := Block{
			Index:          i + 1,
			Title:          f.Title,
			Severity:       sev,
			Description:    strings.TrimSpace(f.Description),
			Component:      f.AffectedComponent,
			Recommendation: strings.TrimSpace(f.Recommendation),
			CVE:            f.CVE,
		}
		if f.CVSS != nil {
			b.CVSS = strconv.FormatFloat(*f.CVSS, 'f', 1, 64)
		}
		if opts.IncludeDetails {
			b.Details = detailFields(f.Details)
		}
		doc.Findings = append(doc.Findings, b)
	}

	doc.Summary = summarize(counts)
	doc.Total = len(scan.Results)
	doc.Score = riskScore(counts, doc.Total)
	doc.Grade = scoreToGrade(doc.Score)
	return doc, nil
}

// summarize lists non-zero counts, known severities first from critical to
// info, then any unrecognized values alphabetically.
func summarize(counts map[schema.Severity]int) []SeverityCount {
	var out []SeverityCount
	for _, sev := range schema.SeverityOrder {
		if n := counts[sev]; n > 0 {
			out = append(out, SeverityCount{Severity: sev, Count: n})
		}
	}
	var unknown []schema.Severity
	for sev := range counts {
		if !sev.IsValid() {
			unknown = append(unknown, sev)
		}
	}
	sort.Slice(unknown, func(i, j int) bool { return unknown[i] < unknown[j] })
	for _, sev := range unknown {
		out = append(out, SeverityCount{Severity: sev, Count: counts[sev]})
	}
	return out
}

var severityWeight = map[schema.Severity]int{
	schema.SeverityCritical: 4,
	schema.SeverityHigh:     3,
	schema.SeverityMedium:   2,
	schema.SeverityLow:      1,
	schema.SeverityInfo:     0,
}

// riskScore is 100 for a clean scan and drops as the share of severe
// findings grows.
func riskScore(counts map[schema.Severity]int, total int) int {
	if total == 0 {
		return 100
	}
	weighted := 0
	for sev, c := range counts {
		weighted += severityWeight[sev] * c
	}
	penalty := min(100, (weighted*100)/(total*4))
	return 100 - penalty
}

func scoreToGrade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

func detailFields(details map[string]any) []Field {
	if len(details) == 0 {
		return nil
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, Field{Label: k, Value: detailValue(details[k])})
	}
	return out
}

func detailValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return "-"
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func emptyFallback(s, fb string) string {
	if strings.TrimSpace(s) == "" {
		return fb
	}
	return s
}
