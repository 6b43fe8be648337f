// Package scanners turns the loosely shaped result entries returned by the
// scanning platform into normalized findings.
package scanners

import (
	"strings"

	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/schema"
)

// keys consumed into typed Finding fields; everything else lands in Details
var consumed = map[string]bool{
	"title": true, "name": true, "template-id": true,
	"severity": true, "risk": true,
	"description": true, "desc": true,
	"affected_component": true, "affectedComponent": true, "component": true, "matched-at": true,
	"recommendation": true, "remediation": true, "solution": true,
	"cve": true, "cve_id": true, "cveId": true,
	"cvss": true, "cvss_score": true, "cvssScore": true,
	"details": true,
}

// NormalizeResults converts raw result objects into findings, keeping the
// platform's list order. Nuclei-style entries (template-id, info.severity,
// matched-at) are understood as well.
func NormalizeResults(raw []map[string]any) []schema.Finding {
	findings := make([]schema.Finding, 0, len(raw))
	for _, r := range raw {
		findings = append(findings, NormalizeResult(r))
	}
	return findings
}

// NormalizeResult converts a single raw result object.
func NormalizeResult(r map[string]any) schema.Finding {
	info, _ := r["info"].(map[string]any)

	f := schema.Finding{
		Title:             firstString(r, "title", "name", "template-id"),
		Description:       firstString(r, "description", "desc"),
		AffectedComponent: firstString(r, "affected_component", "affectedComponent", "component", "matched-at"),
		Recommendation:    firstString(r, "recommendation", "remediation", "solution"),
		CVE:               firstString(r, "cve", "cve_id", "cveId"),
	}

	sev := firstString(r, "severity", "risk")
	if info != nil {
		if f.Title == "" {
			f.Title = firstString(info, "name")
		}
		if sev == "" {
			sev = firstString(info, "severity")
		}
		if f.Description == "" {
			f.Description = firstString(info, "description")
		}
		if f.Recommendation == "" {
			f.Recommendation = firstString(info, "remediation")
		}
	}
	f.Severity = schema.ParseSeverity(sev)
	if f.Title == "" {
		f.Title = "Untitled finding"
	}

	for _, k := range []string{"cvss", "cvss_score", "cvssScore"} {
		if v, ok := r[k]; ok {
			if score, ok := schema.ParseFloat(v); ok {
				f.CVSS = &score
				break
			}
		}
	}

	details := map[string]any{}
	if d, ok := r["details"].(map[string]any); ok {
		for k, v := range d {
			details[k] = v
		}
	}
	for k, v := range r {
		if consumed[k] {
			continue
		}
		details[k] = v
	}
	if len(details) > 0 {
		f.Details = details
	}
	return f
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
