package schema

import "strings"

// Severity is the severity of a finding. Values are lowercase.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityOrder lists severities from most to least severe.
var SeverityOrder = []Severity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
	SeverityInfo,
}

// ParseSeverity normalizes s. Empty input maps to info, and the
// "informational" spelling some scanners emit is folded into info.
// Unrecognized values are returned lowercased so they still count.
func ParseSeverity(s string) Severity {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "", "informational", "information":
		return SeverityInfo
	case "moderate":
		return SeverityMedium
	}
	return Severity(v)
}

// IsValid reports whether s is one of the five known levels.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// Rank orders severities: critical=5 .. info=1, unknown=0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

func (s Severity) String() string { return string(s) }
