// Package ui styles console output of the smoke suite and poll commands.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/schema"
)

// Severity colors, nuclei style.
var (
	Critical = lipgloss.Color("#FF0000")
	High     = lipgloss.Color("#FF6B6B")
	Medium   = lipgloss.Color("#FFD93D")
	Low      = lipgloss.Color("#6BCB77")
	Info     = lipgloss.Color("#4D96FF")

	Success = lipgloss.Color("#00D26A")
	Error   = lipgloss.Color("#FF3838")
	Muted   = lipgloss.Color("#6B7280")
	Primary = lipgloss.Color("#7D56F4")
)

var (
	TitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")).Background(Primary).Padding(0, 1)
	PassStyle   = lipgloss.NewStyle().Foreground(Success).Bold(true)
	FailStyle   = lipgloss.NewStyle().Foreground(Error).Bold(true)
	MutedStyle  = lipgloss.NewStyle().Foreground(Muted)
	DetailStyle = lipgloss.NewStyle().Foreground(Muted).Italic(true)
)

// SeverityStyle returns the badge style for sev.
func SeverityStyle(sev schema.Severity) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch sev {
	case schema.SeverityCritical:
		return base.Foreground(Critical)
	case schema.SeverityHigh:
		return base.Foreground(High)
	case schema.SeverityMedium:
		return base.Foreground(Medium)
	case schema.SeverityLow:
		return base.Foreground(Low)
	case schema.SeverityInfo:
		return base.Foreground(Info)
	default:
		return base.Foreground(Muted)
	}
}

// SeverityBadge renders "[HIGH]" in the severity color.
func SeverityBadge(sev schema.Severity) string {
	return SeverityStyle(sev).Render("[" + strings.ToUpper(string(sev)) + "]")
}

// CheckLine renders one suite check: "✔ name (detail)" or "✘ name (detail)".
func CheckLine(name string, passed bool, detail string) string {
	mark := PassStyle.Render("✔")
	if !passed {
		mark = FailStyle.Render("✘")
	}
	line := mark + " " + name
	if detail != "" {
		line += " " + DetailStyle.Render("("+detail+")")
	}
	return line
}

// Title renders a section title.
func Title(s string) string { return TitleStyle.Render(s) }

// SummaryLine renders the final "N passed, M failed in D" line.
func SummaryLine(passed, failed int, d time.Duration) string {
	p := PassStyle.Render(fmt.Sprintf("%d passed", passed))
	f := MutedStyle.Render(fmt.Sprintf("%d failed", failed))
	if failed > 0 {
		f = FailStyle.Render(fmt.Sprintf("%d failed", failed))
	}
	return fmt.Sprintf("%s, %s in %s", p, f, d.Round(time.Millisecond))
}
