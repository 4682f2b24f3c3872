// Package ui renders CLI output: the banner, phase progress lines, and
// the verdict summary table.
package ui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/vulnpilot/vulnpilot/pkg/finding"
)

// Version can be overridden at build time via ldflags:
// go build -ldflags "-X github.com/vulnpilot/vulnpilot/pkg/ui.Version=1.0.0"
var Version = "0.3.0"

// Color palette, severity colors matching common scanner conventions.
var (
	Primary  = lipgloss.Color("#7D56F4")
	Critical = lipgloss.Color("#FF0000")
	High     = lipgloss.Color("#FF6B6B")
	Medium   = lipgloss.Color("#FFD93D")
	Low      = lipgloss.Color("#6BCB77")
	Info     = lipgloss.Color("#4D96FF")
	Success  = lipgloss.Color("#00D26A")
	Warning  = lipgloss.Color("#FFB800")
	Failure  = lipgloss.Color("#FF3838")
	Muted    = lipgloss.Color("#6B7280")
)

var (
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(Primary)
	PhaseStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA"))
	MutedStyle = lipgloss.NewStyle().Foreground(Muted)

	severityStyles = map[finding.Severity]lipgloss.Style{
		finding.Critical: lipgloss.NewStyle().Bold(true).Foreground(Critical),
		finding.High:     lipgloss.NewStyle().Foreground(High),
		finding.Medium:   lipgloss.NewStyle().Foreground(Medium),
		finding.Low:      lipgloss.NewStyle().Foreground(Low),
		finding.Info:     lipgloss.NewStyle().Foreground(Info),
	}

	verdictStyles = map[finding.Verdict]lipgloss.Style{
		finding.VerdictExploited:          lipgloss.NewStyle().Bold(true).Foreground(Failure),
		finding.VerdictBlockedBySecurity:  lipgloss.NewStyle().Foreground(Success),
		finding.VerdictPotential:          lipgloss.NewStyle().Foreground(Warning),
		finding.VerdictFalsePositive:      lipgloss.NewStyle().Foreground(Muted),
		finding.VerdictOutOfScopeInternal: lipgloss.NewStyle().Foreground(Muted),
	}
)

var (
	silentMode bool
	uiMu       sync.RWMutex
)

// SetSilent suppresses all decorative output.
func SetSilent(silent bool) {
	uiMu.Lock()
	defer uiMu.Unlock()
	silentMode = silent
}

func silent() bool {
	uiMu.RLock()
	defer uiMu.RUnlock()
	return silentMode
}

// Banner returns the startup banner.
func Banner(target string) string {
	if silent() {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(TitleStyle.Render(fmt.Sprintf("vulnpilot v%s", Version)))
	sb.WriteString("\n")
	sb.WriteString(MutedStyle.Render("autonomous penetration testing pipeline"))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("target: %s\n", target))
	return sb.String()
}

// PhaseLine renders a phase transition line.
func PhaseLine(phase, status string) string {
	if silent() {
		return ""
	}
	var style lipgloss.Style
	switch status {
	case "completed":
		style = lipgloss.NewStyle().Foreground(Success)
	case "failed":
		style = lipgloss.NewStyle().Foreground(Failure)
	case "skipped":
		style = MutedStyle
	default:
		style = PhaseStyle
	}
	return fmt.Sprintf("%s %s", PhaseStyle.Render("[" + phase + "]"), style.Render(status))
}

// SeverityBadge renders a colored severity tag.
func SeverityBadge(s finding.Severity) string {
	if st, ok := severityStyles[s]; ok {
		return st.Render(strings.ToUpper(s.String()))
	}
	return strings.ToUpper(s.String())
}

// VerdictBadge renders a colored verdict tag.
func VerdictBadge(v finding.Verdict) string {
	if st, ok := verdictStyles[v]; ok {
		return st.Render(string(v))
	}
	return string(v)
}

// Summary renders the closing verdict table.
func Summary(findings []finding.Finding, costUSD float64) string {
	if silent() {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(TitleStyle.Render("results"))
	sb.WriteString("\n")
	if len(findings) == 0 {
		sb.WriteString(MutedStyle.Render("no findings"))
		sb.WriteString("\n")
	}
	for _, f := range findings {
		verdict := "untested"
		if f.Verdict != "" {
			verdict = VerdictBadge(f.Verdict)
		}
		fmt.Fprintf(&sb, "  %s %-40s %s\n", SeverityBadge(f.Severity), f.Title, verdict)
	}
	fmt.Fprintf(&sb, "total spend: $%.2f\n", costUSD)
	return sb.String()
}
