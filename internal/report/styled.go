package report

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dump-correlator/pkg/model"
)

var (
	colorRed    = lipgloss.Color("#FF5555")
	colorYellow = lipgloss.Color("#F1FA8C")
	colorCyan   = lipgloss.Color("#8BE9FD")
	colorGray   = lipgloss.Color("#6272A4")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	critStyle  = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
	infoStyle  = lipgloss.NewStyle().Foreground(colorCyan)
	ruleStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(colorGray)
)

func severityStyle(sev model.Severity) lipgloss.Style {
	switch sev {
	case model.SeverityCritical:
		return critStyle
	case model.SeverityWarning:
		return warnStyle
	default:
		return infoStyle
	}
}

type lipglossStyler struct{}

func (lipglossStyler) title(s string) string { return titleStyle.Render(s) }
func (lipglossStyler) severity(sev model.Severity, s string) string {
	return severityStyle(sev).Render(s)
}
func (lipglossStyler) rule(s string) string    { return ruleStyle.Render(s) }
func (lipglossStyler) sources(s string) string { return dimStyle.Render(s) }

// RenderStyled returns the text report coloured for a terminal. Colours are
// dropped automatically when the output is not a terminal.
func RenderStyled(findings []model.Finding) string {
	var sb strings.Builder
	writeText(&sb, findings, lipglossStyler{})
	return sb.String()
}
