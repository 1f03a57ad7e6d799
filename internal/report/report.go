// Package report renders correlation findings for people and machines.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dump-correlator/internal/correlator"
	"github.com/dump-correlator/pkg/model"
)

// EmptyMessage is printed when a run produced no findings.
const EmptyMessage = "No issues detected."

// Document is everything a formatter needs to render one run.
type Document struct {
	RunID       string                 `json:"run_id"`
	GeneratedAt time.Time              `json:"generated_at"`
	Counts      map[string]int         `json:"counts"`
	Findings    []model.Finding        `json:"findings"`
	Stats       *correlator.Stats      `json:"stats,omitempty"`
	Inputs      map[string]string      `json:"inputs,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// NewDocument builds a Document. Findings are copied and put in report order.
func NewDocument(runID string, generatedAt time.Time, findings []model.Finding, stats *correlator.Stats) *Document {
	sorted := make([]model.Finding, len(findings))
	copy(sorted, findings)
	model.SortFindings(sorted)

	counts := make(map[string]int, len(model.Severities))
	bySeverity := model.CountBySeverity(sorted)
	for _, sev := range model.Severities {
		counts[sev.String()] = bySeverity[sev]
	}

	return &Document{
		RunID:       runID,
		GeneratedAt: generatedAt,
		Counts:      counts,
		Findings:    sorted,
		Stats:       stats,
	}
}

// Render returns the plain text report. It never fails.
func Render(findings []model.Finding) string {
	var sb strings.Builder
	writeText(&sb, findings, plainStyler{})
	return sb.String()
}

// styler decorates the pieces of a text report.
type styler interface {
	title(s string) string
	severity(sev model.Severity, s string) string
	rule(s string) string
	sources(s string) string
}

type plainStyler struct{}

func (plainStyler) title(s string) string                      { return s }
func (plainStyler) severity(_ model.Severity, s string) string { return s }
func (plainStyler) rule(s string) string                       { return s }
func (plainStyler) sources(s string) string                    { return s }

func writeText(w io.Writer, findings []model.Finding, st styler) {
	fmt.Fprintln(w, st.title("Diagnostic report"))
	if len(findings) == 0 {
		fmt.Fprintln(w, EmptyMessage)
		return
	}

	sorted := make([]model.Finding, len(findings))
	copy(sorted, findings)
	model.SortFindings(sorted)

	counts := model.CountBySeverity(sorted)
	fmt.Fprintf(w, "%d findings: %d critical, %d warning, %d info\n",
		len(sorted), counts[model.SeverityCritical], counts[model.SeverityWarning], counts[model.SeverityInfo])

	for _, sev := range model.Severities {
		fmt.Fprintln(w)
		fmt.Fprintln(w, st.severity(sev, fmt.Sprintf("%s (%d)", sev, counts[sev])))
		if counts[sev] == 0 {
			fmt.Fprintln(w, "  none")
			continue
		}
		n := 0
		for i := range sorted {
			f := &sorted[i]
			if f.Severity != sev {
				continue
			}
			n++
			fmt.Fprintf(w, "  %d. %s %s\n", n, st.rule("["+f.Rule+"]"), f.Message)
			if len(f.SourceIDs) > 0 {
				fmt.Fprintf(w, "     %s\n", st.sources("sources: "+strings.Join(f.SourceIDs, ", ")))
			}
		}
	}
}
