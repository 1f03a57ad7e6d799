package model

import (
	"fmt"
	"sort"
	"strings"
)

// Severity ranks findings. Higher values are more severe.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityInfo:     "INFO",
	SeverityWarning:  "WARNING",
	SeverityCritical: "CRITICAL",
}

// Severities lists all severities from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityWarning, SeverityInfo}

// String returns the string representation of Severity.
func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	sev, ok := ParseSeverity(string(text))
	if !ok {
		return fmt.Errorf("unknown severity %q", text)
	}
	*s = sev
	return nil
}

// ParseSeverity parses a severity name.
func ParseSeverity(s string) (Severity, bool) {
	for sev, name := range severityNames {
		if strings.EqualFold(name, s) {
			return sev, true
		}
	}
	return SeverityInfo, false
}

// Rule codes attached to findings.
const (
	RuleDanglingLockReference = "dangling_lock_reference"
	RuleLargeRetainedObject   = "large_retained_object"
	RuleStalledOnLargeObject  = "stalled_on_large_object"
	RuleLongHeldLock          = "long_held_lock"
	RuleDeadlock              = "deadlock"
	RuleLockContention        = "lock_contention"
	RuleSuspectedLeak         = "suspected_leak"
	RuleHighCPUThread         = "high_cpu_thread"
)

// Finding is a ranked diagnostic statement derived from a capture.
type Finding struct {
	Severity  Severity `json:"severity"`
	Rule      string   `json:"rule"`
	Message   string   `json:"message"`
	SourceIDs []string `json:"source_ids"`
	// Score orders findings of equal severity, larger first.
	Score int64 `json:"score,omitempty"`
}

// PrimaryID returns the first source id, used as the ordering tie-break.
func (f *Finding) PrimaryID() string {
	if len(f.SourceIDs) == 0 {
		return ""
	}
	return f.SourceIDs[0]
}

// Cites reports whether id is one of the finding's sources.
func (f *Finding) Cites(id string) bool {
	for _, s := range f.SourceIDs {
		if s == id {
			return true
		}
	}
	return false
}

// SortFindings orders findings by severity, score, primary id and message.
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := &findings[i], &findings[j]
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.PrimaryID() != b.PrimaryID() {
			return a.PrimaryID() < b.PrimaryID()
		}
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		return a.Message < b.Message
	})
}

// CountBySeverity returns the number of findings per severity.
func CountBySeverity(findings []Finding) map[Severity]int {
	counts := make(map[Severity]int, len(Severities))
	for _, f := range findings {
		counts[f.Severity]++
	}
	return counts
}
