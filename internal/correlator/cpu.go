package correlator

import (
	"fmt"
	"time"

	"github.com/dump-correlator/pkg/model"
)

// checkHighCPUThread flags runnable threads that spent most of their life on
// CPU. Threads without an elapsed time cannot be judged and are skipped.
func checkHighCPUThread(rc *RuleContext) []model.Finding {
	if rc.Options.HighCPUPercent <= 0 || rc.CPU == nil {
		return nil
	}

	var findings []model.Finding
	for _, e := range rc.CPU.Threads {
		t := &rc.Threads[e.Index]
		if t.State != model.ThreadStateRunnable || t.Elapsed <= 0 {
			continue
		}
		if t.CPUTime < rc.Options.HighCPUMinTime || e.LifetimePercent < rc.Options.HighCPUPercent {
			continue
		}
		findings = append(findings, model.Finding{
			Severity: model.SeverityWarning,
			Rule:     model.RuleHighCPUThread,
			Message: fmt.Sprintf("hot thread: %q used %s of CPU in %s (%.0f%% of its lifetime, %.1f%% of all thread CPU)",
				t.ID, t.CPUTime.Round(time.Millisecond), t.Elapsed.Round(time.Millisecond),
				e.LifetimePercent, e.SharePercent),
			SourceIDs: []string{t.ID},
			Score:     t.CPUTime.Milliseconds(),
		})
	}
	return findings
}
