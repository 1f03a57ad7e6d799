package correlator

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"

	apperrors "github.com/dump-correlator/pkg/errors"
	"github.com/dump-correlator/pkg/model"
)

// Rule is one correlation check.
type Rule struct {
	Name        string
	Description string
	Check       RuleCheckFunc
}

// RuleCheckFunc inspects the context and returns findings. It must not
// modify the context.
type RuleCheckFunc func(rc *RuleContext) []model.Finding

// DefaultRules returns the built-in rule set.
func DefaultRules() []Rule {
	return defaultRules()
}

func defaultRules() []Rule {
	return []Rule{
		{
			Name:        model.RuleDanglingLockReference,
			Description: "Waiting thread whose monitor is not in the heap snapshot",
			Check:       checkDanglingLockReference,
		},
		{
			Name:        model.RuleLargeRetainedObject,
			Description: "Object above the retained size threshold",
			Check:       checkLargeRetainedObject,
		},
		{
			Name:        model.RuleStalledOnLargeObject,
			Description: "Blocked thread waiting on a large retained object",
			Check:       checkStalledOnLargeObject,
		},
		{
			Name:        model.RuleLongHeldLock,
			Description: "Thread blocked longer than the threshold with no size signal",
			Check:       checkLongHeldLock,
		},
		{
			Name:        model.RuleDeadlock,
			Description: "Cycle in the thread wait-for graph",
			Check:       checkDeadlock,
		},
		{
			Name:        model.RuleLockContention,
			Description: "Monitor with many waiting threads",
			Check:       checkLockContention,
		},
		{
			Name:        model.RuleSuspectedLeak,
			Description: "Type with many instances holding a large share of the heap",
			Check:       checkSuspectedLeak,
		},
		{
			Name:        model.RuleHighCPUThread,
			Description: "Runnable thread that spent most of its lifetime on CPU",
			Check:       checkHighCPUThread,
		},
	}
}

func describe(o *model.ObjectRecord) string {
	return fmt.Sprintf("%s (%s)", o.ID, o.TypeName)
}

func checkDanglingLockReference(rc *RuleContext) []model.Finding {
	var findings []model.Finding
	for i := range rc.Threads {
		t := &rc.Threads[i]
		if !t.State.IsWaiting() || t.BlockedOn == "" {
			continue
		}
		if _, ok := rc.Resolve(t); ok {
			continue
		}
		warning := &apperrors.UnresolvedReferenceWarning{ThreadID: t.ID, TargetID: t.BlockedOn}
		findings = append(findings, model.Finding{
			Severity:  model.SeverityWarning,
			Rule:      model.RuleDanglingLockReference,
			Message:   "dangling lock reference: " + warning.Error(),
			SourceIDs: []string{t.ID, t.BlockedOn},
			Score:     t.BlockedFor.Milliseconds(),
		})
	}
	return findings
}

func checkLargeRetainedObject(rc *RuleContext) []model.Finding {
	var findings []model.Finding
	for _, r := range rc.Ranked {
		if _, ok := rc.Large[r.Object.ID]; !ok {
			continue
		}
		origin := "declared"
		if r.Computed {
			origin = "computed"
		}
		findings = append(findings, model.Finding{
			Severity: model.SeverityCritical,
			Rule:     model.RuleLargeRetainedObject,
			Message: fmt.Sprintf("large retained object: %s retains %s (%s)",
				describe(r.Object), humanize.Bytes(uint64(r.Retained)), origin),
			SourceIDs: []string{r.Object.ID},
			Score:     r.Retained,
		})
	}
	return findings
}

func checkStalledOnLargeObject(rc *RuleContext) []model.Finding {
	var findings []model.Finding
	for i := range rc.Threads {
		t := &rc.Threads[i]
		if t.State != model.ThreadStateBlocked {
			continue
		}
		o, ok := rc.Resolve(t)
		if !ok {
			continue
		}
		retained, large := rc.Large[o.ID]
		if !large {
			continue
		}
		findings = append(findings, model.Finding{
			Severity: model.SeverityCritical,
			Rule:     model.RuleStalledOnLargeObject,
			Message: fmt.Sprintf("thread likely stalled on oversized object: %q is blocked on %s which retains %s",
				t.ID, describe(o), humanize.Bytes(uint64(retained))),
			SourceIDs: []string{t.ID, o.ID},
			Score:     retained,
		})
	}
	return findings
}

func checkLongHeldLock(rc *RuleContext) []model.Finding {
	var findings []model.Finding
	for i := range rc.Threads {
		t := &rc.Threads[i]
		if !t.State.IsWaiting() || t.BlockedFor <= rc.Options.LongBlockDuration {
			continue
		}
		// a large target is a size signal that already explains the wait
		if _, large := rc.Large[t.BlockedOn]; large {
			continue
		}

		ids := []string{t.ID}
		target := "an unknown monitor"
		if t.BlockedOn != "" {
			ids = append(ids, t.BlockedOn)
			target = t.BlockedOn
		}
		findings = append(findings, model.Finding{
			Severity: model.SeverityWarning,
			Rule:     model.RuleLongHeldLock,
			Message: fmt.Sprintf("long-held lock, cause undetermined: %q has been %s on %s for %s",
				t.ID, t.State, target, t.BlockedFor),
			SourceIDs: ids,
			Score:     t.BlockedFor.Milliseconds(),
		})
	}
	return findings
}

func checkLockContention(rc *RuleContext) []model.Finding {
	waiters := make(map[string][]int)
	for i := range rc.Threads {
		t := &rc.Threads[i]
		if t.State.IsWaiting() && t.BlockedOn != "" {
			waiters[t.BlockedOn] = append(waiters[t.BlockedOn], i)
		}
	}
	owners := lockOwners(rc.Threads)

	monitors := make([]string, 0, len(waiters))
	for m, idx := range waiters {
		if len(idx) >= rc.Options.ContentionMinWaiters {
			monitors = append(monitors, m)
		}
	}
	sort.Strings(monitors)

	var findings []model.Finding
	for _, m := range monitors {
		ids := []string{m}
		owner := "no thread in the dump"
		if o, ok := owners[m]; ok {
			owner = fmt.Sprintf("%q", rc.Threads[o].ID)
			ids = append(ids, rc.Threads[o].ID)
		}
		for _, i := range waiters[m] {
			ids = append(ids, rc.Threads[i].ID)
		}

		target := m
		if o, ok := rc.Objects[m]; ok {
			target = describe(o)
		}
		findings = append(findings, model.Finding{
			Severity: model.SeverityWarning,
			Rule:     model.RuleLockContention,
			Message: fmt.Sprintf("lock contention: %d threads wait on %s held by %s",
				len(waiters[m]), target, owner),
			SourceIDs: ids,
			Score:     int64(len(waiters[m])),
		})
	}
	return findings
}

type typeUsage struct {
	name      string
	count     int
	shallow   int64
	instances []*model.ObjectRecord
}

// leakSampleSize bounds how many instance ids a leak finding cites.
const leakSampleSize = 3

func checkSuspectedLeak(rc *RuleContext) []model.Finding {
	if rc.totalShallow <= 0 {
		return nil
	}

	byType := make(map[string]*typeUsage)
	for _, o := range rc.Objects {
		u, ok := byType[o.TypeName]
		if !ok {
			u = &typeUsage{name: o.TypeName}
			byType[o.TypeName] = u
		}
		u.count++
		u.shallow += o.ShallowSize
		u.instances = append(u.instances, o)
	}

	names := make([]string, 0, len(byType))
	for name := range byType {
		names = append(names, name)
	}
	sort.Strings(names)

	var findings []model.Finding
	for _, name := range names {
		u := byType[name]
		if u.count < rc.Options.LeakMinInstances {
			continue
		}
		share := float64(u.shallow) * 100 / float64(rc.totalShallow)
		if share < rc.Options.LeakMinSharePercent {
			continue
		}
		if !rc.Options.LeakIncludePrimitiveArrays && rc.Filter.IsPrimitiveArray(name) {
			continue
		}

		sort.Slice(u.instances, func(i, j int) bool {
			a, b := u.instances[i], u.instances[j]
			if a.ShallowSize != b.ShallowSize {
				return a.ShallowSize > b.ShallowSize
			}
			return a.ID < b.ID
		})
		ids := make([]string, 0, leakSampleSize)
		for _, o := range u.instances[:min(leakSampleSize, len(u.instances))] {
			ids = append(ids, o.ID)
		}

		findings = append(findings, model.Finding{
			Severity: model.SeverityInfo,
			Rule:     model.RuleSuspectedLeak,
			Message: fmt.Sprintf("suspected leak: %s instances of %s [%s] hold %s (%.1f%% of heap)",
				humanize.Comma(int64(u.count)), name, rc.Filter.Classify(name),
				humanize.Bytes(uint64(u.shallow)), share),
			SourceIDs: ids,
			Score:     u.shallow,
		})
	}
	return findings
}
