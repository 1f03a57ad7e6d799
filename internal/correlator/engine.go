// Package correlator joins thread snapshots to heap objects and derives
// ranked findings from the pair.
package correlator

import (
	"math"
	"sort"
	"time"

	"github.com/dump-correlator/internal/graph"
	"github.com/dump-correlator/internal/statistics"
	"github.com/dump-correlator/pkg/config"
	apperrors "github.com/dump-correlator/pkg/errors"
	"github.com/dump-correlator/pkg/filter"
	"github.com/dump-correlator/pkg/model"
	"github.com/dump-correlator/pkg/utils"
)

// Options holds the correlation thresholds.
type Options struct {
	// RetainedSizeThresholdPercent flags the top N percent of objects by
	// retained size, rounded up. Ignored when RetainedSizeThresholdBytes is set.
	RetainedSizeThresholdPercent float64
	// RetainedSizeThresholdBytes flags objects retaining at least this many
	// bytes. Zero means unset.
	RetainedSizeThresholdBytes int64
	LongBlockDuration          time.Duration
	ContentionMinWaiters       int
	LeakMinInstances           int
	LeakMinSharePercent        float64
	LeakIncludePrimitiveArrays bool
	// HighCPUPercent flags RUNNABLE threads whose CPU time is at least this
	// share of their lifetime. Zero disables the check.
	HighCPUPercent float64
	// HighCPUMinTime ignores threads with less CPU time than this.
	HighCPUMinTime time.Duration
	// TopThreads and HotFrames bound the summaries attached to a Result.
	// Zero means no limit.
	TopThreads int
	HotFrames  int
}

// DefaultOptions returns the default thresholds.
func DefaultOptions() Options {
	return Options{
		RetainedSizeThresholdPercent: 1,
		LongBlockDuration:            30 * time.Second,
		ContentionMinWaiters:         3,
		LeakMinInstances:             1000,
		LeakMinSharePercent:          10,
		HighCPUPercent:               80,
		HighCPUMinTime:               10 * time.Second,
		TopThreads:                   10,
		HotFrames:                    10,
	}
}

// OptionsFromConfig converts the correlation section of the config file.
func OptionsFromConfig(cfg *config.CorrelationConfig) (Options, error) {
	bytes, err := cfg.ThresholdBytes()
	if err != nil {
		return Options{}, apperrors.Wrap(apperrors.CodeConfigError, "invalid correlation config", err)
	}
	return Options{
		RetainedSizeThresholdPercent: cfg.RetainedSizeThresholdPercent,
		RetainedSizeThresholdBytes:   bytes,
		LongBlockDuration:            cfg.LongBlockDuration(),
		ContentionMinWaiters:         cfg.ContentionMinWaiters,
		LeakMinInstances:             cfg.LeakMinInstances,
		LeakMinSharePercent:          cfg.LeakMinSharePercent,
		LeakIncludePrimitiveArrays:   cfg.LeakIncludePrimitiveArrays,
		HighCPUPercent:               cfg.HighCPUPercent,
		HighCPUMinTime:               cfg.HighCPUMinTime(),
		TopThreads:                   cfg.TopThreads,
		HotFrames:                    cfg.HotFrames,
	}, nil
}

func (o Options) normalized() Options {
	if o.ContentionMinWaiters < 2 {
		o.ContentionMinWaiters = 2
	}
	if o.LeakMinInstances < 1 {
		o.LeakMinInstances = 1
	}
	return o
}

// Stats summarises one correlation run.
type Stats struct {
	Threads         int   `json:"threads"`
	Objects         int   `json:"objects"`
	WaitingThreads  int   `json:"waiting_threads"`
	LargeObjects    int   `json:"large_objects"`
	UnresolvedWaits int   `json:"unresolved_waits"`
	DanglingRefs    int   `json:"dangling_refs"`
	TotalShallow    int64 `json:"total_shallow_bytes"`
}

// Result is the output of Analyze.
type Result struct {
	Findings []model.Finding
	Stats    Stats
	// TopCPUThreads ranks threads by reported CPU time.
	TopCPUThreads []statistics.ThreadEntry
	// HotFrames lists innermost frames shared by parked threads.
	HotFrames []statistics.HotFrame
}

// Engine runs the correlation rules. It keeps no state between calls and is
// safe for concurrent use.
type Engine struct {
	opts   Options
	rules  []Rule
	filter *filter.TypeFilter
	logger utils.Logger
}

// NewEngine creates an Engine with the default rules.
func NewEngine(opts Options, logger utils.Logger) *Engine {
	return NewEngineWithRules(opts, defaultRules(), logger)
}

// NewEngineWithRules creates an Engine with custom rules.
func NewEngineWithRules(opts Options, rules []Rule, logger utils.Logger) *Engine {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &Engine{
		opts:   opts.normalized(),
		rules:  rules,
		filter: filter.Default,
		logger: logger,
	}
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// Correlate returns the ordered findings for a thread and heap snapshot pair.
// It fails only when both inputs are empty.
func (e *Engine) Correlate(threads []model.ThreadSnapshot, objects []model.ObjectRecord) ([]model.Finding, error) {
	res, err := e.Analyze(threads, objects)
	if err != nil {
		return nil, err
	}
	return res.Findings, nil
}

// Analyze is Correlate plus run statistics.
func (e *Engine) Analyze(threads []model.ThreadSnapshot, objects []model.ObjectRecord) (*Result, error) {
	if len(threads) == 0 && len(objects) == 0 {
		return nil, apperrors.ErrEmptyInput
	}

	rc := e.newRuleContext(threads, objects)

	findings := make([]model.Finding, 0)
	for _, rule := range e.rules {
		if rule.Check == nil {
			continue
		}
		out := rule.Check(rc)
		if len(out) > 0 {
			e.logger.Debug("rule %s produced %d findings", rule.Name, len(out))
		}
		findings = append(findings, out...)
	}
	model.SortFindings(findings)

	return &Result{
		Findings:      findings,
		Stats:         rc.stats(),
		TopCPUThreads: rc.CPU.Top(e.opts.TopThreads),
		HotFrames:     statistics.NewHotFramesCalculator(statistics.WithTopN(e.opts.HotFrames)).Calculate(threads).Frames,
	}, nil
}

// RankedObject is an object with its effective retained size.
type RankedObject struct {
	Object   *model.ObjectRecord
	Retained int64
	// Computed is true when the size came from the reference graph rather
	// than the dump.
	Computed bool
}

// RuleContext is the read-only view shared by all rules of one run.
type RuleContext struct {
	Threads []model.ThreadSnapshot
	Objects map[string]*model.ObjectRecord
	// Ranked lists objects by retained size, largest first, ties by id.
	Ranked []RankedObject
	// Large maps ids of flagged objects to their retained size.
	Large    map[string]int64
	Graph    *graph.Graph
	Analysis *graph.Analysis
	Options  Options
	Filter   *filter.TypeFilter
	// CPU ranks every thread with a reported CPU time.
	CPU *statistics.ThreadStatsResult

	objectCount  int
	totalShallow int64
}

func (e *Engine) newRuleContext(threads []model.ThreadSnapshot, objects []model.ObjectRecord) *RuleContext {
	rc := &RuleContext{
		Threads: threads,
		Objects: make(map[string]*model.ObjectRecord, len(objects)),
		Large:   make(map[string]int64),
		Options: e.opts,
		Filter:  e.filter,
		CPU:     statistics.NewThreadStatsCalculator().Calculate(threads),
	}

	for i := range objects {
		o := &objects[i]
		if _, dup := rc.Objects[o.ID]; dup {
			continue
		}
		rc.Objects[o.ID] = o
		rc.totalShallow += o.ShallowSize
	}
	rc.objectCount = len(rc.Objects)

	rc.Graph = graph.New(objects)
	rc.Analysis = rc.Graph.Analyze()

	rc.Ranked = make([]RankedObject, 0, len(rc.Objects))
	for _, o := range rc.Objects {
		r := RankedObject{Object: o, Retained: o.RetainedSize}
		if !o.HasDeclaredRetained() {
			r.Retained, _ = rc.Analysis.Retained(o.ID)
			r.Computed = true
		}
		rc.Ranked = append(rc.Ranked, r)
	}
	sort.Slice(rc.Ranked, func(i, j int) bool {
		a, b := rc.Ranked[i], rc.Ranked[j]
		if a.Retained != b.Retained {
			return a.Retained > b.Retained
		}
		return a.Object.ID < b.Object.ID
	})

	if e.opts.RetainedSizeThresholdBytes > 0 {
		for _, r := range rc.Ranked {
			if r.Retained < e.opts.RetainedSizeThresholdBytes {
				break
			}
			rc.Large[r.Object.ID] = r.Retained
		}
	} else {
		for _, r := range rc.Ranked[:topCount(len(rc.Ranked), e.opts.RetainedSizeThresholdPercent)] {
			if r.Retained <= 0 {
				break
			}
			rc.Large[r.Object.ID] = r.Retained
		}
	}

	e.logger.Debug("correlating %d threads with %d objects, %d large",
		len(threads), rc.objectCount, len(rc.Large))
	return rc
}

// topCount is the number of ranked objects inside the top percent. Any
// positive percent covers at least one object so that small heaps still
// surface their largest retainer.
func topCount(n int, percent float64) int {
	if n == 0 || percent <= 0 {
		return 0
	}
	return min(int(math.Ceil(float64(n)*percent/100)), n)
}

// Resolve looks up the object a thread waits on.
func (rc *RuleContext) Resolve(t *model.ThreadSnapshot) (*model.ObjectRecord, bool) {
	if t.BlockedOn == "" {
		return nil, false
	}
	o, ok := rc.Objects[t.BlockedOn]
	return o, ok
}

func (rc *RuleContext) stats() Stats {
	s := Stats{
		Threads:      len(rc.Threads),
		Objects:      rc.objectCount,
		LargeObjects: len(rc.Large),
		DanglingRefs: rc.Graph.DanglingRefs,
		TotalShallow: rc.totalShallow,
	}
	for i := range rc.Threads {
		t := &rc.Threads[i]
		if !t.State.IsWaiting() {
			continue
		}
		s.WaitingThreads++
		if t.BlockedOn != "" {
			if _, ok := rc.Objects[t.BlockedOn]; !ok {
				s.UnresolvedWaits++
			}
		}
	}
	return s
}
