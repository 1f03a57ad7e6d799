package statistics

import (
	"sort"
	"time"

	"github.com/dump-correlator/pkg/model"
	"github.com/dump-correlator/pkg/profiling"
)

// ThreadStatsCalculator ranks the threads of a dump by the CPU time the JVM
// reported for them.
type ThreadStatsCalculator struct {
	maxThreads int
	states     map[model.ThreadState]bool
}

// ThreadStatsOption configures the ThreadStatsCalculator.
type ThreadStatsOption func(*ThreadStatsCalculator)

// WithMaxThreads sets the maximum number of threads to return.
func WithMaxThreads(n int) ThreadStatsOption {
	return func(c *ThreadStatsCalculator) {
		c.maxThreads = n
	}
}

// WithStates keeps only threads in one of the given states. Totals still
// cover every thread.
func WithStates(states ...model.ThreadState) ThreadStatsOption {
	return func(c *ThreadStatsCalculator) {
		c.states = make(map[model.ThreadState]bool, len(states))
		for _, st := range states {
			c.states[st] = true
		}
	}
}

// NewThreadStatsCalculator creates a new ThreadStatsCalculator.
func NewThreadStatsCalculator(opts ...ThreadStatsOption) *ThreadStatsCalculator {
	c := &ThreadStatsCalculator{
		maxThreads: 0, // 0 means no limit
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ThreadEntry is one thread of the CPU ranking.
type ThreadEntry struct {
	ThreadID  string            `json:"thread"`
	Number    int64             `json:"number,omitempty"`
	Group     string            `json:"group"`
	State     model.ThreadState `json:"state"`
	CPUMillis float64           `json:"cpu_ms"`
	// LifetimePercent is CPU time over the thread's elapsed time.
	LifetimePercent float64 `json:"lifetime_percent"`
	// SharePercent is the thread's part of all CPU time in the dump.
	SharePercent float64 `json:"share_percent"`
	// Index is the position of the thread in the dump.
	Index int `json:"-"`
}

// ThreadStatsResult holds the calculation result.
type ThreadStatsResult struct {
	Threads  []ThreadEntry
	TotalCPU time.Duration
	// Reporting counts threads that carry a CPU time.
	Reporting int
}

// Calculate ranks the threads by CPU time, largest first. Threads without a
// CPU time are left out. Ties keep dump order.
func (c *ThreadStatsCalculator) Calculate(threads []model.ThreadSnapshot) *ThreadStatsResult {
	result := &ThreadStatsResult{
		Threads: make([]ThreadEntry, 0),
	}

	for i := range threads {
		if threads[i].CPUTime > 0 {
			result.TotalCPU += threads[i].CPUTime
			result.Reporting++
		}
	}
	if result.Reporting == 0 {
		return result
	}

	entries := make([]ThreadEntry, 0, result.Reporting)
	for i := range threads {
		t := &threads[i]
		if t.CPUTime <= 0 {
			continue
		}
		if len(c.states) > 0 && !c.states[t.State] {
			continue
		}
		entries = append(entries, ThreadEntry{
			ThreadID:        t.ID,
			Number:          t.Number,
			Group:           profiling.ExtractThreadGroup(t.ID),
			State:           t.State,
			CPUMillis:       float64(t.CPUTime) / float64(time.Millisecond),
			LifetimePercent: t.CPUPercent(),
			SharePercent:    float64(t.CPUTime) / float64(result.TotalCPU) * 100,
			Index:           i,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CPUMillis > entries[j].CPUMillis
	})

	if c.maxThreads > 0 && len(entries) > c.maxThreads {
		entries = entries[:c.maxThreads]
	}
	result.Threads = entries
	return result
}

// GetThreadByName returns the first ranked entry with the given name.
func (r *ThreadStatsResult) GetThreadByName(name string) *ThreadEntry {
	for i := range r.Threads {
		if r.Threads[i].ThreadID == name {
			return &r.Threads[i]
		}
	}
	return nil
}

// Top returns at most n entries. n <= 0 returns all of them.
func (r *ThreadStatsResult) Top(n int) []ThreadEntry {
	if n <= 0 || n >= len(r.Threads) {
		return r.Threads
	}
	return r.Threads[:n]
}
