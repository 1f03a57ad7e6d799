// Package statistics summarises a thread dump: threads ranked by CPU time and
// the frames that parked threads pile up in.
package statistics

import (
	"sort"

	"github.com/dump-correlator/pkg/model"
)

// HotFramesCalculator counts the innermost frame of every parked thread. A
// frame shared by many parked threads usually names the contended resource.
type HotFramesCalculator struct {
	topN          int
	minThreads    int
	sampleThreads int
}

// HotFramesOption configures the HotFramesCalculator.
type HotFramesOption func(*HotFramesCalculator)

// WithTopN sets the number of frames to return.
func WithTopN(n int) HotFramesOption {
	return func(c *HotFramesCalculator) {
		c.topN = n
	}
}

// WithMinThreads drops frames shared by fewer threads.
func WithMinThreads(n int) HotFramesOption {
	return func(c *HotFramesCalculator) {
		c.minThreads = n
	}
}

// NewHotFramesCalculator creates a new HotFramesCalculator.
func NewHotFramesCalculator(opts ...HotFramesOption) *HotFramesCalculator {
	c := &HotFramesCalculator{
		topN:          15,
		minThreads:    2,
		sampleThreads: 5,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HotFrame is a frame with the parked threads sitting in it.
type HotFrame struct {
	Frame   string  `json:"frame"`
	Threads int     `json:"threads"`
	Percent float64 `json:"percent"`
	// Sample holds the first few thread names in dump order.
	Sample []string `json:"sample_threads"`
}

// HotFramesResult holds the calculation result.
type HotFramesResult struct {
	Frames []HotFrame
	// Parked counts parked threads that have a stack.
	Parked int
}

// Calculate groups parked threads by their innermost frame, most shared
// first, ties by frame.
func (c *HotFramesCalculator) Calculate(threads []model.ThreadSnapshot) *HotFramesResult {
	result := &HotFramesResult{
		Frames: make([]HotFrame, 0),
	}

	byFrame := make(map[string]*HotFrame)
	for i := range threads {
		t := &threads[i]
		if !isParked(t.State) || len(t.Stack) == 0 {
			continue
		}
		result.Parked++

		frame := t.TopFrame().String()
		hf, ok := byFrame[frame]
		if !ok {
			hf = &HotFrame{Frame: frame}
			byFrame[frame] = hf
		}
		hf.Threads++
		if len(hf.Sample) < c.sampleThreads {
			hf.Sample = append(hf.Sample, t.ID)
		}
	}

	entries := make([]HotFrame, 0, len(byFrame))
	for _, hf := range byFrame {
		if hf.Threads < c.minThreads {
			continue
		}
		hf.Percent = float64(hf.Threads) / float64(result.Parked) * 100
		entries = append(entries, *hf)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Threads != entries[j].Threads {
			return entries[i].Threads > entries[j].Threads
		}
		return entries[i].Frame < entries[j].Frame
	})

	if c.topN > 0 && len(entries) > c.topN {
		entries = entries[:c.topN]
	}
	result.Frames = entries
	return result
}

func isParked(st model.ThreadState) bool {
	return st == model.ThreadStateBlocked ||
		st == model.ThreadStateWaiting ||
		st == model.ThreadStateTimedWaiting
}
