// Package model defines the records exchanged between the parser, correlator
// and report stages.
package model

import (
	"fmt"
	"strings"
	"time"
)

// ThreadState is the scheduling state of a thread at capture time.
type ThreadState string

const (
	ThreadStateRunnable     ThreadState = "RUNNABLE"
	ThreadStateBlocked      ThreadState = "BLOCKED"
	ThreadStateWaiting      ThreadState = "WAITING"
	ThreadStateTimedWaiting ThreadState = "TIMED_WAITING"
	ThreadStateTerminated   ThreadState = "TERMINATED"
)

var threadStates = map[string]ThreadState{
	"RUNNABLE":      ThreadStateRunnable,
	"BLOCKED":       ThreadStateBlocked,
	"WAITING":       ThreadStateWaiting,
	"TIMED_WAITING": ThreadStateTimedWaiting,
	"TERMINATED":    ThreadStateTerminated,
}

// ParseThreadState parses a state name, case-insensitively.
func ParseThreadState(s string) (ThreadState, bool) {
	st, ok := threadStates[strings.ToUpper(strings.TrimSpace(s))]
	return st, ok
}

// String returns the string representation of ThreadState.
func (s ThreadState) String() string {
	return string(s)
}

// IsWaiting reports whether the state can carry a wait target.
func (s ThreadState) IsWaiting() bool {
	return s == ThreadStateBlocked || s == ThreadStateWaiting
}

// StackFrame is a single frame of a captured call stack.
type StackFrame struct {
	Function string `json:"function"`
	Location string `json:"location,omitempty"`
}

// String returns the frame in "function(location)" form.
func (f StackFrame) String() string {
	if f.Location == "" {
		return f.Function
	}
	return f.Function + "(" + f.Location + ")"
}

// ThreadSnapshot is one thread of a thread dump.
type ThreadSnapshot struct {
	// ID is the thread display name. It is not guaranteed to be unique.
	ID     string      `json:"id"`
	Number int64       `json:"number,omitempty"`
	State  ThreadState `json:"state"`
	// BlockedOn is the monitor id the thread waits for. Only set when State
	// is BLOCKED or WAITING.
	BlockedOn  string        `json:"blocked_on,omitempty"`
	HeldLocks  []string      `json:"held_locks,omitempty"`
	Stack      []StackFrame  `json:"stack"`
	BlockedFor time.Duration `json:"blocked_for,omitempty"`
	CapturedAt time.Time     `json:"captured_at"`
	// CPUTime and Elapsed are the CPU time consumed and the wall time since
	// the thread started. Zero when the dump does not report them.
	CPUTime time.Duration `json:"cpu_time,omitempty"`
	Elapsed time.Duration `json:"elapsed,omitempty"`
}

// Validate checks the record invariants.
func (t *ThreadSnapshot) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("thread has no identifier")
	}
	if _, ok := threadStates[string(t.State)]; !ok {
		return fmt.Errorf("thread %q has unknown state %q", t.ID, t.State)
	}
	if t.State == ThreadStateBlocked && t.BlockedOn == "" {
		return fmt.Errorf("thread %q is BLOCKED but has no blocked-on monitor", t.ID)
	}
	if t.BlockedOn != "" && !t.State.IsWaiting() {
		return fmt.Errorf("thread %q is %s but has a blocked-on monitor", t.ID, t.State)
	}
	if t.CPUTime < 0 || t.Elapsed < 0 {
		return fmt.Errorf("thread %q has negative cpu or elapsed time", t.ID)
	}
	return nil
}

// TopFrame returns the innermost frame, or an empty frame.
func (t *ThreadSnapshot) TopFrame() StackFrame {
	if len(t.Stack) == 0 {
		return StackFrame{}
	}
	return t.Stack[0]
}

// CPUPercent returns CPUTime as a percentage of Elapsed, or 0 when the
// elapsed time is unknown. Multi-threaded JIT or GC workers can exceed 100.
func (t *ThreadSnapshot) CPUPercent() float64 {
	if t.Elapsed <= 0 {
		return 0
	}
	return float64(t.CPUTime) / float64(t.Elapsed) * 100
}
