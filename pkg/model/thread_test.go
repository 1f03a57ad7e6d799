package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseThreadState(t *testing.T) {
	tests := []struct {
		input    string
		expected ThreadState
		ok       bool
	}{
		{"RUNNABLE", ThreadStateRunnable, true},
		{"blocked", ThreadStateBlocked, true},
		{" TIMED_WAITING ", ThreadStateTimedWaiting, true},
		{"NEW", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			st, ok := ParseThreadState(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, st)
		})
	}
}

func TestThreadSnapshot_Validate(t *testing.T) {
	tests := []struct {
		name    string
		thread  ThreadSnapshot
		wantErr string
	}{
		{
			name:   "runnable",
			thread: ThreadSnapshot{ID: "main", State: ThreadStateRunnable},
		},
		{
			name:   "blocked with monitor",
			thread: ThreadSnapshot{ID: "T1", State: ThreadStateBlocked, BlockedOn: "O1"},
		},
		{
			name:   "waiting without monitor",
			thread: ThreadSnapshot{ID: "T1", State: ThreadStateWaiting},
		},
		{
			name:    "blocked without monitor",
			thread:  ThreadSnapshot{ID: "T1", State: ThreadStateBlocked},
			wantErr: "no blocked-on monitor",
		},
		{
			name:    "runnable with monitor",
			thread:  ThreadSnapshot{ID: "T1", State: ThreadStateRunnable, BlockedOn: "O1"},
			wantErr: "has a blocked-on monitor",
		},
		{
			name:    "missing id",
			thread:  ThreadSnapshot{State: ThreadStateRunnable},
			wantErr: "no identifier",
		},
		{
			name:    "unknown state",
			thread:  ThreadSnapshot{ID: "x", State: "NEW"},
			wantErr: "unknown state",
		},
		{
			name:    "negative cpu time",
			thread:  ThreadSnapshot{ID: "x", State: ThreadStateRunnable, CPUTime: -time.Second},
			wantErr: "negative cpu",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.thread.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestThreadSnapshot_TopFrame(t *testing.T) {
	th := ThreadSnapshot{Stack: []StackFrame{
		{Function: "com.example.Cache.get", Location: "Cache.java:42"},
		{Function: "java.lang.Thread.run"},
	}}
	assert.Equal(t, "com.example.Cache.get(Cache.java:42)", th.TopFrame().String())

	empty := ThreadSnapshot{}
	assert.Equal(t, "", empty.TopFrame().String())
}

func TestThreadSnapshot_CPUPercent(t *testing.T) {
	tests := []struct {
		name   string
		thread ThreadSnapshot
		want   float64
	}{
		{name: "unknown elapsed", thread: ThreadSnapshot{CPUTime: time.Second}},
		{name: "half", thread: ThreadSnapshot{CPUTime: 5 * time.Second, Elapsed: 10 * time.Second}, want: 50},
		{name: "idle", thread: ThreadSnapshot{Elapsed: time.Minute}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.thread.CPUPercent(), 0.001)
		})
	}
}
