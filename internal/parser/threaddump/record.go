package threaddump

import (
	"strconv"
	"strings"
	"time"

	apperrors "github.com/dump-correlator/pkg/errors"
	"github.com/dump-correlator/pkg/model"
)

const (
	stateLinePrefix      = "java.lang.Thread.State:"
	shortStateLinePrefix = "State:"
	ownableSyncHeader    = "Locked ownable synchronizers:"
)

var waitPrefixes = []string{
	"waiting to lock",
	"waiting to re-lock",
	"waiting on",
	"parking to wait for",
}

// noObjectRef marks a wait line whose monitor the VM could not name.
const noObjectRef = "<no object reference available>"

// headerStates maps the status text at the end of a header line to a state.
// VM internal threads have no java.lang.Thread.State line and only carry this.
var headerStates = map[string]model.ThreadState{
	"runnable":             model.ThreadStateRunnable,
	"waiting on condition": model.ThreadStateWaiting,
	"in Object.wait()":     model.ThreadStateWaiting,
	"sleeping":             model.ThreadStateTimedWaiting,
}

// record accumulates the lines of one thread until it is built.
type record struct {
	startLine    int
	thread       model.ThreadSnapshot
	hasState     bool
	sawBlank     bool
	headerStatus string

	waitTarget   string
	waitLine     int
	inOwnableSyn bool
}

func newRecord(header string, lineNum int) (*record, error) {
	end := strings.Index(header[1:], `"`)
	if end < 0 {
		return nil, apperrors.NewFormatError(Source, lineNum, "unclosed thread name quote")
	}
	name := header[1 : end+1]
	if name == "" {
		return nil, apperrors.NewFormatError(Source, lineNum, "empty thread name")
	}

	r := &record{startLine: lineNum}
	r.thread.ID = name
	r.thread.Stack = []model.StackFrame{}

	var status []string
	for _, tok := range strings.Fields(header[end+2:]) {
		key, value, isAttr := strings.Cut(tok, "=")
		switch {
		case strings.HasPrefix(tok, "#"):
			n, err := strconv.ParseInt(tok[1:], 10, 64)
			if err != nil {
				return nil, apperrors.NewFormatError(Source, lineNum, "invalid thread number %q", tok)
			}
			r.thread.Number = n
		case key == "blocked" && isAttr:
			d, err := parseBlockedFor(value)
			if err != nil {
				return nil, apperrors.NewFormatError(Source, lineNum, "invalid blocked duration %q", tok)
			}
			r.thread.BlockedFor = d
		case (key == "cpu" || key == "elapsed") && isAttr:
			d, err := time.ParseDuration(value)
			if err != nil || d < 0 {
				return nil, apperrors.NewFormatError(Source, lineNum, "invalid %s time %q", key, tok)
			}
			if key == "cpu" {
				r.thread.CPUTime = d
			} else {
				r.thread.Elapsed = d
			}
		case isAttr, tok == "daemon", strings.HasPrefix(tok, "["):
			// prio=, tid=, nid=, os thread ids and stack addresses
		default:
			status = append(status, tok)
		}
	}
	r.headerStatus = strings.Join(status, " ")
	return r, nil
}

// parseBlockedFor accepts Go durations ("1.5s", "250ms") or bare milliseconds.
func parseBlockedFor(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms < 0 {
			return 0, strconv.ErrRange
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, strconv.ErrRange
	}
	return d, nil
}

func (r *record) addLine(line string, lineNum int) error {
	switch {
	case strings.HasPrefix(line, stateLinePrefix), strings.HasPrefix(line, shortStateLinePrefix):
		return r.addState(line, lineNum)
	case strings.HasPrefix(line, "at "):
		r.thread.Stack = append(r.thread.Stack, parseFrame(strings.TrimPrefix(line, "at ")))
		return nil
	case line == ownableSyncHeader:
		r.inOwnableSyn = true
		return nil
	case line == "No compile task", strings.HasPrefix(line, "Compiling:"):
		// JIT compiler threads report their current task
		return nil
	case strings.HasPrefix(line, "- "):
		return r.addLockLine(strings.TrimPrefix(line, "- "), lineNum)
	default:
		return apperrors.NewFormatError(Source, lineNum, "unrecognised line in thread %q: %q", r.thread.ID, line)
	}
}

func (r *record) addState(line string, lineNum int) error {
	if r.hasState {
		return apperrors.NewFormatError(Source, lineNum, "duplicate state line for thread %q", r.thread.ID)
	}
	rest := strings.TrimPrefix(line, stateLinePrefix)
	if rest == line {
		rest = strings.TrimPrefix(line, shortStateLinePrefix)
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return apperrors.NewFormatError(Source, lineNum, "empty state for thread %q", r.thread.ID)
	}
	st, ok := model.ParseThreadState(fields[0])
	if !ok {
		return apperrors.NewFormatError(Source, lineNum, "unknown thread state %q", fields[0])
	}
	r.thread.State = st
	r.hasState = true
	return nil
}

func (r *record) addLockLine(body string, lineNum int) error {
	if r.inOwnableSyn {
		if body == "None" {
			return nil
		}
		id, err := lockID(body, lineNum)
		if err != nil {
			return err
		}
		r.thread.HeldLocks = append(r.thread.HeldLocks, id)
		return nil
	}

	for _, prefix := range waitPrefixes {
		if strings.HasPrefix(body, prefix) {
			if strings.Contains(body, noObjectRef) {
				return nil
			}
			id, err := lockID(body, lineNum)
			if err != nil {
				return err
			}
			// only the innermost wait counts
			if r.waitTarget == "" {
				r.waitTarget = id
				r.waitLine = lineNum
			}
			return nil
		}
	}

	if strings.HasPrefix(body, "locked") || strings.HasPrefix(body, "eliminated") {
		id, err := lockID(body, lineNum)
		if err != nil {
			return err
		}
		if strings.HasPrefix(body, "locked") {
			r.thread.HeldLocks = append(r.thread.HeldLocks, id)
		}
		return nil
	}

	return apperrors.NewFormatError(Source, lineNum, "unknown lock line %q", body)
}

func lockID(body string, lineNum int) (string, error) {
	open := strings.Index(body, "<")
	if open < 0 {
		return "", apperrors.NewFormatError(Source, lineNum, "lock line has no <id>: %q", body)
	}
	closing := strings.Index(body[open:], ">")
	if closing < 0 {
		return "", apperrors.NewFormatError(Source, lineNum, "lock line has no <id>: %q", body)
	}
	id := strings.TrimSpace(body[open+1 : open+closing])
	if id == "" {
		return "", apperrors.NewFormatError(Source, lineNum, "lock line has an empty <id>")
	}
	return id, nil
}

// parseFrame splits "pkg.Class.method(File.java:42)" into function and location.
func parseFrame(s string) model.StackFrame {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, ")") {
		if open := strings.LastIndex(s, "("); open > 0 {
			return model.StackFrame{Function: s[:open], Location: s[open+1 : len(s)-1]}
		}
	}
	return model.StackFrame{Function: s}
}

// build validates the record and returns the finished snapshot.
func (r *record) build() (model.ThreadSnapshot, error) {
	t := r.thread
	if !r.hasState {
		st, ok := headerStates[r.headerStatus]
		if !ok {
			return model.ThreadSnapshot{}, apperrors.NewFormatError(Source, r.startLine,
				"thread %q has no state line", t.ID)
		}
		t.State = st
	}

	switch t.State {
	case model.ThreadStateBlocked:
		if r.waitTarget == "" {
			return model.ThreadSnapshot{}, apperrors.NewFormatError(Source, r.startLine,
				"thread %q is BLOCKED but has no wait line", t.ID)
		}
		t.BlockedOn = r.waitTarget
	case model.ThreadStateWaiting:
		t.BlockedOn = r.waitTarget
	case model.ThreadStateRunnable, model.ThreadStateTerminated:
		if r.waitTarget != "" {
			return model.ThreadSnapshot{}, apperrors.NewFormatError(Source, r.waitLine,
				"thread %q is %s but has a wait line", t.ID, t.State)
		}
	}

	// Object.wait() releases the monitor it also reports as locked.
	if t.BlockedOn != "" && len(t.HeldLocks) > 0 {
		held := t.HeldLocks[:0:0]
		for _, id := range t.HeldLocks {
			if id != t.BlockedOn {
				held = append(held, id)
			}
		}
		t.HeldLocks = held
	}
	if len(t.HeldLocks) == 0 {
		t.HeldLocks = nil
	}

	if err := t.Validate(); err != nil {
		return model.ThreadSnapshot{}, apperrors.NewFormatError(Source, r.startLine, "%v", err)
	}
	return t, nil
}
