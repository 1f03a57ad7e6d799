// Package threaddump parses jstack style thread dump text.
//
// A dump is an optional timestamp line and banner, followed by thread
// records separated by blank lines:
//
//	"worker-1" #12 prio=5 blocked=1500ms
//	   java.lang.Thread.State: BLOCKED (on object monitor)
//		at com.example.Cache.get(Cache.java:42)
//		- waiting to lock <0x76ab62208> (a java.util.HashMap)
//		- locked <0x76ab00010> (a java.lang.Object)
//
// Header attributes cpu= and elapsed= are kept. VM internal threads print no
// state line and take their state from the header status text. A
// "Found ... deadlock" report ends the thread section.
package threaddump

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/dump-correlator/internal/parser"
	apperrors "github.com/dump-correlator/pkg/errors"
	"github.com/dump-correlator/pkg/model"
)

// FormatName is the registry key of this parser.
const FormatName = "jstack"

// Source is reported in FormatErrors raised by this parser.
const Source = "threads"

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
}

// Parser implements parser.ThreadParser for jstack style dumps.
type Parser struct{}

// NewParser creates a new thread dump parser.
func NewParser() *Parser {
	return &Parser{}
}

// Name returns the name of this parser.
func (p *Parser) Name() string {
	return FormatName
}

// RegisterWithRegistry registers the parser with the given registry.
func RegisterWithRegistry(registry *parser.Registry) {
	p := NewParser()
	registry.RegisterThreads(FormatName, p)
	registry.RegisterThreads("threaddump", p)
}

// ParseThreads parses a thread dump. Empty input yields an empty result.
// Duplicate thread names are kept in input order.
func (p *Parser) ParseThreads(ctx context.Context, reader io.Reader) ([]model.ThreadSnapshot, error) {
	var (
		threads    []model.ThreadSnapshot
		current    *record
		capturedAt time.Time
		seenRecord bool
		seenText   bool
		inTrailer  bool
		lineNum    int
	)

	flush := func() error {
		if current == nil {
			return nil
		}
		t, err := current.build()
		if err != nil {
			return err
		}
		threads = append(threads, t)
		current = nil
		return nil
	}

	scanner := parser.NewLineScanner(reader)
	for scanner.Scan() {
		lineNum++
		if lineNum%parser.CancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		raw := scanner.Text()
		line := strings.TrimSpace(raw)

		// The deadlock report repeats thread names and stacks in its own
		// layout and closes the dump.
		if inTrailer {
			continue
		}
		if isDeadlockReport(raw) {
			if err := flush(); err != nil {
				return nil, err
			}
			inTrailer = true
			continue
		}

		if line == "" {
			if current != nil {
				current.sawBlank = true
			}
			continue
		}

		// jstack prints the ownable synchronizer section after a blank line
		// but it still belongs to the thread above.
		if current != nil && current.sawBlank {
			if line == ownableSyncHeader {
				current.sawBlank = false
			} else if err := flush(); err != nil {
				return nil, err
			}
		}

		if strings.HasPrefix(line, `"`) {
			if err := flush(); err != nil {
				return nil, err
			}
			rec, err := newRecord(line, lineNum)
			if err != nil {
				return nil, err
			}
			current = rec
			seenRecord = true
			continue
		}

		if current != nil {
			if err := current.addLine(line, lineNum); err != nil {
				return nil, err
			}
			continue
		}

		// Outside a record: indented content without a header is a broken
		// record, anything else is banner or trailer text.
		if raw != line && looksLikeRecordBody(line) {
			return nil, apperrors.NewFormatError(Source, lineNum,
				"thread record content without a quoted thread name header")
		}
		if !seenRecord && !seenText {
			if ts, ok := parseTimestamp(line); ok {
				capturedAt = ts
			}
		}
		seenText = true
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.NewFormatError(Source, lineNum+1, "read failed: %v", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if threads == nil {
		return []model.ThreadSnapshot{}, nil
	}
	for i := range threads {
		threads[i].CapturedAt = capturedAt
	}
	return threads, nil
}

func parseTimestamp(line string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, line); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// isDeadlockReport matches "Found one Java-level deadlock:" and the
// "Found N Java-level deadlocks:" variant.
func isDeadlockReport(raw string) bool {
	return strings.HasPrefix(raw, "Found ") && strings.Contains(raw, "deadlock")
}

func looksLikeRecordBody(line string) bool {
	return strings.HasPrefix(line, "at ") ||
		strings.HasPrefix(line, "- ") ||
		strings.HasPrefix(line, stateLinePrefix)
}
