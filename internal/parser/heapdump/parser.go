// Package heapdump parses the line oriented heap dump text format.
//
//	# comment
//	captured: 2024-05-01T10:00:00Z
//	0x76ab62208 java.util.HashMap shallow=48 retained=500MB refs=0x1,0x2
//
// Sizes are raw bytes or humanized units such as 500MB or 64KiB.
package heapdump

import (
	"context"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dump-correlator/internal/parser"
	apperrors "github.com/dump-correlator/pkg/errors"
	"github.com/dump-correlator/pkg/model"
)

// FormatName is the registry key of this parser.
const FormatName = "heaptext"

// Source is reported in FormatErrors raised by this parser.
const Source = "heap"

const capturedPrefix = "captured:"

// Parser implements parser.HeapParser.
type Parser struct{}

// NewParser creates a new heap dump parser.
func NewParser() *Parser {
	return &Parser{}
}

// Name returns the name of this parser.
func (p *Parser) Name() string {
	return FormatName
}

// RegisterWithRegistry registers the parser with the given registry.
func RegisterWithRegistry(registry *parser.Registry) {
	registry.RegisterHeap(FormatName, NewParser())
}

// ParseHeap parses a heap dump into records in input order. Object ids must
// be unique.
func (p *Parser) ParseHeap(ctx context.Context, reader io.Reader) ([]model.ObjectRecord, error) {
	objects := []model.ObjectRecord{}
	seen := make(map[string]int)
	var capturedAt time.Time

	scanner := parser.NewLineScanner(reader)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum%parser.CancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, capturedPrefix) {
			value := strings.TrimSpace(strings.TrimPrefix(line, capturedPrefix))
			ts, err := time.Parse(time.RFC3339Nano, value)
			if err != nil {
				return nil, apperrors.NewFormatError(Source, lineNum, "invalid capture timestamp %q", value)
			}
			capturedAt = ts
			continue
		}

		obj, err := parseObjectLine(line, lineNum)
		if err != nil {
			return nil, err
		}
		if first, dup := seen[obj.ID]; dup {
			return nil, apperrors.NewFormatError(Source, lineNum,
				"duplicate object id %s (first seen on line %d)", obj.ID, first)
		}
		seen[obj.ID] = lineNum
		objects = append(objects, obj)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.NewFormatError(Source, lineNum+1, "read failed: %v", err)
	}

	for i := range objects {
		objects[i].CapturedAt = capturedAt
	}
	return objects, nil
}

func parseObjectLine(line string, lineNum int) (model.ObjectRecord, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return model.ObjectRecord{}, apperrors.NewFormatError(Source, lineNum,
			"object line needs at least an id and a type: %q", line)
	}

	obj := model.ObjectRecord{ID: fields[0], TypeName: fields[1]}
	var hasShallow, hasRetained bool
	seenAttr := make(map[string]bool, 3)

	for _, attr := range fields[2:] {
		key, value, ok := strings.Cut(attr, "=")
		if !ok {
			return model.ObjectRecord{}, apperrors.NewFormatError(Source, lineNum, "unknown attribute %q", attr)
		}
		if seenAttr[key] {
			return model.ObjectRecord{}, apperrors.NewFormatError(Source, lineNum, "duplicate attribute %q", key)
		}
		seenAttr[key] = true

		switch key {
		case "shallow":
			n, err := ParseSize(value)
			if err != nil {
				return model.ObjectRecord{}, apperrors.NewFormatError(Source, lineNum,
					"invalid shallow size %q: %v", value, err)
			}
			obj.ShallowSize = n
			hasShallow = true
		case "retained":
			n, err := ParseSize(value)
			if err != nil {
				return model.ObjectRecord{}, apperrors.NewFormatError(Source, lineNum,
					"invalid retained size %q: %v", value, err)
			}
			obj.RetainedSize = n
			hasRetained = true
		case "refs":
			refs := strings.Split(value, ",")
			for _, ref := range refs {
				if ref == "" {
					return model.ObjectRecord{}, apperrors.NewFormatError(Source, lineNum,
						"empty reference in %q", attr)
				}
			}
			obj.Refs = refs
		default:
			return model.ObjectRecord{}, apperrors.NewFormatError(Source, lineNum, "unknown attribute %q", key)
		}
	}

	if !hasShallow {
		return model.ObjectRecord{}, apperrors.NewFormatError(Source, lineNum,
			"object %s has no shallow size", obj.ID)
	}
	if hasRetained && obj.RetainedSize < obj.ShallowSize {
		return model.ObjectRecord{}, apperrors.NewFormatError(Source, lineNum,
			"object %s retained size %d is smaller than shallow size %d",
			obj.ID, obj.RetainedSize, obj.ShallowSize)
	}
	return obj, nil
}

// ParseSize parses a byte count given as an integer or a humanized size.
func ParseSize(s string) (int64, error) {
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, strconv.ErrRange
		}
		return n, nil
	}
	if strings.HasPrefix(s, "-") {
		return 0, strconv.ErrRange
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt64 {
		return 0, strconv.ErrRange
	}
	return int64(n), nil
}
