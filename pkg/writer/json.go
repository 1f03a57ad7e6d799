// Package writer writes structured results to files and streams.
package writer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dump-correlator/pkg/compression"
)

// JSONWriter writes values of T as JSON.
type JSONWriter[T any] struct {
	// Indent is the indentation for pretty printing. Empty means compact.
	Indent string
}

// NewJSONWriter creates a JSON writer with compact output.
func NewJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{}
}

// NewPrettyJSONWriter creates a JSON writer with two-space indentation.
func NewPrettyJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{Indent: "  "}
}

// Write encodes data to w.
func (jw *JSONWriter[T]) Write(data T, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if jw.Indent != "" {
		enc.SetIndent("", jw.Indent)
	}
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("failed to encode json: %w", err)
	}
	return nil
}

// Marshal encodes data into a byte slice.
func (jw *JSONWriter[T]) Marshal(data T) ([]byte, error) {
	var buf bytes.Buffer
	if err := jw.Write(data, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteToFile writes data to path. A ".gz" or ".zst" suffix compresses the
// output with the matching algorithm.
func (jw *JSONWriter[T]) WriteToFile(data T, path string) error {
	raw, err := jw.Marshal(data)
	if err != nil {
		return err
	}

	out, err := compression.Compress(typeForPath(path), raw)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func typeForPath(path string) compression.Type {
	switch {
	case strings.HasSuffix(path, ".zst"):
		return compression.TypeZstd
	case strings.HasSuffix(path, ".gz"):
		return compression.TypeGzip
	default:
		return compression.TypeNone
	}
}
