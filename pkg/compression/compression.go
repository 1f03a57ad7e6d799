// Package compression transparently handles gzip and zstd compressed dumps
// and compresses archived report bodies.
package compression

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Type represents the compression algorithm used.
type Type uint8

const (
	// TypeNone marks plain, uncompressed content.
	TypeNone Type = iota
	// TypeGzip marks gzip content (magic 0x1f 0x8b).
	TypeGzip
	// TypeZstd marks zstd content (magic 0x28 0xb5 0x2f 0xfd).
	TypeZstd
)

// String returns the human-readable name of the type.
func (t Type) String() string {
	switch t {
	case TypeGzip:
		return "gzip"
	case TypeZstd:
		return "zstd"
	default:
		return "none"
	}
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// DetectType detects the compression type from the leading bytes of a stream.
func DetectType(header []byte) Type {
	switch {
	case bytes.HasPrefix(header, zstdMagic):
		return TypeZstd
	case bytes.HasPrefix(header, gzipMagic):
		return TypeGzip
	default:
		return TypeNone
	}
}

// NewReader wraps r so that gzip or zstd content is decompressed on the fly.
// Plain content is passed through unchanged. The caller must Close the
// returned reader; closing does not close r.
func NewReader(r io.Reader) (io.ReadCloser, Type, error) {
	br := bufio.NewReader(r)
	header, err := br.Peek(len(zstdMagic))
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, TypeNone, fmt.Errorf("failed to read stream header: %w", err)
	}

	switch t := DetectType(header); t {
	case TypeGzip:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, t, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gz, t, nil
	case TypeZstd:
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, t, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return dec.IOReadCloser(), t, nil
	default:
		return io.NopCloser(br), TypeNone, nil
	}
}

// ReadAll reads and decompresses everything from r.
func ReadAll(r io.Reader) ([]byte, error) {
	rc, _, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	return data, nil
}

// Compress compresses data with the given algorithm. TypeNone returns a copy.
func Compress(t Type, data []byte) ([]byte, error) {
	switch t {
	case TypeZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case TypeGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			w.Close()
			return nil, fmt.Errorf("failed to write gzip data: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("failed to close gzip writer: %w", err)
		}
		return buf.Bytes(), nil
	case TypeNone:
		return append([]byte(nil), data...), nil
	default:
		return nil, fmt.Errorf("unknown compression type: %d", t)
	}
}

// Decompress detects the compression type of data and decompresses it.
func Decompress(data []byte) ([]byte, error) {
	return ReadAll(bytes.NewReader(data))
}
