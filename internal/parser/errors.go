package parser

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is returned when no parser is registered for a format.
var ErrUnsupportedFormat = errors.New("unsupported format")

func unsupported(kind, format string) error {
	return fmt.Errorf("%w: no %s dump parser for %q", ErrUnsupportedFormat, kind, format)
}
