// Package errors defines common error types for the application.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for the application.
const (
	CodeUnknown             = "UNKNOWN_ERROR"
	CodeFormat              = "FORMAT_ERROR"
	CodeEmptyInput          = "EMPTY_INPUT"
	CodeUnresolvedReference = "UNRESOLVED_REFERENCE"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeConfigError         = "CONFIG_ERROR"
	CodeStorageError        = "STORAGE_ERROR"
	CodeArchiveError        = "ARCHIVE_ERROR"
)

// AppError represents an application error with a code and message.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error instances.
var (
	ErrFormat              = New(CodeFormat, "malformed input")
	ErrEmptyInput          = New(CodeEmptyInput, "nothing to correlate: thread and heap snapshots are both empty")
	ErrUnresolvedReference = New(CodeUnresolvedReference, "unresolved reference")
	ErrInvalidInput        = New(CodeInvalidInput, "invalid input")
	ErrConfigError         = New(CodeConfigError, "configuration error")
	ErrStorageError        = New(CodeStorageError, "storage error")
	ErrArchiveError        = New(CodeArchiveError, "archive error")
)

// FormatError reports a record that could not be tokenized. It is fatal to the
// parse call that produced it.
type FormatError struct {
	// Source names the input kind, e.g. "threads" or "heap".
	Source string
	// Line is the 1-based line number where the bad record starts.
	Line   int
	Reason string
}

// NewFormatError creates a FormatError.
func NewFormatError(source string, line int, format string, args ...interface{}) *FormatError {
	return &FormatError{
		Source: source,
		Line:   line,
		Reason: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	return fmt.Sprintf("[%s] %s line %d: %s", CodeFormat, e.Source, e.Line, e.Reason)
}

// Unwrap lets errors.Is(err, ErrFormat) match.
func (e *FormatError) Unwrap() error {
	return ErrFormat
}

// UnresolvedReferenceWarning describes a thread whose wait target is not in
// the heap snapshot. It is recoverable and becomes a finding.
type UnresolvedReferenceWarning struct {
	ThreadID string
	TargetID string
}

// Error implements the error interface.
func (w *UnresolvedReferenceWarning) Error() string {
	return fmt.Sprintf("thread %q waits on %s which is not present in the heap snapshot", w.ThreadID, w.TargetID)
}

// Unwrap lets errors.Is(err, ErrUnresolvedReference) match.
func (w *UnresolvedReferenceWarning) Unwrap() error {
	return ErrUnresolvedReference
}

// IsFormatError checks if the error is a format error.
func IsFormatError(err error) bool {
	return errors.Is(err, ErrFormat)
}

// IsEmptyInputError checks if the error is an empty input error.
func IsEmptyInputError(err error) bool {
	return errors.Is(err, ErrEmptyInput)
}

// IsUnresolvedReference checks if the error is an unresolved reference warning.
func IsUnresolvedReference(err error) bool {
	return errors.Is(err, ErrUnresolvedReference)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var fmtErr *FormatError
	if errors.As(err, &fmtErr) {
		return CodeFormat
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var fmtErr *FormatError
	if errors.As(err, &fmtErr) {
		return fmtErr.Reason
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
