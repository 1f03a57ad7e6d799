package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without underlying error",
			err:      New(CodeStorageError, "bucket unreachable"),
			expected: "[STORAGE_ERROR] bucket unreachable",
		},
		{
			name:     "with underlying error",
			err:      Wrap(CodeArchiveError, "insert failed", errors.New("connection reset")),
			expected: "[ARCHIVE_ERROR] insert failed: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Is(t *testing.T) {
	err1 := New(CodeStorageError, "error 1")
	err2 := New(CodeStorageError, "error 2")
	err3 := New(CodeArchiveError, "error 3")

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
}

func TestFormatError(t *testing.T) {
	err := NewFormatError("heap", 7, "invalid shallow size %q", "abc")

	assert.Equal(t, `[FORMAT_ERROR] heap line 7: invalid shallow size "abc"`, err.Error())
	assert.True(t, IsFormatError(err))
	assert.True(t, IsFormatError(fmt.Errorf("parse: %w", err)))
	assert.False(t, IsEmptyInputError(err))
	assert.Equal(t, CodeFormat, GetErrorCode(err))
	assert.Equal(t, `invalid shallow size "abc"`, GetErrorMessage(err))

	var fe *FormatError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &fe))
	assert.Equal(t, 7, fe.Line)
}

func TestUnresolvedReferenceWarning(t *testing.T) {
	w := &UnresolvedReferenceWarning{ThreadID: "T2", TargetID: "O99"}

	assert.Contains(t, w.Error(), `"T2"`)
	assert.Contains(t, w.Error(), "O99")
	assert.True(t, IsUnresolvedReference(w))
	assert.False(t, IsFormatError(w))
	assert.Equal(t, CodeUnresolvedReference, GetErrorCode(w))
}

func TestIsEmptyInputError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "sentinel", err: ErrEmptyInput, expected: true},
		{name: "wrapped", err: fmt.Errorf("correlate: %w", ErrEmptyInput), expected: true},
		{name: "other", err: ErrConfigError, expected: false},
		{name: "nil", err: nil, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsEmptyInputError(tt.err))
		})
	}
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, CodeConfigError, GetErrorCode(Wrap(CodeConfigError, "bad", errors.New("x"))))
	assert.Equal(t, CodeUnknown, GetErrorCode(errors.New("plain")))
	assert.Equal(t, CodeUnknown, GetErrorCode(nil))
}

func TestGetErrorMessage(t *testing.T) {
	assert.Equal(t, "invalid input", GetErrorMessage(ErrInvalidInput))
	assert.Equal(t, "plain", GetErrorMessage(errors.New("plain")))
	assert.Equal(t, "", GetErrorMessage(nil))
}
