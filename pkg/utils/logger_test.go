package utils

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"ERROR", LevelError},
		{"unknown", LevelInfo}, // default
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLogLevel(tt.input))
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", LogLevel(99).String())
}

func TestDefaultLogger_FilterByLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelWarn, buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message %d", 1)
	logger.Error("error message")

	output := buf.String()
	assert.NotContains(t, output, "debug message")
	assert.NotContains(t, output, "info message")
	assert.Contains(t, output, "[WARN] warn message 1")
	assert.Contains(t, output, "[ERROR] error message")
}

func TestDefaultLogger_WithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelDebug, buf)

	child := logger.WithField("run_id", "r-1").WithFields(map[string]interface{}{
		"stage": "parse",
		"kind":  "heap",
	})
	child.Info("done")
	logger.Info("parent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[INFO] kind=heap run_id=r-1 stage=parse done")
	assert.NotContains(t, lines[1], "run_id")
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		args []interface{}
		want string
	}{
		{name: "literal percent without args", msg: "100% parsed", want: "100% parsed"},
		{name: "with args", msg: "%d%% parsed", args: []interface{}{50}, want: "50% parsed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatMessage(tt.msg, tt.args))
		})
	}
}

func TestDefaultLogger_PercentArg(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelInfo, buf)

	logger.Info("%s", "100% parsed")
	assert.Contains(t, buf.String(), "100% parsed")
}

func TestNewFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	logger, err := NewFileLogger(LevelInfo, path)
	require.NoError(t, err)
	logger.Info("hello")
	assert.FileExists(t, path)
}

func TestNullLogger(t *testing.T) {
	var logger Logger = &NullLogger{}
	logger.Info("ignored")
	assert.Same(t, logger, logger.WithField("k", "v"))
}
