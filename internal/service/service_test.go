package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dump-correlator/internal/storage"
	"github.com/dump-correlator/pkg/config"
	apperrors "github.com/dump-correlator/pkg/errors"
	"github.com/dump-correlator/pkg/model"
	"github.com/dump-correlator/pkg/utils"
)

const threadDump = `"worker-1" #12 blocked=45s
   java.lang.Thread.State: BLOCKED (on object monitor)
	at com.example.Cache.get(Cache.java:42)
	- waiting to lock <0x1> (a com.example.SessionCache)

"main" #1
   java.lang.Thread.State: RUNNABLE
	at java.lang.Thread.run(Thread.java:833)
`

const heapDump = `0x1 com.example.SessionCache shallow=48 retained=500MB refs=0x2
0x2 java.util.HashMap$Node[] shallow=64KiB
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Correlation.RetainedSizeThresholdBytes = "100MB"
	cfg.Storage.Type = "local"
	cfg.Storage.LocalPath = filepath.Join(t.TempDir(), "store")
	return cfg
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newTestService(t *testing.T, cfg *config.Config, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithClock(utils.NewMockClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))}, opts...)
	svc, err := New(cfg, &utils.NullLogger{}, opts...)
	require.NoError(t, err)
	require.NoError(t, svc.Initialize(context.Background()))
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestService_New(t *testing.T) {
	t.Run("WithLogger", func(t *testing.T) {
		svc, err := New(config.Default(), &utils.NullLogger{})
		require.NoError(t, err)
		require.NotNil(t, svc)
		assert.Nil(t, svc.Pipeline())
		assert.Nil(t, svc.Reports())
	})

	t.Run("WithoutLogger", func(t *testing.T) {
		svc, err := New(config.Default(), nil)
		require.NoError(t, err)
		require.NotNil(t, svc)
	})

	t.Run("NilConfig", func(t *testing.T) {
		_, err := New(nil, nil)
		assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))
	})
}

func TestService_Initialize(t *testing.T) {
	t.Run("WithoutArchive", func(t *testing.T) {
		svc := newTestService(t, testConfig(t))
		assert.NotNil(t, svc.Pipeline())
		assert.Nil(t, svc.Reports())
		assert.NoError(t, svc.HealthCheck(context.Background()))
		assert.Equal(t, []string{"json", "styled", "text"}, svc.Formats())
	})

	t.Run("WithArchive", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Archive.Enabled = true
		cfg.Archive.Type = "sqlite"
		cfg.Archive.Path = filepath.Join(t.TempDir(), "archive.db")

		svc := newTestService(t, cfg)
		assert.NotNil(t, svc.Reports())
		assert.NoError(t, svc.HealthCheck(context.Background()))
	})

	t.Run("InvalidStorage", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Storage.Type = "s3"
		svc, err := New(cfg, &utils.NullLogger{})
		require.NoError(t, err)
		err = svc.Initialize(context.Background())
		assert.ErrorContains(t, err, "failed to initialize storage")
	})

	t.Run("InvalidThreshold", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Correlation.RetainedSizeThresholdBytes = "huge"
		svc, err := New(cfg, &utils.NullLogger{})
		require.NoError(t, err)
		err = svc.Initialize(context.Background())
		assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))
	})
}

func TestService_Analyze(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.Enabled = true
	cfg.Archive.Type = "sqlite"
	cfg.Archive.Path = filepath.Join(t.TempDir(), "archive.db")
	svc := newTestService(t, cfg)

	threads := writeFile(t, "threads.txt", threadDump)
	heap := writeFile(t, "heap.txt", heapDump)

	var out bytes.Buffer
	res, err := svc.Analyze(context.Background(), AnalyzeRequest{
		ThreadsLocation: threads,
		HeapLocation:    heap,
		UploadKey:       "reports/latest.txt",
	}, &out)
	require.NoError(t, err)

	text := out.String()
	assert.True(t, strings.HasPrefix(text, "Diagnostic report"))
	assert.Contains(t, text, "[stalled_on_large_object]")
	assert.Contains(t, text, "sources: worker-1, 0x1")

	doc := res.Document
	assert.Equal(t, 2, doc.Counts[model.SeverityCritical.String()])
	assert.Equal(t, threads, doc.Inputs["threads"])
	assert.Equal(t, heap, doc.Inputs["heap"])
	assert.Contains(t, doc.Extra, "duration_ms")
	assert.Contains(t, doc.Extra, "top_cpu_threads")
	assert.Contains(t, doc.Extra, "hot_frames")

	archived, err := svc.Reports().GetReport(context.Background(), doc.RunID)
	require.NoError(t, err)
	assert.Equal(t, len(doc.Findings), len(archived.Findings))

	uploaded, err := os.ReadFile(filepath.Join(cfg.Storage.LocalPath, "reports", "latest.txt"))
	require.NoError(t, err)
	assert.Equal(t, text, string(uploaded))
	assert.NotEmpty(t, res.UploadURL)
}

func TestService_Analyze_JSON(t *testing.T) {
	svc := newTestService(t, testConfig(t))

	var out bytes.Buffer
	res, err := svc.Analyze(context.Background(), AnalyzeRequest{
		ThreadsLocation: writeFile(t, "threads.txt", threadDump),
		HeapLocation:    writeFile(t, "heap.txt", heapDump),
		Format:          "json",
	}, &out)
	require.NoError(t, err)
	assert.Empty(t, res.UploadURL)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, res.Document.RunID, decoded["run_id"])
	assert.Contains(t, decoded, "findings")
}

func TestService_Analyze_RemoteInputs(t *testing.T) {
	cfg := testConfig(t)
	store, err := storage.NewLocalStorage(cfg.Storage.LocalPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Upload(ctx, "captures/threads.txt", strings.NewReader(threadDump), "text/plain"))
	require.NoError(t, store.Upload(ctx, "captures/heap.txt", strings.NewReader(heapDump), "text/plain"))

	svc := newTestService(t, cfg, WithStorage(store))

	var out bytes.Buffer
	res, err := svc.Analyze(ctx, AnalyzeRequest{
		ThreadsLocation: storage.RemoteScheme + "captures/threads.txt",
		HeapLocation:    storage.RemoteScheme + "captures/heap.txt",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Document.Counts[model.SeverityCritical.String()])
}

func TestService_Analyze_OneSided(t *testing.T) {
	svc := newTestService(t, testConfig(t))

	var out bytes.Buffer
	res, err := svc.Analyze(context.Background(), AnalyzeRequest{
		HeapLocation: writeFile(t, "heap.txt", heapDump),
	}, &out)
	require.NoError(t, err)
	assert.NotContains(t, res.Document.Inputs, "threads")
	assert.Contains(t, out.String(), "[large_retained_object]")
}

func TestService_Analyze_Errors(t *testing.T) {
	svc := newTestService(t, testConfig(t))
	heap := writeFile(t, "heap.txt", heapDump)

	tests := []struct {
		name     string
		req      AnalyzeRequest
		wantCode string
	}{
		{name: "unknown format", req: AnalyzeRequest{HeapLocation: heap, Format: "xml"}, wantCode: apperrors.CodeInvalidInput},
		{name: "both empty", req: AnalyzeRequest{}, wantCode: apperrors.CodeEmptyInput},
		{name: "malformed heap", req: AnalyzeRequest{HeapLocation: writeFile(t, "bad.txt", "0x1\n")}, wantCode: apperrors.CodeFormat},
		{name: "empty remote key", req: AnalyzeRequest{HeapLocation: storage.RemoteScheme}, wantCode: apperrors.CodeInvalidInput},
		{name: "missing remote object", req: AnalyzeRequest{HeapLocation: storage.RemoteScheme + "nope.txt"}, wantCode: apperrors.CodeStorageError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			_, err := svc.Analyze(context.Background(), tt.req, &out)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperrors.GetErrorCode(err))
			assert.Empty(t, out.String())
		})
	}

	t.Run("missing local file", func(t *testing.T) {
		var out bytes.Buffer
		_, err := svc.Analyze(context.Background(), AnalyzeRequest{HeapLocation: filepath.Join(t.TempDir(), "nope")}, &out)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestService_Analyze_NotInitialized(t *testing.T) {
	svc, err := New(testConfig(t), &utils.NullLogger{})
	require.NoError(t, err)

	_, err = svc.Analyze(context.Background(), AnalyzeRequest{}, io.Discard)
	assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))
}

// failingStorage accepts downloads from an inner store but rejects uploads.
type failingStorage struct {
	storage.Storage
}

func (failingStorage) Upload(context.Context, string, io.Reader, string) error {
	return errors.New("bucket is read-only")
}

func TestService_Analyze_UploadFailureIsNotFatal(t *testing.T) {
	cfg := testConfig(t)
	inner, err := storage.NewLocalStorage(cfg.Storage.LocalPath)
	require.NoError(t, err)
	svc := newTestService(t, cfg, WithStorage(failingStorage{Storage: inner}))

	var out bytes.Buffer
	res, err := svc.Analyze(context.Background(), AnalyzeRequest{
		HeapLocation: writeFile(t, "heap.txt", heapDump),
		UploadKey:    "reports/r.txt",
	}, &out)
	require.NoError(t, err)
	assert.Empty(t, res.UploadURL)
	assert.NotEmpty(t, out.String())
}
