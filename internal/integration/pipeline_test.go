package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dump-correlator/internal/correlator"
	"github.com/dump-correlator/internal/mock"
	"github.com/dump-correlator/internal/parser"
	"github.com/dump-correlator/internal/pipeline"
	"github.com/dump-correlator/internal/report"
	"github.com/dump-correlator/internal/repository"
	"github.com/dump-correlator/internal/service"
	"github.com/dump-correlator/internal/storage"
	"github.com/dump-correlator/internal/testutil"
	"github.com/dump-correlator/internal/webui"
	"github.com/dump-correlator/pkg/compression"
	"github.com/dump-correlator/pkg/config"
	apperrors "github.com/dump-correlator/pkg/errors"
	"github.com/dump-correlator/pkg/model"
	"github.com/dump-correlator/pkg/utils"
)

const (
	threadsFixture = "incident.jstack"
	heapFixture    = "incident.heap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Correlation.RetainedSizeThresholdBytes = "100MB"
	cfg.Archive.Enabled = true
	cfg.Archive.Type = "sqlite"
	cfg.Archive.Path = filepath.Join(t.TempDir(), "archive.db")
	return cfg
}

func newEngine() *correlator.Engine {
	opts := correlator.DefaultOptions()
	opts.RetainedSizeThresholdBytes = 100_000_000
	return correlator.NewEngine(opts, nil)
}

func findingByRule(findings []model.Finding, rule string) (model.Finding, bool) {
	for _, f := range findings {
		if f.Rule == rule {
			return f, true
		}
	}
	return model.Finding{}, false
}

func TestFullCorrelation_FromObjectStorage(t *testing.T) {
	ctx := context.Background()
	threads := testutil.LoadCompressedFixture(t, threadsFixture, compression.TypeGzip)
	heap := testutil.LoadCompressedFixture(t, heapFixture, compression.TypeZstd)

	store := &mock.MockStorage{}
	store.ExpectDownload("captures/incident.jstack.gz", io.NopCloser(bytes.NewReader(threads)), nil)
	store.ExpectDownload("captures/incident.heap.zst", io.NopCloser(bytes.NewReader(heap)), nil)
	store.ExpectUpload("reports/incident.json", "application/json", nil)
	store.ExpectGetURL("reports/incident.json", "https://bucket.example.com/reports/incident.json")

	cfg := testConfig(t)
	svc, err := service.New(cfg, &utils.NullLogger{},
		service.WithStorage(store),
		service.WithClock(utils.NewMockClock(time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC))))
	require.NoError(t, err)
	require.NoError(t, svc.Initialize(ctx))
	defer svc.Close()

	var out bytes.Buffer
	res, err := svc.Analyze(ctx, service.AnalyzeRequest{
		ThreadsLocation: storage.RemoteScheme + "captures/incident.jstack.gz",
		HeapLocation:    storage.RemoteScheme + "captures/incident.heap.zst",
		Format:          "json",
		UploadKey:       "reports/incident.json",
	}, &out)
	require.NoError(t, err)
	store.AssertExpectations(t)

	doc := res.Document
	assert.Equal(t, map[string]int{"CRITICAL": 3, "WARNING": 3, "INFO": 0}, doc.Counts)
	assert.Equal(t, "https://bucket.example.com/reports/incident.json", res.UploadURL)
	assert.Equal(t, out.Bytes(), store.Uploaded("reports/incident.json"))

	tests := []struct {
		rule     string
		severity model.Severity
		cites    []string
	}{
		{model.RuleDeadlock, model.SeverityCritical, []string{"order-writer", "journal-flusher", "0xa1", "0xb1"}},
		{model.RuleStalledOnLargeObject, model.SeverityCritical, []string{"report-builder", "0xf00"}},
		{model.RuleLargeRetainedObject, model.SeverityCritical, []string{"0xf00"}},
		{model.RuleLockContention, model.SeverityWarning, []string{"0xc1", "pool-owner", "http-1", "http-2", "http-3"}},
		{model.RuleDanglingLockReference, model.SeverityWarning, []string{"metrics", "0xdead"}},
		{model.RuleHighCPUThread, model.SeverityWarning, []string{"pool-owner"}},
	}
	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			f, ok := findingByRule(doc.Findings, tt.rule)
			require.True(t, ok, "missing %s finding", tt.rule)
			assert.Equal(t, tt.severity, f.Severity)
			for _, id := range tt.cites {
				assert.True(t, f.Cites(id), "%s should cite %s", tt.rule, id)
			}
		})
	}

	archived, err := svc.Reports().GetReport(ctx, doc.RunID)
	require.NoError(t, err)
	assert.Equal(t, doc.Findings, archived.Findings)

	summaries, err := svc.Reports().ListReports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 3, summaries[0].Critical)
	assert.Equal(t, 11, summaries[0].Threads, "VM threads count, the deadlock report does not")
}

func TestFullCorrelation_TextReportOrder(t *testing.T) {
	p := pipeline.New(pipeline.Config{
		Engine: newEngine(),
	})
	res, err := p.Run(context.Background(), pipeline.Input{
		Threads: testutil.LoadFixtureReader(t, threadsFixture),
		Heap:    testutil.LoadFixtureReader(t, heapFixture),
	})
	require.NoError(t, err)

	text := report.Render(res.Findings)
	critical := bytes.Index([]byte(text), []byte("CRITICAL (3)"))
	warning := bytes.Index([]byte(text), []byte("WARNING (3)"))
	info := bytes.Index([]byte(text), []byte("INFO (0)"))
	require.True(t, critical >= 0 && warning >= 0 && info >= 0, text)
	assert.Less(t, critical, warning)
	assert.Less(t, warning, info)
}

func TestFullCorrelation_ThreadSummaries(t *testing.T) {
	p := pipeline.New(pipeline.Config{
		Engine: newEngine(),
	})
	res, err := p.Run(context.Background(), pipeline.Input{
		Threads: testutil.LoadFixtureReader(t, threadsFixture),
		Heap:    testutil.LoadFixtureReader(t, heapFixture),
	})
	require.NoError(t, err)

	byID := make(map[string]model.ThreadSnapshot)
	for _, th := range res.Threads {
		byID[th.ID] = th
	}
	assert.Equal(t, model.ThreadStateRunnable, byID["VM Thread"].State)
	assert.Equal(t, model.ThreadStateRunnable, byID["GC Thread#0"].State)
	assert.Equal(t, model.ThreadStateWaiting, byID["VM Periodic Task Thread"].State)

	require.NotEmpty(t, res.TopCPUThreads)
	assert.Equal(t, "pool-owner", res.TopCPUThreads[0].ThreadID)

	require.NotEmpty(t, res.HotFrames)
	assert.Equal(t, "com.example.db.Pool.borrow(Pool.java:40)", res.HotFrames[0].Frame)
	assert.Equal(t, 3, res.HotFrames[0].Threads)
}

func TestFullCorrelation_ParserFailureStopsRun(t *testing.T) {
	threadParser := &mock.MockThreadParser{}
	threadParser.ExpectName("broken")
	threadParser.ExpectParseThreads(nil, apperrors.NewFormatError("threads", 7, "unclosed thread name quote"))

	heapParser := &mock.MockHeapParser{}
	heapParser.ExpectName("fixed")
	heapParser.ExpectParseHeap([]model.ObjectRecord{{ID: "0x1", TypeName: "java.lang.Object", ShallowSize: 16}}, nil)

	registry := parser.NewRegistry()
	registry.RegisterThreads("broken", threadParser)
	registry.RegisterHeap("fixed", heapParser)

	p := pipeline.New(pipeline.Config{Registry: registry})
	_, err := p.Run(context.Background(), pipeline.Input{
		Threads:      bytes.NewReader([]byte("irrelevant")),
		Heap:         bytes.NewReader([]byte("irrelevant")),
		ThreadFormat: "broken",
		HeapFormat:   "fixed",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsFormatError(err))
	threadParser.AssertExpectations(t)
}

func newUpload(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for field, fixture := range map[string]string{
		webui.FieldThreads: threadsFixture,
		webui.FieldHeap:    heapFixture,
	} {
		part, err := w.CreateFormFile(field, fixture)
		require.NoError(t, err)
		_, err = part.Write(testutil.LoadFixture(t, fixture))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func TestFullCorrelation_HTTP(t *testing.T) {
	archive := &mock.MockReportRepository{}
	archive.ExpectAnySaveReport(errors.New("archive offline"))

	p := pipeline.New(pipeline.Config{
		Engine: newEngine(),
	})
	server, err := webui.NewServer(p, webui.Options{Archive: repository.ReportRepository(archive)})
	require.NoError(t, err)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	var runID string
	for i, wantCache := range []string{"MISS", "HIT"} {
		body, contentType := newUpload(t)
		resp, err := http.Post(ts.URL+"/api/v1/correlate?format=json", contentType, body)
		require.NoError(t, err)

		var doc report.Document
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i)
		assert.Equal(t, wantCache, resp.Header.Get("X-Cache"))
		assert.Equal(t, 3, doc.Counts["CRITICAL"])
		if runID == "" {
			runID = doc.RunID
		}
		assert.Equal(t, runID, doc.RunID)
	}

	archive.AssertNumberOfCalls(t, "SaveReport", 1)
}
