// Package pipeline runs one correlation: parse both snapshots, correlate and
// hand the result to the report stage.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dump-correlator/internal/correlator"
	"github.com/dump-correlator/internal/parser"
	"github.com/dump-correlator/internal/parser/heapdump"
	"github.com/dump-correlator/internal/parser/threaddump"
	"github.com/dump-correlator/internal/statistics"
	"github.com/dump-correlator/pkg/compression"
	"github.com/dump-correlator/pkg/model"
	"github.com/dump-correlator/pkg/parallel"
	"github.com/dump-correlator/pkg/profiling"
	"github.com/dump-correlator/pkg/telemetry"
	"github.com/dump-correlator/pkg/utils"
)

// Input is one capture pair. Either reader may be nil, which is treated as
// an empty snapshot.
type Input struct {
	Threads io.Reader
	Heap    io.Reader
	// ThreadFormat and HeapFormat select registered parsers. Empty selects
	// the defaults.
	ThreadFormat string
	HeapFormat   string
}

// Result is the outcome of one run.
type Result struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Threads   []model.ThreadSnapshot
	Objects   []model.ObjectRecord
	Findings  []model.Finding
	Stats     correlator.Stats
	// WaitingGroups counts waiting threads per thread pool.
	WaitingGroups []profiling.GroupCount
	// TopCPUThreads and HotFrames summarise where threads spend their time.
	TopCPUThreads []statistics.ThreadEntry
	HotFrames     []statistics.HotFrame
}

// Extra returns the thread summaries for the report document's extra section.
func (r *Result) Extra() map[string]interface{} {
	return map[string]interface{}{
		"waiting_thread_groups": r.WaitingGroups,
		"top_cpu_threads":       r.TopCPUThreads,
		"hot_frames":            r.HotFrames,
	}
}

// Config holds the pipeline collaborators.
type Config struct {
	Engine   *correlator.Engine
	Registry *parser.Registry
	Logger   utils.Logger
	Clock    utils.Clock
	// NewRunID generates run ids. Defaults to random UUIDs.
	NewRunID func() string
}

// Pipeline parses and correlates capture pairs. It is safe for concurrent use.
type Pipeline struct {
	engine   *correlator.Engine
	registry *parser.Registry
	logger   utils.Logger
	clock    utils.Clock
	newRunID func() string
}

// DefaultRegistry returns a registry with the built-in text parsers.
func DefaultRegistry() *parser.Registry {
	r := parser.NewRegistry()
	threaddump.RegisterWithRegistry(r)
	heapdump.RegisterWithRegistry(r)
	return r
}

// New creates a Pipeline. Missing collaborators get defaults.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		engine:   cfg.Engine,
		registry: cfg.Registry,
		logger:   cfg.Logger,
		clock:    cfg.Clock,
		newRunID: cfg.NewRunID,
	}
	if p.logger == nil {
		p.logger = &utils.NullLogger{}
	}
	if p.engine == nil {
		p.engine = correlator.NewEngine(correlator.DefaultOptions(), p.logger)
	}
	if p.registry == nil {
		p.registry = DefaultRegistry()
	}
	if p.clock == nil {
		p.clock = utils.NewRealClock()
	}
	if p.newRunID == nil {
		p.newRunID = func() string { return uuid.New().String() }
	}
	return p
}

// parsed is what one parse task hands back to the join.
type parsed struct {
	threads []model.ThreadSnapshot
	objects []model.ObjectRecord
}

// Run parses both inputs in parallel, joins them and correlates.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	runID := p.newRunID()
	log := p.logger.WithField("run_id", runID)
	started := p.clock.Now()

	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.Run",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	if in.ThreadFormat == "" {
		in.ThreadFormat = threaddump.FormatName
	}
	if in.HeapFormat == "" {
		in.HeapFormat = heapdump.FormatName
	}
	threadParser, err := p.registry.Threads(in.ThreadFormat)
	if err != nil {
		return nil, p.fail(span, err)
	}
	heapParser, err := p.registry.Heap(in.HeapFormat)
	if err != nil {
		return nil, p.fail(span, err)
	}

	tasks := []parallel.Task[string, parsed]{
		parallel.NewTask(threadParser.Name(), func(ctx context.Context, _ string) (parsed, error) {
			threads, err := p.parseThreads(ctx, threadParser, in.Threads)
			return parsed{threads: threads}, err
		}),
		parallel.NewTask(heapParser.Name(), func(ctx context.Context, _ string) (parsed, error) {
			objects, err := p.parseHeap(ctx, heapParser, in.Heap)
			return parsed{objects: objects}, err
		}),
	}
	pool := parallel.NewWorkerPool[string, parsed](parallel.DefaultPoolConfig().WithWorkers(len(tasks)))
	results := pool.Execute(ctx, tasks)
	if err := parallel.FirstError(results); err != nil {
		log.Error("parse failed: %v", err)
		return nil, p.fail(span, err)
	}
	threads, objects := results[0].Result.threads, results[1].Result.objects
	log.Info("parsed %d threads and %d objects", len(threads), len(objects))

	_, corrSpan := telemetry.Tracer().Start(ctx, "correlator.Analyze")
	analysis, err := p.engine.Analyze(threads, objects)
	if err != nil {
		corrSpan.End()
		log.Warn("correlation failed: %v", err)
		return nil, p.fail(span, err)
	}
	corrSpan.SetAttributes(attribute.Int("findings.count", len(analysis.Findings)))
	corrSpan.End()

	counts := model.CountBySeverity(analysis.Findings)
	log.WithFields(map[string]interface{}{
		"critical": counts[model.SeverityCritical],
		"warning":  counts[model.SeverityWarning],
		"info":     counts[model.SeverityInfo],
	}).Info("correlated %d findings", len(analysis.Findings))

	span.SetAttributes(
		attribute.Int("threads.count", len(threads)),
		attribute.Int("objects.count", len(objects)),
		attribute.Int("findings.count", len(analysis.Findings)),
	)

	return &Result{
		RunID:     runID,
		StartedAt: started,
		Duration:  p.clock.Since(started),
		Threads:   threads,
		Objects:   objects,
		Findings:  analysis.Findings,
		Stats:     analysis.Stats,

		WaitingGroups: profiling.WaitingGroups(threads),
		TopCPUThreads: analysis.TopCPUThreads,
		HotFrames:     analysis.HotFrames,
	}, nil
}

func (p *Pipeline) parseThreads(ctx context.Context, tp parser.ThreadParser, r io.Reader) ([]model.ThreadSnapshot, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "parser.ParseThreads",
		trace.WithAttributes(attribute.String("parser.name", tp.Name())))
	defer span.End()

	if r == nil {
		return []model.ThreadSnapshot{}, nil
	}
	body, kind, err := compression.NewReader(r)
	if err != nil {
		return nil, p.fail(span, fmt.Errorf("failed to open thread dump: %w", err))
	}
	defer body.Close()
	span.SetAttributes(attribute.String("input.compression", kind.String()))

	threads, err := tp.ParseThreads(ctx, body)
	if err != nil {
		return nil, p.fail(span, err)
	}
	span.SetAttributes(attribute.Int("threads.count", len(threads)))
	return threads, nil
}

func (p *Pipeline) parseHeap(ctx context.Context, hp parser.HeapParser, r io.Reader) ([]model.ObjectRecord, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "parser.ParseHeap",
		trace.WithAttributes(attribute.String("parser.name", hp.Name())))
	defer span.End()

	if r == nil {
		return []model.ObjectRecord{}, nil
	}
	body, kind, err := compression.NewReader(r)
	if err != nil {
		return nil, p.fail(span, fmt.Errorf("failed to open heap dump: %w", err))
	}
	defer body.Close()
	span.SetAttributes(attribute.String("input.compression", kind.String()))

	objects, err := hp.ParseHeap(ctx, body)
	if err != nil {
		return nil, p.fail(span, err)
	}
	span.SetAttributes(attribute.Int("objects.count", len(objects)))
	return objects, nil
}

func (p *Pipeline) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
