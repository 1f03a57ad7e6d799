// Package service provides the main application service that integrates all components.
package service

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/dump-correlator/internal/correlator"
	"github.com/dump-correlator/internal/pipeline"
	"github.com/dump-correlator/internal/report"
	"github.com/dump-correlator/internal/repository"
	"github.com/dump-correlator/internal/storage"
	"github.com/dump-correlator/pkg/config"
	apperrors "github.com/dump-correlator/pkg/errors"
	"github.com/dump-correlator/pkg/utils"
)

// Service is the main application service.
type Service struct {
	config     *config.Config
	logger     utils.Logger
	clock      utils.Clock
	storage    storage.Storage
	archive    *repository.Archive
	pipeline   *pipeline.Pipeline
	formatters *report.Registry
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the clock used for report timestamps.
func WithClock(c utils.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithStorage injects a storage backend instead of building one from config.
func WithStorage(store storage.Storage) Option {
	return func(s *Service) { s.storage = store }
}

// WithArchive injects an open archive instead of connecting from config.
func WithArchive(a *repository.Archive) Option {
	return func(s *Service) { s.archive = a }
}

// New creates a new Service instance.
func New(cfg *config.Config, logger utils.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, apperrors.New(apperrors.CodeConfigError, "config is required")
	}
	if logger == nil {
		logger = utils.NewDefaultLogger(utils.LevelInfo, nil)
	}

	s := &Service{
		config:     cfg,
		logger:     logger,
		formatters: report.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = utils.NewRealClock()
	}
	return s, nil
}

// Initialize initializes all service components.
func (s *Service) Initialize(ctx context.Context) error {
	s.logger.Info("Initializing service components...")

	if err := s.initStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := s.initArchive(); err != nil {
		return fmt.Errorf("failed to initialize archive: %w", err)
	}

	if err := s.initPipeline(); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	s.logger.Info("Service components initialized successfully")
	return nil
}

// initStorage initializes the object storage.
func (s *Service) initStorage() error {
	if s.storage != nil {
		return nil
	}
	s.logger.Info("Initializing storage (%s)...", s.config.Storage.Type)

	store, err := storage.NewStorage(&s.config.Storage)
	if err != nil {
		return err
	}

	s.storage = store
	s.logger.Info("Storage initialized")
	return nil
}

// initArchive connects to the report archive when it is enabled.
func (s *Service) initArchive() error {
	if s.archive != nil {
		return nil
	}
	if !s.config.Archive.Enabled {
		s.logger.Debug("Report archive disabled")
		return nil
	}
	s.logger.Info("Connecting to archive (%s)...", s.config.Archive.Type)

	archive, err := repository.Open(&s.config.Archive)
	if err != nil {
		return err
	}

	s.archive = archive
	s.logger.Info("Archive connection established")
	return nil
}

// initPipeline builds the correlation engine and pipeline from config.
func (s *Service) initPipeline() error {
	opts, err := correlator.OptionsFromConfig(&s.config.Correlation)
	if err != nil {
		return err
	}

	s.pipeline = pipeline.New(pipeline.Config{
		Engine: correlator.NewEngine(opts, s.logger),
		Logger: s.logger,
		Clock:  s.clock,
	})
	return nil
}

// AnalyzeRequest describes one correlation run from the command line.
type AnalyzeRequest struct {
	// ThreadsLocation and HeapLocation are local paths or storage.RemoteScheme
	// URIs. Empty means an empty snapshot.
	ThreadsLocation string
	HeapLocation    string
	ThreadFormat    string
	HeapFormat      string
	// Format names a report formatter. Empty selects text.
	Format string
	// UploadKey, when set, stores the rendered report under that key.
	UploadKey string
}

// AnalyzeResult is the outcome of Analyze.
type AnalyzeResult struct {
	Document *report.Document
	// UploadURL is set when the report was uploaded.
	UploadURL string
}

// Analyze runs the pipeline on the requested inputs, writes the rendered
// report to w and optionally archives and uploads it.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest, w io.Writer) (*AnalyzeResult, error) {
	if s.pipeline == nil {
		return nil, apperrors.New(apperrors.CodeConfigError, "service is not initialized")
	}
	formatter, err := s.formatters.Get(req.Format)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "invalid report format", err)
	}

	threads, err := s.openInput(ctx, req.ThreadsLocation)
	if err != nil {
		return nil, err
	}
	if threads != nil {
		defer threads.Close()
	}
	heap, err := s.openInput(ctx, req.HeapLocation)
	if err != nil {
		return nil, err
	}
	if heap != nil {
		defer heap.Close()
	}

	res, err := s.pipeline.Run(ctx, pipeline.Input{
		Threads:      threads,
		Heap:         heap,
		ThreadFormat: req.ThreadFormat,
		HeapFormat:   req.HeapFormat,
	})
	if err != nil {
		return nil, err
	}

	stats := res.Stats
	doc := report.NewDocument(res.RunID, s.clock.Now(), res.Findings, &stats)
	doc.Inputs = map[string]string{}
	if req.ThreadsLocation != "" {
		doc.Inputs["threads"] = req.ThreadsLocation
	}
	if req.HeapLocation != "" {
		doc.Inputs["heap"] = req.HeapLocation
	}
	doc.Extra = res.Extra()
	doc.Extra["duration_ms"] = res.Duration.Milliseconds()

	var buf bytes.Buffer
	if err := formatter.Format(&buf, doc); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}

	log := s.logger.WithField("run_id", res.RunID)
	result := &AnalyzeResult{Document: doc}

	if s.archive != nil {
		if err := s.archive.Reports.SaveReport(ctx, doc); err != nil {
			log.Warn("failed to archive report: %v", err)
		}
	}

	if req.UploadKey != "" {
		if err := s.storage.Upload(ctx, req.UploadKey, bytes.NewReader(buf.Bytes()), formatter.ContentType()); err != nil {
			log.Warn("failed to upload report to %s: %v", req.UploadKey, err)
		} else {
			result.UploadURL = s.storage.GetURL(req.UploadKey)
			log.Info("report uploaded to %s", result.UploadURL)
		}
	}

	return result, nil
}

func (s *Service) openInput(ctx context.Context, location string) (io.ReadCloser, error) {
	if location == "" {
		return nil, nil
	}
	rc, err := storage.OpenInput(ctx, s.storage, location)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("opened input %s", location)
	return rc, nil
}

// Pipeline returns the correlation pipeline. Nil before Initialize.
func (s *Service) Pipeline() *pipeline.Pipeline {
	return s.pipeline
}

// Reports returns the archive repository, or nil when archiving is disabled.
func (s *Service) Reports() repository.ReportRepository {
	if s.archive == nil {
		return nil
	}
	return s.archive.Reports
}

// Formats returns the names of the available report formats.
func (s *Service) Formats() []string {
	return s.formatters.Names()
}

// Close releases the archive connection.
func (s *Service) Close() error {
	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			s.logger.Error("Failed to close archive connection: %v", err)
			return err
		}
	}
	return nil
}

// HealthCheck performs a health check on the service.
func (s *Service) HealthCheck(ctx context.Context) error {
	if s.archive != nil {
		if err := s.archive.HealthCheck(ctx); err != nil {
			return fmt.Errorf("archive health check failed: %w", err)
		}
	}
	return nil
}
