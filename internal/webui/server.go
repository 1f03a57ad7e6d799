// Package webui serves the correlator over HTTP.
package webui

import (
	"context"
	"fmt"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dump-correlator/internal/pipeline"
	"github.com/dump-correlator/internal/report"
	"github.com/dump-correlator/internal/repository"
	"github.com/dump-correlator/pkg/pprof"
	"github.com/dump-correlator/pkg/utils"
)

// Options configures a Server.
type Options struct {
	Port           int
	CacheSize      int
	MaxUploadBytes int64
	// Archive stores every report when set. Failures are logged only.
	Archive repository.ReportRepository
	// Health is called by /healthz when set.
	Health func(ctx context.Context) error
	// Pprof exposes runtime profiles under its path when set.
	Pprof  *pprof.Handler
	Logger utils.Logger
	Clock  utils.Clock
}

// Server represents the correlator HTTP server.
type Server struct {
	pipeline   *pipeline.Pipeline
	formatters *report.Registry
	cache      *lru.Cache[string, *report.Document]
	opts       Options
	logger     utils.Logger
	clock      utils.Clock
	server     *http.Server
}

// NewServer creates a server around p.
func NewServer(p *pipeline.Pipeline, opts Options) (*Server, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 128
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 512 << 20
	}
	cache, err := lru.New[string, *report.Document](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create report cache: %w", err)
	}

	s := &Server{
		pipeline:   p,
		formatters: report.NewRegistry(),
		cache:      cache,
		opts:       opts,
		logger:     opts.Logger,
		clock:      opts.Clock,
	}
	if s.logger == nil {
		s.logger = &utils.NullLogger{}
	}
	if s.clock == nil {
		s.clock = utils.NewRealClock()
	}
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
	}
	return s, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/correlate", s.handleCorrelate)
	mux.HandleFunc("GET /api/v1/reports", s.handleListReports)
	mux.HandleFunc("GET /api/v1/reports/{id}", s.handleGetReport)
	mux.HandleFunc("GET /api/v1/status-codes", s.handleStatusCodes)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.opts.Pprof != nil {
		mux.Handle(s.opts.Pprof.Path()+"/", s.opts.Pprof)
	}

	return mux
}

// Start starts the web server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("Starting correlator server at http://localhost:%d", s.opts.Port)
	s.logger.Info("Press Ctrl+C to stop")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server. It is safe to call before Start.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
