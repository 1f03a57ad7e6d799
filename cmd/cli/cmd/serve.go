package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dump-correlator/internal/service"
	"github.com/dump-correlator/internal/webui"
	"github.com/dump-correlator/pkg/config"
	"github.com/dump-correlator/pkg/pprof"
)

const shutdownTimeout = 5 * time.Second

var (
	// Serve command flags
	port int
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the correlation HTTP API",
	Long: `Start an HTTP server that correlates uploaded captures.

Endpoints:
  POST /api/v1/correlate         multipart form with "threads" and "heap" parts
  GET  /api/v1/reports           recent archived reports (archive enabled)
  GET  /api/v1/reports/{id}      one report from the cache or archive
  GET  /api/v1/status-codes      HTTP status table used in error bodies
  GET  /healthz                  liveness and archive connectivity
  GET  /debug/pprof/...          runtime profiles (server.pprof.enabled)

Identical uploads are answered from an in-memory cache.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	binName := BinName()
	serveCmd.Example = `  # Start server with settings from the config file
  ` + binName + ` serve -c ./configs/config.yaml

  # Override the port
  ` + binName + ` serve -p 9090

  # Correlate with curl
  curl -F threads=@jstack.txt -F heap=@heap.txt 'http://localhost:8080/api/v1/correlate?format=json'`

	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "Port for web server (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	conf := GetConfig()

	if cmd.Flags().Changed("port") {
		conf.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(conf, log)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer svc.Close()

	if err := svc.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	profiler, err := newProfiler(&conf.Server.Pprof)
	if err != nil {
		return fmt.Errorf("failed to set up pprof: %w", err)
	}
	if profiler != nil {
		defer profiler.Close()
		log.Info("Runtime profiles exposed at %s/", profiler.Path())
	}

	server, err := webui.NewServer(svc.Pipeline(), webui.Options{
		Port:           conf.Server.Port,
		CacheSize:      conf.Server.CacheSize,
		MaxUploadBytes: conf.Server.MaxUploadBytes,
		Archive:        svc.Reports(),
		Health:         svc.HealthCheck,
		Pprof:          profiler,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	go func() {
		<-ctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Server shutdown failed: %v", err)
		}
	}()

	log.Debug("Report formats: %v", svc.Formats())
	if svc.Reports() == nil {
		log.Info("Report archive disabled, only cached reports can be fetched")
	}

	if err := server.Start(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// newProfiler builds the pprof handlers, or returns nil when they are disabled.
func newProfiler(cfg *config.PprofConfig) (*pprof.Handler, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	profiles, err := pprof.ParseProfileTypes(cfg.Profiles)
	if err != nil {
		return nil, err
	}
	return pprof.NewHandler(pprof.Options{
		Path:     cfg.Path,
		Profiles: profiles,
		Token:    cfg.Token,
	})
}
