package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dump-correlator/pkg/config"
	"github.com/dump-correlator/pkg/telemetry"
	"github.com/dump-correlator/pkg/utils"
)

const defaultEnvFile = ".env"

var (
	// Global flags
	verbose    bool
	configPath string
	envFile    string

	logger            utils.Logger
	cfg               *config.Config
	telemetryShutdown telemetry.ShutdownFunc

	initTelemetry = telemetry.Init
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "dump-correlator",
	Short: "Correlate JVM thread dumps with heap snapshots",
	Long: `dump-correlator joins a thread dump and a heap snapshot taken at the same
moment and reports what the threads are stuck on.

It flags threads blocked on objects that retain large parts of the heap,
long-held and contended monitors, deadlocks, wait targets missing from the
heap snapshot, runnable threads that burn CPU and types whose instance
counts suggest a leak.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadEnvFile(cmd); err != nil {
			return err
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		if logger, err = newLogger(cfg.Log); err != nil {
			return err
		}

		shutdown, err := initTelemetry(cmd.Context())
		if err != nil {
			logger.Warn("Failed to initialize telemetry: %v", err)
		}
		telemetryShutdown = shutdown
		if telemetry.Enabled() {
			logger.Debug("Tracing enabled (service: %s)", telemetry.GetConfig().ServiceName)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := execute(context.Background()); err != nil {
		os.Exit(1)
	}
}

// execute runs the root command and flushes traces whether or not it failed.
// cobra skips PersistentPostRunE when RunE returns an error.
func execute(ctx context.Context) error {
	defer flushTelemetry()
	return rootCmd.ExecuteContext(ctx)
}

// flushTelemetry shuts the tracer provider down once.
func flushTelemetry() {
	shutdown := telemetryShutdown
	telemetryShutdown = nil
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil && logger != nil {
		logger.Warn("Failed to flush traces: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", defaultEnvFile, "Environment file loaded before the configuration")

	binName := BinName()
	rootCmd.Example = `  # Correlate a thread dump with a heap snapshot
  ` + binName + ` analyze --threads ./jstack.txt --heap ./heap.txt

  # Read captures from object storage and write a JSON report
  ` + binName + ` analyze --threads cos://captures/jstack.txt.gz --heap cos://captures/heap.txt.zst -f json

  # Start the HTTP API
  ` + binName + ` serve -c ./configs/config.yaml -p 8080`
}

// loadEnvFile loads the --env-file. A missing default file is not an error.
func loadEnvFile(cmd *cobra.Command) error {
	if envFile == "" {
		return nil
	}
	err := godotenv.Load(envFile)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("env-file") {
		return nil
	}
	return fmt.Errorf("failed to load env file %s: %w", envFile, err)
}

// newLogger builds the logger from the log section and --verbose.
func newLogger(lc config.LogConfig) (utils.Logger, error) {
	level := utils.ParseLogLevel(lc.Level)
	if verbose {
		level = utils.LevelDebug
	}
	if lc.OutputPath == "" {
		return utils.NewDefaultLogger(level, os.Stderr), nil
	}
	l, err := utils.NewFileLogger(level, lc.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return l, nil
}

// GetLogger returns the configured logger
func GetLogger() utils.Logger {
	return logger
}

// GetConfig returns the loaded configuration.
func GetConfig() *config.Config {
	return cfg
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}
