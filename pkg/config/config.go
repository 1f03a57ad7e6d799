// Package config provides configuration management for dump-correlator.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override config keys,
// e.g. DUMPCORR_CORRELATION_LONG_BLOCK_DURATION_MS.
const EnvPrefix = "DUMPCORR"

// Config holds all configuration for the application.
type Config struct {
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
}

// CorrelationConfig holds the thresholds of the correlation engine.
type CorrelationConfig struct {
	RetainedSizeThresholdPercent float64 `mapstructure:"retained_size_threshold_percent"`
	// RetainedSizeThresholdBytes accepts raw bytes or units like "100MB".
	// When set it overrides the percent cutoff.
	RetainedSizeThresholdBytes string  `mapstructure:"retained_size_threshold_bytes"`
	LongBlockDurationMs        int64   `mapstructure:"long_block_duration_ms"`
	ContentionMinWaiters       int     `mapstructure:"contention_min_waiters"`
	LeakMinInstances           int     `mapstructure:"leak_min_instances"`
	LeakMinSharePercent        float64 `mapstructure:"leak_min_share_percent"`
	LeakIncludePrimitiveArrays bool    `mapstructure:"leak_include_primitive_arrays"`
	HighCPUPercent             float64 `mapstructure:"high_cpu_percent"`
	HighCPUMinTimeMs           int64   `mapstructure:"high_cpu_min_time_ms"`
	TopThreads                 int     `mapstructure:"top_threads"`
	HotFrames                  int     `mapstructure:"hot_frames"`
}

// ThresholdBytes returns the absolute retained size cutoff, or 0 when unset.
func (c *CorrelationConfig) ThresholdBytes() (int64, error) {
	s := strings.TrimSpace(c.RetainedSizeThresholdBytes)
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid retained_size_threshold_bytes %q: %w", s, err)
	}
	return int64(n), nil
}

// LongBlockDuration returns the long-held lock threshold.
func (c *CorrelationConfig) LongBlockDuration() time.Duration {
	return time.Duration(c.LongBlockDurationMs) * time.Millisecond
}

// HighCPUMinTime returns the CPU time a thread needs before it can be hot.
func (c *CorrelationConfig) HighCPUMinTime() time.Duration {
	return time.Duration(c.HighCPUMinTimeMs) * time.Millisecond
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // cos or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`     // e.g., "myqcloud.com"
	Scheme    string `mapstructure:"scheme"`     // e.g., "https" or "http"
	LocalPath string `mapstructure:"local_path"` // for local storage
}

// ArchiveConfig holds the optional report archive database configuration.
type ArchiveConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Type     string `mapstructure:"type"` // postgres, mysql or sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Path     string `mapstructure:"path"` // sqlite file
	MaxConns int    `mapstructure:"max_conns"`
	// Compress stores report bodies zstd-compressed.
	Compress bool `mapstructure:"compress"`
}

// ServerConfig holds configuration of the HTTP wrapper.
type ServerConfig struct {
	Port           int         `mapstructure:"port"`
	CacheSize      int         `mapstructure:"cache_size"`
	MaxUploadBytes int64       `mapstructure:"max_upload_bytes"`
	Pprof          PprofConfig `mapstructure:"pprof"`
}

// PprofConfig controls the runtime profiling endpoints of the server.
type PprofConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Path     string `mapstructure:"path"`
	Profiles string `mapstructure:"profiles"` // comma-separated, e.g. "cpu,heap"
	Token    string `mapstructure:"token"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"` // empty means stdout
}

// Load reads configuration from the specified file path. An empty path
// searches the standard locations; a missing file falls back to defaults.
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/dump-correlator")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode(v)
}

// LoadFromReader loads configuration from raw content (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return decode(v)
}

// Default returns the configuration made only of defaults.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		// defaults are static and always valid
		panic(err)
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("correlation.retained_size_threshold_percent", 1.0)
	v.SetDefault("correlation.retained_size_threshold_bytes", "")
	v.SetDefault("correlation.long_block_duration_ms", 30000)
	v.SetDefault("correlation.contention_min_waiters", 3)
	v.SetDefault("correlation.leak_min_instances", 1000)
	v.SetDefault("correlation.leak_min_share_percent", 10.0)
	v.SetDefault("correlation.leak_include_primitive_arrays", false)
	v.SetDefault("correlation.high_cpu_percent", 80.0)
	v.SetDefault("correlation.high_cpu_min_time_ms", 10000)
	v.SetDefault("correlation.top_threads", 10)
	v.SetDefault("correlation.hot_frames", 10)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", ".")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.type", "sqlite")
	v.SetDefault("archive.path", "./dump-correlator.db")
	v.SetDefault("archive.max_conns", 5)
	v.SetDefault("archive.compress", true)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cache_size", 128)
	v.SetDefault("server.max_upload_bytes", 512<<20)
	v.SetDefault("server.pprof.enabled", false)
	v.SetDefault("server.pprof.path", "/debug/pprof")
	v.SetDefault("server.pprof.profiles", "cpu,heap,goroutine")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	corr := &c.Correlation
	if corr.RetainedSizeThresholdPercent < 0 || corr.RetainedSizeThresholdPercent > 100 {
		return fmt.Errorf("retained_size_threshold_percent must be within [0, 100], got %v",
			corr.RetainedSizeThresholdPercent)
	}
	if _, err := corr.ThresholdBytes(); err != nil {
		return err
	}
	if corr.LongBlockDurationMs < 0 {
		return fmt.Errorf("long_block_duration_ms must not be negative")
	}
	if corr.ContentionMinWaiters < 2 {
		return fmt.Errorf("contention_min_waiters must be at least 2")
	}
	if corr.LeakMinSharePercent < 0 || corr.LeakMinSharePercent > 100 {
		return fmt.Errorf("leak_min_share_percent must be within [0, 100]")
	}
	if corr.HighCPUPercent < 0 {
		return fmt.Errorf("high_cpu_percent must not be negative")
	}
	if corr.HighCPUMinTimeMs < 0 {
		return fmt.Errorf("high_cpu_min_time_ms must not be negative")
	}
	if corr.TopThreads < 0 || corr.HotFrames < 0 {
		return fmt.Errorf("top_threads and hot_frames must not be negative")
	}

	if c.Archive.Enabled {
		switch c.Archive.Type {
		case "postgres", "postgresql", "mysql":
			if c.Archive.Host == "" {
				return fmt.Errorf("archive host is required for %s", c.Archive.Type)
			}
		case "sqlite":
			if c.Archive.Path == "" {
				return fmt.Errorf("archive path is required for sqlite")
			}
		default:
			return fmt.Errorf("unsupported archive type: %s", c.Archive.Type)
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Pprof.Enabled && !strings.HasPrefix(c.Server.Pprof.Path, "/") {
		return fmt.Errorf("server pprof path must start with '/': %q", c.Server.Pprof.Path)
	}

	return nil
}
