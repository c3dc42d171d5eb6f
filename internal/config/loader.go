package config

import (
	"crawlytics/internal/types"
	"fmt"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads the configuration from the given path.
// An empty path yields the defaults.
func LoadConfig(path string) (*types.Config, error) {
	var cfg types.Config
	cfg.Processing.CreateIndexes = true
	cfg.Crawlers.Watch = true

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	validateConfig(&cfg)
	return &cfg, nil
}

// validateConfig applies defaults and environment overrides
func validateConfig(cfg *types.Config) {
	if cfg.Database.Path == "" {
		cfg.Database.Path = "crawlytics.db"
	}
	if env := os.Getenv("DB_PATH"); env != "" {
		cfg.Database.Path = env
	}

	if cfg.Processing.ChunkSize <= 0 {
		cfg.Processing.ChunkSize = 10000
	}
	if cfg.Processing.Workers <= 0 {
		cfg.Processing.Workers = DefaultWorkers()
	}
	if cfg.Processing.SampleLines <= 0 {
		cfg.Processing.SampleLines = 100
	}
	if cfg.Processing.BatchSize <= 0 {
		cfg.Processing.BatchSize = 1000
	}

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8000"
	}
	if cfg.Server.UploadDir == "" {
		cfg.Server.UploadDir = os.TempDir()
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9090"
	}

	if cfg.Output.LogFormat == "" {
		cfg.Output.LogFormat = "text"
	}
	if cfg.Output.LogLevel == "" {
		cfg.Output.LogLevel = "info"
	}
}

// DefaultWorkers leaves one CPU for the caller, minimum one worker
func DefaultWorkers() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

// NewLogger builds the process logger from the output section
func NewLogger(cfg *types.Config) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(cfg.Output.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Output.LogLevel, err)
	}
	logger.SetLevel(level)

	switch cfg.Output.LogFormat {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Output.LogFormat)
	}

	return logger, nil
}
