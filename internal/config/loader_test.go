package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DB_PATH", "")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.Database.Path != "crawlytics.db" {
		t.Errorf("Expected default db path, got '%s'", cfg.Database.Path)
	}
	if cfg.Processing.ChunkSize != 10000 {
		t.Errorf("Expected chunk size 10000, got %d", cfg.Processing.ChunkSize)
	}
	if cfg.Processing.BatchSize != 1000 {
		t.Errorf("Expected batch size 1000, got %d", cfg.Processing.BatchSize)
	}
	if cfg.Processing.SampleLines != 100 {
		t.Errorf("Expected 100 sample lines, got %d", cfg.Processing.SampleLines)
	}
	if cfg.Processing.Workers < 1 {
		t.Errorf("Expected at least one worker, got %d", cfg.Processing.Workers)
	}
	if !cfg.Processing.CreateIndexes {
		t.Error("Expected create_indexes to default to true")
	}
}

func TestLoadConfig_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `
database:
  path: /var/lib/crawlytics/data.db
processing:
  chunk_size: 500
  workers: 3
  create_indexes: false
output:
  log_format: json
  log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DB_PATH", "")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cfg.Database.Path != "/var/lib/crawlytics/data.db" {
		t.Errorf("Expected path from file, got '%s'", cfg.Database.Path)
	}
	if cfg.Processing.ChunkSize != 500 || cfg.Processing.Workers != 3 {
		t.Errorf("Expected chunk 500 / workers 3, got %d / %d", cfg.Processing.ChunkSize, cfg.Processing.Workers)
	}
	if cfg.Processing.CreateIndexes {
		t.Error("Expected create_indexes false from file")
	}

	t.Setenv("DB_PATH", "/tmp/override.db")
	cfg, err = LoadConfig(path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("Expected DB_PATH override, got '%s'", cfg.Database.Path)
	}

	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("Expected logger, got %v", err)
	}
	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("Expected debug level, got %s", logger.GetLevel())
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	cfg, _ := LoadConfig("")
	cfg.Output.LogFormat = "xml"
	if _, err := NewLogger(cfg); err == nil {
		t.Error("Expected error for unknown log format")
	}
}
