package main

import (
	"context"
	"crawlytics/internal/audit"
	"crawlytics/internal/config"
	"crawlytics/internal/crawler"
	"crawlytics/internal/dashboard"
	"crawlytics/internal/ingest"
	"crawlytics/internal/metrics"
	"crawlytics/internal/storage"
	"crawlytics/internal/task"
	"crawlytics/internal/types"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"gopkg.in/yaml.v3"
)

func main() {
	app := &cli.App{
		Name:  "crawlytics",
		Usage: "Find LLM crawler traffic in web server access logs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:   "config",
				Usage:  "Path to config file (defaults apply when empty)",
				EnvVar: "CRAWLYTICS_CONFIG",
			},
		},
		Commands: []cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the upload API and job runner",
				Action: serveCommand,
			},
			{
				Name:      "ingest",
				Usage:     "Process one log file and print its task record",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "format",
						Usage: "Force a log format instead of detecting it",
					},
					&cli.BoolFlag{
						Name:  "no-db",
						Usage: "Do not write matched entries to the database",
					},
					&cli.StringFlag{
						Name:  "id",
						Usage: "Log file id (random when empty)",
					},
				},
				Action: ingestCommand,
			},
			{
				Name:      "detect",
				Usage:     "Print the detected format of a log file",
				ArgsUsage: "FILE",
				Action:    detectCommand,
			},
			{
				Name:   "patterns",
				Usage:  "Print the crawler patterns in effect",
				Action: patternsCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) (*types.Config, *logrus.Logger, error) {
	cfg, err := config.LoadConfig(c.GlobalString("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := config.NewLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func runnerOptions(cfg *types.Config, logger *logrus.Logger) task.Options {
	return task.Options{
		ChunkSize:     cfg.Processing.ChunkSize,
		Workers:       cfg.Processing.Workers,
		SampleLines:   cfg.Processing.SampleLines,
		BatchSize:     cfg.Processing.BatchSize,
		CreateIndexes: cfg.Processing.CreateIndexes,
		Audit:         audit.NewLogger(cfg.Output.AuditLogPath),
		Logger:        logrus.NewEntry(logger),
	}
}

func serveCommand(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	entry := logrus.NewEntry(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenDB(cfg.Database.Path)
	if err != nil {
		return err
	}
	store := storage.NewStore(db, entry)
	defer store.Close()

	// Jobs retry Init, so a broken database only fails persisted jobs
	if err := store.Init(ctx); err != nil {
		logger.WithError(err).Warn("Database not ready")
	}

	holder, err := crawler.NewHolder(cfg.Crawlers.PatternsFile, entry)
	if err != nil {
		return err
	}
	if cfg.Crawlers.Watch {
		go func() {
			if err := holder.Watch(ctx); err != nil {
				logger.WithError(err).Warn("Patterns watcher stopped")
			}
		}()
	}

	if cfg.Metrics.Listen != "" && cfg.Metrics.Listen != cfg.Server.Listen {
		go func() {
			logger.Infof("Metrics listening on %s", cfg.Metrics.Listen)
			if err := metrics.StartServer(ctx, cfg.Metrics.Listen); err != nil {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	runner := task.NewRunner(task.NewMemoryStore(), holder, store, runnerOptions(cfg, logger))
	defer runner.Close()

	go reloadOnHUP(ctx, c.GlobalString("config"), logger)

	server := dashboard.NewServer(runner, store, holder, cfg.Server.UploadDir, cfg.Server.Listen, entry)
	err = server.Start(ctx)
	fmt.Println("Shutting down...")
	return err
}

// reloadOnHUP re-reads the config on SIGHUP and applies the log level.
// Everything else needs a restart.
func reloadOnHUP(ctx context.Context, path string, logger *logrus.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigChan:
			logger.Info("SIGHUP received, reloading configuration")
			newCfg, err := config.LoadConfig(path)
			if err != nil {
				logger.WithError(err).Error("Failed to reload config")
				continue
			}
			level, err := logrus.ParseLevel(newCfg.Output.LogLevel)
			if err != nil {
				logger.WithError(err).Error("Invalid log level")
				continue
			}
			logger.SetLevel(level)
		}
	}
}

func ingestCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("ingest requires a FILE argument")
	}
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	entry := logrus.NewEntry(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	holder, err := crawler.NewHolder(cfg.Crawlers.PatternsFile, entry)
	if err != nil {
		return err
	}

	var db task.Database
	if !c.Bool("no-db") {
		sqlDB, err := storage.OpenDB(cfg.Database.Path)
		if err != nil {
			return err
		}
		store := storage.NewStore(sqlDB, entry)
		defer store.Close()
		db = store
	}

	id := c.String("id")
	if id == "" {
		id = uuid.NewString()
	}

	runner := task.NewRunner(task.NewMemoryStore(), holder, db, runnerOptions(cfg, logger))
	rec := runner.Run(ctx, task.Job{
		Path:     path,
		ID:       id,
		FileName: filepath.Base(path),
		Persist:  db != nil,
		Format:   c.String("format"),
	})

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if rec.Status == types.StatusError || rec.Status == types.StatusDBInitFailed {
		return fmt.Errorf("task %s ended with status %s", rec.TaskID, rec.Status)
	}
	return nil
}

func detectCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("detect requires a FILE argument")
	}
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}

	proc := ingest.NewProcessor(crawler.NewDefault(), ingest.Options{
		SampleLines: cfg.Processing.SampleLines,
		Logger:      logrus.NewEntry(logger),
	})
	variant, err := proc.Detect(context.Background(), path)
	if err != nil {
		return err
	}
	if variant == nil {
		fmt.Println("empty file")
		return nil
	}
	fmt.Println(variant.Name())
	return nil
}

func patternsCommand(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	holder, err := crawler.NewHolder(cfg.Crawlers.PatternsFile, logrus.NewEntry(logger))
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	return enc.Encode(holder.Snapshot().Taxonomy())
}
