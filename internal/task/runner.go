package task

import (
	"context"
	"crawlytics/internal/audit"
	"crawlytics/internal/crawler"
	"crawlytics/internal/ingest"
	"crawlytics/internal/metrics"
	"crawlytics/internal/storage"
	"crawlytics/internal/types"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Database is the persistence side a job needs
type Database interface {
	storage.Backend
	Init(ctx context.Context) error
	CreateIndexes(ctx context.Context) error
}

// Job describes one ingestion run
type Job struct {
	Path     string
	ID       string
	FileName string
	// Persist writes matched entries to the database
	Persist bool
	// RemoveSource deletes Path once the job is done
	RemoveSource bool
	// Format forces a variant instead of detecting it
	Format string
}

// Options tune the runner
type Options struct {
	ChunkSize     int
	Workers       int
	SampleLines   int
	BatchSize     int
	CreateIndexes bool
	Audit         *audit.Logger
	Logger        *logrus.Entry
}

// Runner drives jobs from file to task record
type Runner struct {
	store  Store
	holder *crawler.Holder
	db     Database
	opts   Options
	log    *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner. db may be nil, in which case persisted
// jobs end in db_init_failed.
func NewRunner(store Store, holder *crawler.Holder, db Database, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:  store,
		holder: holder,
		db:     db,
		opts:   opts,
		log:    logger.WithField("component", "task"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit registers the job as pending and runs it in the background
func (r *Runner) Submit(job Job) {
	r.start(job)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.execute(r.ctx, job)
	}()
}

// Run executes a job synchronously and returns its final record
func (r *Runner) Run(ctx context.Context, job Job) types.TaskRecord {
	r.start(job)
	return r.execute(ctx, job)
}

// Status returns a snapshot of a task record
func (r *Runner) Status(id string) (types.TaskRecord, bool) {
	return r.store.Get(id)
}

// Tasks returns snapshots of every known task
func (r *Runner) Tasks() []types.TaskRecord {
	return r.store.List()
}

// Wait blocks until every submitted job has finished
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Close cancels running jobs and waits for them
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *Runner) start(job Job) {
	rec := types.TaskRecord{
		TaskID:    job.ID,
		FileName:  job.FileName,
		Status:    types.StatusPending,
		StartedAt: time.Now().UTC(),
		Issues:    []string{},
	}
	if fi, err := os.Stat(job.Path); err == nil {
		rec.FileSizeMB = float64(fi.Size()) / (1024 * 1024)
	}
	r.store.Put(rec)
}

func (r *Runner) execute(ctx context.Context, job Job) types.TaskRecord {
	start := time.Now()
	log := r.log.WithFields(logrus.Fields{"task_id": job.ID, "file": job.FileName})
	log.Info("Starting processing")

	r.process(ctx, job, log)

	if job.RemoveSource {
		if err := os.Remove(job.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).Warn("Failed to remove temporary file")
			r.addIssue(job.ID, fmt.Sprintf("Failed to remove temporary file: %v", err))
		}
	}

	now := time.Now().UTC()
	r.store.Update(job.ID, func(rec *types.TaskRecord) {
		rec.CompletedAt = &now
	})

	final, _ := r.store.Get(job.ID)
	metrics.JobsTotal.WithLabelValues(string(final.Status)).Inc()
	metrics.JobDuration.Observe(time.Since(start).Seconds())

	if err := r.opts.Audit.LogTask(final); err != nil {
		log.WithError(err).Warn("Failed to write to audit log")
	}

	log.WithFields(logrus.Fields{
		"status":  final.Status,
		"matches": final.MatchedEntries,
	}).Info("Task finished")
	return final
}

// process runs parsing and persistence and records the resulting status
func (r *Runner) process(ctx context.Context, job Job, log *logrus.Entry) {
	proc := ingest.NewProcessor(r.holder.Snapshot(), ingest.Options{
		ChunkSize:   r.opts.ChunkSize,
		Workers:     r.opts.Workers,
		SampleLines: r.opts.SampleLines,
		Format:      job.Format,
		JobID:       job.ID,
		Logger:      log,
	})

	entries, stats, err := proc.Process(ctx, job.Path)
	if err != nil {
		log.WithError(err).Error("Error processing file")
		r.store.Update(job.ID, func(rec *types.TaskRecord) {
			rec.Status = types.StatusError
			rec.Error = err.Error()
			rec.Stats = &stats
			rec.ProcessingTime = stats.ProcessingTimeSeconds
			rec.Issues = append(rec.Issues, err.Error())
		})
		return
	}

	r.store.Update(job.ID, func(rec *types.TaskRecord) {
		rec.Status = types.StatusProcessingComplete
		rec.Stats = &stats
		rec.ProcessingTime = stats.ProcessingTimeSeconds
		rec.MatchedEntries = len(entries)
		rec.RecordsImported = len(entries)
		rec.Entries = entries
	})

	if !job.Persist || len(entries) == 0 {
		return
	}

	dbStart := time.Now()
	if err := r.initDB(ctx); err != nil {
		log.WithError(err).Error("Failed to initialize database")
		r.store.Update(job.ID, func(rec *types.TaskRecord) {
			rec.Status = types.StatusDBInitFailed
			rec.Error = err.Error()
			rec.Issues = append(rec.Issues, "Database initialization failed")
		})
		return
	}

	writer := storage.NewWriter(r.db, log)
	if err := writer.WriteLogFileRecord(ctx, job.ID, job.FileName, true); err != nil {
		r.addIssue(job.ID, "Failed to create log file record")
	}

	ws := writer.WriteEntries(ctx, entries, job.ID, r.opts.BatchSize)
	dbTime := time.Since(dbStart).Seconds()

	r.store.Update(job.ID, func(rec *types.TaskRecord) {
		rec.Status = types.StatusComplete
		rec.DBStats = &ws
		rec.DBInsertionTime = dbTime
		rec.RecordsImported = ws.RowsInserted
		rec.Entries = nil
	})
	log.WithField("db_time", dbTime).Info("Database insertion completed")

	if r.opts.CreateIndexes {
		if err := r.db.CreateIndexes(ctx); err != nil {
			log.WithError(err).Warn("Failed to create indexes")
			r.addIssue(job.ID, fmt.Sprintf("Failed to create indexes: %v", err))
		}
	}
}

func (r *Runner) initDB(ctx context.Context) error {
	if r.db == nil {
		return errors.New("no database configured")
	}
	return r.db.Init(ctx)
}

func (r *Runner) addIssue(id, issue string) {
	r.store.Update(id, func(rec *types.TaskRecord) {
		rec.Issues = append(rec.Issues, issue)
	})
}
