package storage

import (
	"context"
	"crawlytics/internal/metrics"
	"crawlytics/internal/types"

	"github.com/sirupsen/logrus"
)

// DefaultBatchSize is the number of rows per bulk insert
const DefaultBatchSize = 1000

// Backend is the storage contract the writer needs
type Backend interface {
	InsertLogFile(ctx context.Context, id, name string, active bool) error
	// InsertEntries must be all-or-nothing
	InsertEntries(ctx context.Context, entries []types.LogEntry) (int, error)
	InsertEntry(ctx context.Context, entry types.LogEntry) error
}

// Writer persists parsed entries in bounded batches
type Writer struct {
	backend Backend
	log     *logrus.Entry
}

// NewWriter creates a writer over a backend
func NewWriter(backend Backend, logger *logrus.Entry) *Writer {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Writer{
		backend: backend,
		log:     logger.WithField("component", "writer"),
	}
}

// WriteLogFileRecord records the source file of a job
func (w *Writer) WriteLogFileRecord(ctx context.Context, id, name string, makeActive bool) error {
	if err := w.backend.InsertLogFile(ctx, id, name, makeActive); err != nil {
		w.log.WithError(err).WithField("log_file_id", id).Error("Failed to write log file record")
		return err
	}
	return nil
}

// WriteEntries inserts entries batch by batch under jobID, overriding the
// LogFileID each entry carries. The caller's slice is not modified. A batch
// that fails as a whole is retried one row at a time; rows that still fail are counted in
// Errors. Rows left unwritten when ctx is done are counted as errors too,
// so RowsAttempted always equals RowsInserted + Errors.
func (w *Writer) WriteEntries(ctx context.Context, entries []types.LogEntry, jobID string, batchSize int) types.WriteStats {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	stats := types.WriteStats{RowsAttempted: len(entries)}
	log := w.log.WithField("task_id", jobID)

	for start := 0; start < len(entries); start += batchSize {
		if ctx.Err() != nil {
			stats.Errors += len(entries) - start
			log.WithField("remaining", len(entries)-start).Warn("Write cancelled")
			break
		}

		end := min(start+batchSize, len(entries))
		batch := stampBatch(entries[start:end], jobID)

		n, err := w.backend.InsertEntries(ctx, batch)
		if err == nil {
			stats.RowsInserted += n
			stats.Errors += len(batch) - n
			continue
		}

		log.WithError(err).WithField("batch_start", start).Warn("Bulk insert failed, retrying row by row")
		metrics.BatchFallbacks.Inc()
		inserted, failed := w.insertOneByOne(ctx, batch)
		stats.RowsInserted += inserted
		stats.Errors += failed
	}

	metrics.RowsInserted.Add(float64(stats.RowsInserted))
	metrics.RowErrors.Add(float64(stats.Errors))

	log.WithFields(logrus.Fields{
		"attempted": stats.RowsAttempted,
		"inserted":  stats.RowsInserted,
		"errors":    stats.Errors,
	}).Info("Entries written")
	return stats
}

// stampBatch returns a copy of batch keyed to jobID
func stampBatch(batch []types.LogEntry, jobID string) []types.LogEntry {
	out := make([]types.LogEntry, len(batch))
	copy(out, batch)
	for i := range out {
		out[i].LogFileID = jobID
	}
	return out
}

func (w *Writer) insertOneByOne(ctx context.Context, batch []types.LogEntry) (inserted, failed int) {
	for i, entry := range batch {
		if ctx.Err() != nil {
			failed += len(batch) - i
			return
		}
		if err := w.backend.InsertEntry(ctx, entry); err != nil {
			w.log.WithError(err).Debug("Row insert failed")
			failed++
			continue
		}
		inserted++
	}
	return
}
