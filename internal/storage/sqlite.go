package storage

import (
	"context"
	"crawlytics/internal/types"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a log file id does not exist
var ErrNotFound = errors.New("log file not found")

// OpenDB opens the shared connection pool for a SQLite database file
func OpenDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	return db, nil
}

// Store is the SQLite persistence layer for log files and access entries
type Store struct {
	db  *sql.DB
	log *logrus.Entry
}

// NewStore wraps a connection pool owned by the caller
func NewStore(db *sql.DB, logger *logrus.Entry) *Store {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{
		db:  db,
		log: logger.WithField("component", "storage"),
	}
}

// Init creates the tables if they do not exist
func (s *Store) Init(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("storage is not configured")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	query := `
	CREATE TABLE IF NOT EXISTS log_files (
		log_file_id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		upload_timestamp TIMESTAMP NOT NULL,
		in_use INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS access_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		time TIMESTAMP NOT NULL,
		ip_address TEXT NOT NULL,
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		status INTEGER,
		user_agent TEXT NOT NULL,
		crawler_name TEXT,
		referer TEXT,
		request_id TEXT,
		response_time_ms INTEGER,
		log_file_id TEXT NOT NULL
	);`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

var indexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_access_logs_time ON access_logs(time)",
	"CREATE INDEX IF NOT EXISTS idx_access_logs_status ON access_logs(status)",
	"CREATE INDEX IF NOT EXISTS idx_access_logs_ip_address ON access_logs(ip_address)",
	"CREATE INDEX IF NOT EXISTS idx_access_logs_path ON access_logs(path)",
	"CREATE INDEX IF NOT EXISTS idx_access_logs_log_file_id ON access_logs(log_file_id)",
	"CREATE INDEX IF NOT EXISTS idx_access_logs_crawler_name ON access_logs(crawler_name)",
}

// CreateIndexes builds the read-path indexes and refreshes planner statistics
func (s *Store) CreateIndexes(ctx context.Context) error {
	for _, q := range indexes {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("failed to analyze: %w", err)
	}
	return nil
}

// InsertLogFile records an uploaded file. With active=true every other
// file is deactivated in the same transaction. Re-inserting a known id with
// active=false leaves its flag as it was.
func (s *Store) InsertLogFile(ctx context.Context, id, name string, active bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if active {
		if _, err := tx.ExecContext(ctx, "UPDATE log_files SET in_use = 0"); err != nil {
			return fmt.Errorf("failed to reset active log file: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO log_files (log_file_id, file_name, upload_timestamp, in_use)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(log_file_id) DO UPDATE SET
			file_name = excluded.file_name,
			in_use = CASE WHEN excluded.in_use = 1 THEN 1 ELSE log_files.in_use END
	`, id, name, time.Now().UTC(), boolToInt(active))
	if err != nil {
		return fmt.Errorf("failed to insert log file %s: %w", id, err)
	}

	return tx.Commit()
}

const insertEntrySQL = `
	INSERT INTO access_logs
	(time, ip_address, method, path, status, user_agent, crawler_name, referer, request_id, response_time_ms, log_file_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// InsertEntries writes a batch in one transaction. Any row failure rolls
// back the whole batch.
func (s *Store) InsertEntries(ctx context.Context, entries []types.LogEntry) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertEntrySQL)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for i := range entries {
		if _, err := stmt.ExecContext(ctx, entryArgs(&entries[i])...); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// InsertEntry writes a single row in its own transaction
func (s *Store) InsertEntry(ctx context.Context, entry types.LogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, insertEntrySQL, entryArgs(&entry)...); err != nil {
		return err
	}
	return tx.Commit()
}

func entryArgs(e *types.LogEntry) []interface{} {
	return []interface{}{
		e.Time.UTC(),
		e.IPAddress,
		e.Method,
		e.Path,
		e.Status,
		e.UserAgent,
		e.CrawlerName,
		e.Referer,
		e.RequestID,
		e.ResponseTimeMS,
		e.LogFileID,
	}
}

// DeleteLogFileData removes a log file and its entries, returning the
// number of entries deleted.
func (s *Store) DeleteLogFileData(ctx context.Context, id string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := exists(ctx, tx, id); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM access_logs WHERE log_file_id = ?", id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete entries: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, "DELETE FROM log_files WHERE log_file_id = ?", id); err != nil {
		return 0, fmt.Errorf("failed to delete log file: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{"log_file_id": id, "deleted": deleted}).Info("Log file deleted")
	return deleted, nil
}

// ListLogFiles returns every log file, newest first
func (s *Store) ListLogFiles(ctx context.Context) ([]types.LogFileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT log_file_id, file_name, upload_timestamp, in_use
		FROM log_files
		ORDER BY upload_timestamp DESC, rowid DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []types.LogFileRecord
	for rows.Next() {
		rec, err := scanLogFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *rec)
	}
	return files, rows.Err()
}

// GetActiveLogFile returns the active log file. When none is active the
// most recent file is activated and returned. It returns ErrNotFound when
// there are no files at all.
func (s *Store) GetActiveLogFile(ctx context.Context) (*types.LogFileRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT log_file_id, file_name, upload_timestamp, in_use
		FROM log_files WHERE in_use = 1 LIMIT 1
	`)
	rec, err := scanLogFile(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	row = s.db.QueryRowContext(ctx, `
		SELECT log_file_id, file_name, upload_timestamp, in_use
		FROM log_files ORDER BY upload_timestamp DESC, rowid DESC LIMIT 1
	`)
	rec, err = scanLogFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.SetActiveLogFile(ctx, rec.LogFileID); err != nil {
		return nil, err
	}
	rec.Active = true
	return rec, nil
}

// SetActiveLogFile marks one file active and every other file inactive
func (s *Store) SetActiveLogFile(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := exists(ctx, tx, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE log_files SET in_use = 0"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE log_files SET in_use = 1 WHERE log_file_id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

// CountEntries returns the number of stored entries for a log file
func (s *Store) CountEntries(ctx context.Context, id string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM access_logs WHERE log_file_id = ?", id).Scan(&n)
	return n, err
}

// ListEntries returns up to limit stored entries of a log file in insert order
func (s *Store) ListEntries(ctx context.Context, id string, limit int) ([]types.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT time, ip_address, method, path, status, user_agent, crawler_name, referer, request_id, response_time_ms, log_file_id
		FROM access_logs WHERE log_file_id = ? ORDER BY id LIMIT ?
	`, id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []types.LogEntry
	for rows.Next() {
		var e types.LogEntry
		var status, responseTime sql.NullInt64
		var crawlerName, referer, reqID sql.NullString
		err := rows.Scan(&e.Time, &e.IPAddress, &e.Method, &e.Path, &status, &e.UserAgent,
			&crawlerName, &referer, &reqID, &responseTime, &e.LogFileID)
		if err != nil {
			return nil, err
		}
		if status.Valid {
			v := int(status.Int64)
			e.Status = &v
		}
		if responseTime.Valid {
			v := responseTime.Int64
			e.ResponseTimeMS = &v
		}
		e.CrawlerName = nullString(crawlerName)
		e.Referer = nullString(referer)
		e.RequestID = nullString(reqID)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying pool
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanLogFile(row scanner) (*types.LogFileRecord, error) {
	var rec types.LogFileRecord
	var inUse int
	if err := row.Scan(&rec.LogFileID, &rec.FileName, &rec.UploadTimestamp, &inUse); err != nil {
		return nil, err
	}
	rec.Active = inUse == 1
	return &rec, nil
}

func exists(ctx context.Context, tx *sql.Tx, id string) error {
	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM log_files WHERE log_file_id = ?", id).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
