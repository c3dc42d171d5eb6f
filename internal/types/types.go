package types

import "time"

// LogEntry is one classified request recovered from an access log line
type LogEntry struct {
	Time           time.Time `json:"time"`
	IPAddress      string    `json:"ip_address"`
	Method         string    `json:"method"`
	Path           string    `json:"path"`
	Status         *int      `json:"status"`
	UserAgent      string    `json:"user_agent"`
	CrawlerName    *string   `json:"crawler_name"`
	Referer        *string   `json:"referer"`
	RequestID      *string   `json:"request_id"`
	ResponseTimeMS *int64    `json:"response_time_ms"`
	LogFileID      string    `json:"log_file_id"`
}

// ProcessingStats holds the aggregate counters for one ingestion job
type ProcessingStats struct {
	TotalLines            int     `json:"total_lines"`
	LLMMatches            int     `json:"llm_matches"`
	MatchPercentage       float64 `json:"match_percentage"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
	LinesPerSecond        float64 `json:"lines_per_second"`
	Format                string  `json:"format,omitempty"`
	Chunks                int     `json:"chunks"`
}

// WriteStats reports the outcome of a batched insert.
// RowsAttempted always equals RowsInserted + Errors.
type WriteStats struct {
	RowsAttempted int `json:"rows_attempted"`
	RowsInserted  int `json:"rows_inserted"`
	Errors        int `json:"errors"`
}

// TaskStatus is the lifecycle state of an ingestion job
type TaskStatus string

const (
	StatusPending            TaskStatus = "pending"
	StatusProcessingComplete TaskStatus = "processing_complete"
	StatusComplete           TaskStatus = "complete"
	StatusDBInitFailed       TaskStatus = "db_init_failed"
	StatusError              TaskStatus = "error"
)

// TaskRecord is the pollable state of one ingestion job
type TaskRecord struct {
	TaskID          string           `json:"log_file_id"`
	FileName        string           `json:"file_name"`
	Status          TaskStatus       `json:"status"`
	Stats           *ProcessingStats `json:"stats,omitempty"`
	ProcessingTime  float64          `json:"processing_time"`
	FileSizeMB      float64          `json:"file_size_mb"`
	MatchedEntries  int              `json:"matched_entries"`
	RecordsImported int              `json:"records_imported"`
	DBStats         *WriteStats      `json:"db_stats,omitempty"`
	DBInsertionTime float64          `json:"db_insertion_time,omitempty"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	Error           string           `json:"error,omitempty"`
	Issues          []string         `json:"issues"`

	// Entries holds matched rows until they are durably written
	Entries []LogEntry `json:"-"`
}

// LogFileRecord is the persisted record of one uploaded source file
type LogFileRecord struct {
	LogFileID       string    `json:"log_file_id"`
	FileName        string    `json:"file_name"`
	UploadTimestamp time.Time `json:"upload_timestamp"`
	Active          bool      `json:"in_use"`
}

// Config represents the application configuration
type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Processing struct {
		ChunkSize     int  `yaml:"chunk_size"`
		Workers       int  `yaml:"workers"`      // 0 = NumCPU-1
		SampleLines   int  `yaml:"sample_lines"` // lines read for format detection
		BatchSize     int  `yaml:"batch_size"`
		CreateIndexes bool `yaml:"create_indexes"`
	} `yaml:"processing"`

	Crawlers struct {
		PatternsFile string `yaml:"patterns_file"`
		Watch        bool   `yaml:"watch"`
	} `yaml:"crawlers"`

	Server struct {
		Listen    string `yaml:"listen"`
		UploadDir string `yaml:"upload_dir"`
	} `yaml:"server"`

	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`

	Output struct {
		AuditLogPath string `yaml:"audit_log_path"`
		LogFormat    string `yaml:"log_format"` // json, text
		LogLevel     string `yaml:"log_level"`
	} `yaml:"output"`
}
