package dashboard

import (
	"context"
	"crawlytics/internal/task"
	"crawlytics/internal/types"
)

// LogFileStore defines the read paths the API serves (SQLite now).
// *storage.Store implements it.
type LogFileStore interface {
	ListLogFiles(ctx context.Context) ([]types.LogFileRecord, error)
	GetActiveLogFile(ctx context.Context) (*types.LogFileRecord, error)
	SetActiveLogFile(ctx context.Context, id string) error
	DeleteLogFileData(ctx context.Context, id string) (int64, error)
	CountEntries(ctx context.Context, id string) (int, error)
	ListEntries(ctx context.Context, id string, limit int) ([]types.LogEntry, error)
}

// TaskService submits jobs and reports their status. *task.Runner implements it.
type TaskService interface {
	Submit(job task.Job)
	Status(id string) (types.TaskRecord, bool)
	Tasks() []types.TaskRecord
}

// LogFileView is a log file with its stored entry count
type LogFileView struct {
	types.LogFileRecord
	Entries int `json:"entries"`
}

// UploadResponse is returned when an upload is accepted
type UploadResponse struct {
	TaskID   string `json:"task_id"`
	FileName string `json:"file_name"`
	Status   string `json:"status"`
	Persist  bool   `json:"persist"`
}
