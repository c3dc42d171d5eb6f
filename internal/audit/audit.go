package audit

import (
	"crawlytics/internal/types"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Logger appends finished task records to a JSON-lines audit file
type Logger struct {
	mu       sync.Mutex
	filePath string
}

// NewLogger creates a new audit logger. An empty path yields nil.
func NewLogger(filePath string) *Logger {
	if filePath == "" {
		return nil
	}
	return &Logger{
		filePath: filePath,
	}
}

// LogTask writes one task record to the audit log in a thread-safe manner
func (l *Logger) LogTask(rec types.TaskRecord) error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	// One JSON object per line; matched entries are never included
	encoder := json.NewEncoder(f)
	if err := encoder.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode task record: %w", err)
	}

	return nil
}
