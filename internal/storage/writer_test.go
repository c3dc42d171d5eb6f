package storage

import (
	"context"
	"crawlytics/internal/types"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend fails bulk inserts for batches containing a poisoned path
// and single inserts for rows with that path.
type fakeBackend struct {
	mu        sync.Mutex
	poison    map[string]bool
	bulkFail  bool
	rows      []types.LogEntry
	bulkCalls int
	rowCalls  int
	files     map[string]bool
	fileErr   error
}

func newFakeBackend(poison ...string) *fakeBackend {
	f := &fakeBackend{poison: make(map[string]bool), files: make(map[string]bool)}
	for _, p := range poison {
		f.poison[p] = true
	}
	return f
}

func (f *fakeBackend) InsertLogFile(ctx context.Context, id, name string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fileErr != nil {
		return f.fileErr
	}
	f.files[id] = active
	return nil
}

func (f *fakeBackend) InsertEntries(ctx context.Context, entries []types.LogEntry) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkCalls++
	if f.bulkFail {
		return 0, errors.New("bulk insert disabled")
	}
	for _, e := range entries {
		if f.poison[e.Path] {
			return 0, fmt.Errorf("constraint failed on %s", e.Path)
		}
	}
	f.rows = append(f.rows, entries...)
	return len(entries), nil
}

func (f *fakeBackend) InsertEntry(ctx context.Context, entry types.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rowCalls++
	if f.poison[entry.Path] {
		return fmt.Errorf("constraint failed on %s", entry.Path)
	}
	f.rows = append(f.rows, entry)
	return nil
}

func makeEntries(n int) []types.LogEntry {
	out := make([]types.LogEntry, n)
	for i := range out {
		out[i] = types.LogEntry{Path: fmt.Sprintf("/p%d", i), LogFileID: "job"}
	}
	return out
}

func TestWriteEntries_AllBatchesSucceed(t *testing.T) {
	backend := newFakeBackend()
	w := NewWriter(backend, nil)

	stats := w.WriteEntries(context.Background(), makeEntries(25), "job", 10)

	assert.Equal(t, types.WriteStats{RowsAttempted: 25, RowsInserted: 25, Errors: 0}, stats)
	assert.Equal(t, 3, backend.bulkCalls)
	assert.Equal(t, 0, backend.rowCalls)
	assert.Len(t, backend.rows, 25)
}

func TestWriteEntries_FallbackCountsRowErrors(t *testing.T) {
	backend := newFakeBackend("/p3", "/p17")
	w := NewWriter(backend, nil)

	stats := w.WriteEntries(context.Background(), makeEntries(25), "job", 10)

	assert.Equal(t, 25, stats.RowsAttempted)
	assert.Equal(t, 23, stats.RowsInserted)
	assert.Equal(t, 2, stats.Errors)
	assert.Equal(t, stats.RowsAttempted, stats.RowsInserted+stats.Errors)
	// Two poisoned batches fell back to 10 single inserts each
	assert.Equal(t, 20, backend.rowCalls)
	assert.Len(t, backend.rows, 23)
}

func TestWriteEntries_BulkAlwaysFails(t *testing.T) {
	backend := newFakeBackend()
	backend.bulkFail = true
	w := NewWriter(backend, nil)

	stats := w.WriteEntries(context.Background(), makeEntries(7), "job", 3)

	assert.Equal(t, types.WriteStats{RowsAttempted: 7, RowsInserted: 7}, stats)
	assert.Equal(t, 3, backend.bulkCalls)
	assert.Equal(t, 7, backend.rowCalls)
}

func TestWriteEntries_CancelledCountsRemainder(t *testing.T) {
	backend := newFakeBackend()
	w := NewWriter(backend, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats := w.WriteEntries(ctx, makeEntries(12), "job", 5)
	assert.Equal(t, types.WriteStats{RowsAttempted: 12, RowsInserted: 0, Errors: 12}, stats)
	assert.Equal(t, 0, backend.bulkCalls)
}

func TestWriteEntries_EmptyAndDefaultBatch(t *testing.T) {
	backend := newFakeBackend()
	w := NewWriter(backend, nil)

	stats := w.WriteEntries(context.Background(), nil, "job", 0)
	assert.Equal(t, types.WriteStats{}, stats)

	stats = w.WriteEntries(context.Background(), makeEntries(1500), "job", 0)
	assert.Equal(t, 1500, stats.RowsInserted)
	assert.Equal(t, 2, backend.bulkCalls)
}

func TestWriteLogFileRecord(t *testing.T) {
	backend := newFakeBackend()
	w := NewWriter(backend, nil)

	require.NoError(t, w.WriteLogFileRecord(context.Background(), "job", "access.log", true))
	assert.True(t, backend.files["job"])

	backend.fileErr = errors.New("disk full")
	assert.Error(t, w.WriteLogFileRecord(context.Background(), "job2", "b.log", false))
}

func TestWriteEntries_SQLiteStore(t *testing.T) {
	s := newTestStore(t)
	w := NewWriter(s, nil)
	ctx := context.Background()

	require.NoError(t, w.WriteLogFileRecord(ctx, "job", "access.log", true))

	entries := make([]types.LogEntry, 0, 30)
	for i := 0; i < 30; i++ {
		entries = append(entries, sampleEntry("job", fmt.Sprintf("/p%d", i)))
	}
	stats := w.WriteEntries(ctx, entries, "job", 8)
	assert.Equal(t, types.WriteStats{RowsAttempted: 30, RowsInserted: 30}, stats)

	count, err := s.CountEntries(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, 30, count)
}

func TestWriteEntries_RowsKeyedToJob(t *testing.T) {
	s := newTestStore(t)
	w := NewWriter(s, nil)
	ctx := context.Background()

	require.NoError(t, w.WriteLogFileRecord(ctx, "job-x", "access.log", true))

	entries := []types.LogEntry{sampleEntry("", "/a"), sampleEntry("other", "/b")}
	stats := w.WriteEntries(ctx, entries, "job-x", 10)
	assert.Equal(t, types.WriteStats{RowsAttempted: 2, RowsInserted: 2}, stats)

	count, err := s.CountEntries(ctx, "job-x")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = s.CountEntries(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	assert.Equal(t, "", entries[0].LogFileID, "input slice is left untouched")
	assert.Equal(t, "other", entries[1].LogFileID)
}

func TestWriteEntries_FallbackRowsKeyedToJob(t *testing.T) {
	backend := newFakeBackend()
	backend.bulkFail = true
	w := NewWriter(backend, nil)

	entries := makeEntries(3)
	entries[1].LogFileID = ""
	w.WriteEntries(context.Background(), entries, "job-y", 2)

	require.Len(t, backend.rows, 3)
	for _, row := range backend.rows {
		assert.Equal(t, "job-y", row.LogFileID)
	}
}
