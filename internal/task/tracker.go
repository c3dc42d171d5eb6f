package task

import (
	"crawlytics/internal/types"
	"sort"
	"sync"
)

// Store keeps task records keyed by task id. Implementations must be safe
// for concurrent use and hand out copies, never live records.
type Store interface {
	Put(rec types.TaskRecord)
	Get(id string) (types.TaskRecord, bool)
	// Update applies fn to the stored record atomically; false if id is unknown
	Update(id string, fn func(rec *types.TaskRecord)) bool
	List() []types.TaskRecord
}

// MemoryStore is an in-process Store. Records are never evicted.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*types.TaskRecord
}

// NewMemoryStore creates an empty task store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*types.TaskRecord),
	}
}

// Put stores a copy of rec, replacing any record with the same id
func (m *MemoryStore) Put(rec types.TaskRecord) {
	c := clone(&rec)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[rec.TaskID] = &c
}

// Get returns a snapshot of a record
func (m *MemoryStore) Get(id string) (types.TaskRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.tasks[id]
	if !ok {
		return types.TaskRecord{}, false
	}
	return clone(rec), true
}

// Update mutates a record under the write lock
func (m *MemoryStore) Update(id string, fn func(rec *types.TaskRecord)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tasks[id]
	if !ok {
		return false
	}
	fn(rec)
	return true
}

// List returns snapshots of every record, most recently started first
func (m *MemoryStore) List() []types.TaskRecord {
	m.mu.RLock()
	out := make([]types.TaskRecord, 0, len(m.tasks))
	for _, rec := range m.tasks {
		out = append(out, clone(rec))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// clone deep-copies the mutable parts of a record. Entries themselves are
// immutable once produced, so only the slice header is copied.
func clone(rec *types.TaskRecord) types.TaskRecord {
	c := *rec
	if rec.Stats != nil {
		s := *rec.Stats
		c.Stats = &s
	}
	if rec.DBStats != nil {
		s := *rec.DBStats
		c.DBStats = &s
	}
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		c.CompletedAt = &t
	}
	c.Issues = append([]string{}, rec.Issues...)
	if rec.Entries != nil {
		c.Entries = append([]types.LogEntry(nil), rec.Entries...)
	}
	return c
}
