package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vinayprograms/taskbroker/tasks"
)

// FileStore implements TaskStore with one JSON file per task under a
// tasks directory. Every write is a full read-modify-write guarded by a
// single process-wide mutex; there is no cross-process locking (single
// writer process assumption). Files are never deleted.
type FileStore struct {
	mu     sync.Mutex
	dir    string
	closed atomic.Bool
}

// NewFileStore creates a durable task store rooted at dir, creating the
// directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tasks directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the tasks directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// readTask loads and decodes one task file. Must be called with the lock
// held (or before the store is shared).
func (s *FileStore) readTask(id string) (*tasks.Task, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read task %s: %w", id, err)
	}

	var t tasks.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode task %s: %w", id, err)
	}
	return &t, nil
}

// writeTask encodes and persists one task file. Must be called with the
// lock held.
func (s *FileStore) writeTask(t *tasks.Task) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", t.ID, err)
	}
	if err := os.WriteFile(s.path(t.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write task %s: %w", t.ID, err)
	}
	return nil
}

// Create persists a new task.
func (s *FileStore) Create(task *tasks.Task) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path(task.ID)); err == nil {
		return ErrDuplicateID
	}

	return s.writeTask(task)
}

// Get retrieves a task by ID.
func (s *FileStore) Get(id string) (*tasks.Task, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readTask(id)
}

// UpdateState atomically rewrites state, result, error and updated_at.
func (s *FileStore) UpdateState(id string, state tasks.TaskState, result, errMsg string) (*tasks.Task, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.readTask(id)
	if err != nil {
		return nil, err
	}

	applyUpdate(t, state, result, errMsg)
	if err := s.writeTask(t); err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// AddEvent appends an event to the task's log.
func (s *FileStore) AddEvent(id string, event tasks.TaskEvent) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.readTask(id)
	if err != nil {
		if err == ErrNotFound {
			// Unknown ID is a silent no-op by contract.
			return nil
		}
		return err
	}

	t.Events = append(t.Events, event)
	bumpUpdatedAt(t)
	return s.writeTask(t)
}

// loadAll reads every task file in the directory. Must be called with the
// lock held.
func (s *FileStore) loadAll() ([]*tasks.Task, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks directory: %w", err)
	}

	var list []*tasks.Task
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		t, err := s.readTask(id)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, nil
}

// ListByState returns all tasks in the given state, oldest first.
func (s *FileStore) ListByState(state tasks.TaskState) ([]*tasks.Task, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadAll()
	if err != nil {
		return nil, err
	}

	var list []*tasks.Task
	for _, t := range all {
		if t.State == state {
			list = append(list, t)
		}
	}

	sortByCreation(list)
	return list, nil
}

// NextPending returns the oldest pending task, or nil if none exist.
func (s *FileStore) NextPending() (*tasks.Task, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadAll()
	if err != nil {
		return nil, err
	}

	return oldestPending(all), nil
}

// Close shuts down the store.
func (s *FileStore) Close() error {
	s.closed.Swap(true)
	return nil
}
