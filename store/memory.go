package store

import (
	"sync"
	"sync/atomic"

	"github.com/vinayprograms/taskbroker/tasks"
)

// MemoryStore implements TaskStore using in-memory storage.
// Useful for testing and ephemeral single-process scenarios.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]*tasks.Task
	closed atomic.Bool
}

// NewMemoryStore creates a new in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]*tasks.Task),
	}
}

// Create persists a new task.
func (s *MemoryStore) Create(task *tasks.Task) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[task.ID]; exists {
		return ErrDuplicateID
	}

	s.data[task.ID] = task.Clone()
	return nil
}

// Get retrieves a task by ID.
func (s *MemoryStore) Get(id string) (*tasks.Task, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}

	return t.Clone(), nil
}

// UpdateState atomically rewrites state, result, error and updated_at.
func (s *MemoryStore) UpdateState(id string, state tasks.TaskState, result, errMsg string) (*tasks.Task, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}

	applyUpdate(t, state, result, errMsg)
	return t.Clone(), nil
}

// AddEvent appends an event to the task's log.
func (s *MemoryStore) AddEvent(id string, event tasks.TaskEvent) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.data[id]
	if !ok {
		// Unknown ID is a silent no-op by contract.
		return nil
	}

	t.Events = append(t.Events, event)
	bumpUpdatedAt(t)
	return nil
}

// ListByState returns all tasks in the given state, oldest first.
func (s *MemoryStore) ListByState(state tasks.TaskState) ([]*tasks.Task, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []*tasks.Task
	for _, t := range s.data {
		if t.State == state {
			list = append(list, t.Clone())
		}
	}

	sortByCreation(list)
	return list, nil
}

// NextPending returns the oldest pending task, or nil if none exist.
func (s *MemoryStore) NextPending() (*tasks.Task, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*tasks.Task, 0, len(s.data))
	for _, t := range s.data {
		all = append(all, t)
	}

	t := oldestPending(all)
	if t == nil {
		return nil, nil
	}
	return t.Clone(), nil
}

// Close shuts down the store.
func (s *MemoryStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}
