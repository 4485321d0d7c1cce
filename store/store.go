package store

import (
	"errors"
	"sort"
	"time"

	"github.com/vinayprograms/taskbroker/tasks"
)

// Common errors.
var (
	// ErrNotFound indicates the requested task does not exist.
	ErrNotFound = errors.New("task not found")

	// ErrDuplicateID indicates a create with an already-seen task ID.
	ErrDuplicateID = errors.New("task id already exists")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store closed")
)

// TaskStore provides durable storage for task records. Both backends give
// read-after-write consistency to every caller in the same process.
//
// UpdateState performs no compare-and-swap against the prior state: when a
// cancel races the dispatch loop's own terminal write, whichever write lands
// last wins and the loser's transition is silently discarded. Tasks are
// never deleted; the store is the record's sole long-term owner.
type TaskStore interface {
	// Create persists a new task. Returns ErrDuplicateID if the ID has
	// been seen before.
	Create(task *tasks.Task) error

	// Get retrieves a task by ID. Returns ErrNotFound if it does not exist.
	Get(id string) (*tasks.Task, error)

	// UpdateState atomically rewrites state, result, error and updated_at,
	// and returns the updated record. Returns ErrNotFound if the ID is
	// unknown.
	UpdateState(id string, state tasks.TaskState, result, errMsg string) (*tasks.Task, error)

	// AddEvent appends an event to the task's log and bumps updated_at.
	// A no-op (nil error) if the ID is unknown.
	AddEvent(id string, event tasks.TaskEvent) error

	// ListByState returns all tasks in the given state, ordered by
	// creation time.
	ListByState(state tasks.TaskState) ([]*tasks.Task, error)

	// NextPending returns the oldest pending task, or nil if none exist.
	// This is the scheduling policy: strict FIFO by creation time.
	NextPending() (*tasks.Task, error)

	// Close releases resources held by the store.
	Close() error
}

// applyUpdate rewrites the mutable fields of a task in place, keeping
// updated_at monotonically non-decreasing.
func applyUpdate(t *tasks.Task, state tasks.TaskState, result, errMsg string) {
	t.State = state
	t.Result = result
	t.Error = errMsg
	bumpUpdatedAt(t)
}

// bumpUpdatedAt advances updated_at without ever moving it backwards.
func bumpUpdatedAt(t *tasks.Task) {
	now := time.Now().UTC()
	if now.After(t.UpdatedAt) {
		t.UpdatedAt = now
	}
}

// sortByCreation orders tasks oldest-first, with the ID as a stable
// tie-break for records created within the same clock tick.
func sortByCreation(list []*tasks.Task) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

// oldestPending returns the oldest pending task from the list, or nil.
func oldestPending(list []*tasks.Task) *tasks.Task {
	var oldest *tasks.Task
	for _, t := range list {
		if t.State != tasks.StatePending {
			continue
		}
		if oldest == nil || t.CreatedAt.Before(oldest.CreatedAt) ||
			(t.CreatedAt.Equal(oldest.CreatedAt) && t.ID < oldest.ID) {
			oldest = t
		}
	}
	return oldest
}
