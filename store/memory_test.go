package store

import (
	"testing"
	"time"

	"github.com/vinayprograms/taskbroker/tasks"
)

func TestMemoryCreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	task := tasks.New("do the thing", map[string]string{"agent_name": "coder"})
	if err := s.Create(task); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := s.Get(task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.State != tasks.StatePending {
		t.Errorf("Expected state pending, got %s", got.State)
	}
	if got.Input != "do the thing" {
		t.Errorf("Unexpected input: %q", got.Input)
	}
	if got.Metadata["agent_name"] != "coder" {
		t.Errorf("Metadata lost on round trip")
	}
}

func TestMemoryCreateDuplicate(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	task := tasks.New("once", nil)
	if err := s.Create(task); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.Create(task); err != ErrDuplicateID {
		t.Errorf("Expected ErrDuplicateID, got %v", err)
	}
}

func TestMemoryGetNotFound(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	if _, err := s.Get("missing"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	task := tasks.New("work", map[string]string{"k": "v"})
	if err := s.Create(task); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, _ := s.Get(task.ID)
	got.Metadata["k"] = "mutated"
	got.State = tasks.StateFailed

	again, _ := s.Get(task.ID)
	if again.Metadata["k"] != "v" || again.State != tasks.StatePending {
		t.Error("Get must return copies, not the stored record")
	}
}

func TestMemoryUpdateState(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	task := tasks.New("work", nil)
	if err := s.Create(task); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	before, _ := s.Get(task.ID)

	updated, err := s.UpdateState(task.ID, tasks.StateCompleted, "result text", "")
	if err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}
	if updated.State != tasks.StateCompleted {
		t.Errorf("Expected completed, got %s", updated.State)
	}
	if updated.Result != "result text" {
		t.Errorf("Expected result set, got %q", updated.Result)
	}
	if updated.Error != "" {
		t.Errorf("Expected empty error on completion, got %q", updated.Error)
	}
	if updated.UpdatedAt.Before(before.UpdatedAt) {
		t.Error("updated_at moved backwards")
	}
}

func TestMemoryUpdateStateUnknown(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	if _, err := s.UpdateState("ghost", tasks.StateCompleted, "", ""); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMemoryUpdateStateIdempotentTerminal(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	task := tasks.New("work", nil)
	if err := s.Create(task); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	first, err := s.UpdateState(task.ID, tasks.StateFailed, "", "boom")
	if err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}
	second, err := s.UpdateState(task.ID, tasks.StateFailed, "", "boom")
	if err != nil {
		t.Fatalf("Repeated UpdateState failed: %v", err)
	}

	if first.State != second.State || first.Result != second.Result || first.Error != second.Error {
		t.Error("Repeated identical terminal update should be idempotent modulo updated_at")
	}
}

func TestMemoryUpdateStateLastWriteWins(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	task := tasks.New("work", nil)
	if err := s.Create(task); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := s.UpdateState(task.ID, tasks.StateCancelled, "", ""); err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}

	// No compare-and-swap: a later completion overwrites the cancel.
	got, err := s.UpdateState(task.ID, tasks.StateCompleted, "done", "")
	if err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}
	if got.State != tasks.StateCompleted || got.Result != "done" {
		t.Error("Expected last write to win over prior terminal state")
	}
}

func TestMemoryAddEvent(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	task := tasks.New("work", nil)
	if err := s.Create(task); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ev := tasks.NewEvent(task.ID, tasks.EventProgress, map[string]interface{}{"message": "halfway"})
	if err := s.AddEvent(task.ID, ev); err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}

	got, _ := s.Get(task.ID)
	if len(got.Events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(got.Events))
	}
	if got.Events[0].Payload["message"] != "halfway" {
		t.Error("Event payload lost")
	}

	// Unknown ID is a silent no-op.
	if err := s.AddEvent("ghost", ev); err != nil {
		t.Errorf("AddEvent on unknown ID should be a no-op, got %v", err)
	}
}

func TestMemoryListByState(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	a := tasks.New("a", nil)
	b := tasks.New("b", nil)
	c := tasks.New("c", nil)
	b.CreatedAt = a.CreatedAt.Add(time.Millisecond)
	c.CreatedAt = a.CreatedAt.Add(2 * time.Millisecond)

	// Insert out of creation order.
	for _, task := range []*tasks.Task{c, a, b} {
		if err := s.Create(task); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	if _, err := s.UpdateState(b.ID, tasks.StateRunning, "", ""); err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}

	pending, err := s.ListByState(tasks.StatePending)
	if err != nil {
		t.Fatalf("ListByState failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending tasks, got %d", len(pending))
	}
	if pending[0].ID != a.ID || pending[1].ID != c.ID {
		t.Error("ListByState not ordered by creation time")
	}
}

func TestMemoryNextPendingFIFO(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	older := tasks.New("older", nil)
	newer := tasks.New("newer", nil)
	newer.CreatedAt = older.CreatedAt.Add(time.Second)

	// Newer task inserted first; FIFO must still pick the older one.
	if err := s.Create(newer); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.Create(older); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	next, err := s.NextPending()
	if err != nil {
		t.Fatalf("NextPending failed: %v", err)
	}
	if next == nil || next.ID != older.ID {
		t.Error("NextPending must return the oldest pending task")
	}

	if _, err := s.UpdateState(older.ID, tasks.StateRunning, "", ""); err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}

	next, _ = s.NextPending()
	if next == nil || next.ID != newer.ID {
		t.Error("NextPending should skip non-pending tasks")
	}

	if _, err := s.UpdateState(newer.ID, tasks.StateCompleted, "ok", ""); err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}

	next, _ = s.NextPending()
	if next != nil {
		t.Error("NextPending should return nil when nothing is pending")
	}
}

func TestMemoryClosed(t *testing.T) {
	s := NewMemoryStore()
	s.Close()

	if err := s.Create(tasks.New("late", nil)); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, err := s.Get("any"); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
