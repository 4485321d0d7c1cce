package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vinayprograms/taskbroker/tasks"
)

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return s
}

func TestFileCreateWritesJSON(t *testing.T) {
	s := newFileStore(t)
	defer s.Close()

	task := tasks.New("persist me", map[string]string{"agent_name": "writer"})
	if err := s.Create(task); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	path := filepath.Join(s.Dir(), task.ID+".json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Expected task file at %s: %v", path, err)
	}

	if err := s.Create(task); err != ErrDuplicateID {
		t.Errorf("Expected ErrDuplicateID on re-create, got %v", err)
	}
}

func TestFileRoundTripAcrossStores(t *testing.T) {
	dir := t.TempDir()

	first, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	task := tasks.New("durable work", map[string]string{"config_name": "fast"})
	if err := first.Create(task); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := first.UpdateState(task.ID, tasks.StateCompleted, "the answer", ""); err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}
	ev := tasks.NewEvent(task.ID, tasks.EventStateChange, map[string]interface{}{"to": "completed"})
	if err := first.AddEvent(task.ID, ev); err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}
	first.Close()

	// A fresh store over the same directory must see an equal record.
	second, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer second.Close()

	got, err := second.Get(task.ID)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.ID != task.ID {
		t.Errorf("ID changed across restart: %s != %s", got.ID, task.ID)
	}
	if got.State != tasks.StateCompleted || got.Result != "the answer" || got.Error != "" {
		t.Error("State/result/error lost across restart")
	}
	if got.Input != "durable work" {
		t.Errorf("Input lost: %q", got.Input)
	}
	if got.Metadata["config_name"] != "fast" {
		t.Error("Metadata lost across restart")
	}
	if len(got.Events) != 1 {
		t.Errorf("Expected 1 event after restart, got %d", len(got.Events))
	}
}

func TestFileGetNotFound(t *testing.T) {
	s := newFileStore(t)
	defer s.Close()

	if _, err := s.Get("missing"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestFileAddEventUnknownIsNoOp(t *testing.T) {
	s := newFileStore(t)
	defer s.Close()

	ev := tasks.NewEvent("ghost", tasks.EventLog, nil)
	if err := s.AddEvent("ghost", ev); err != nil {
		t.Errorf("AddEvent on unknown ID should be a no-op, got %v", err)
	}
}

func TestFileNextPendingFIFO(t *testing.T) {
	s := newFileStore(t)
	defer s.Close()

	older := tasks.New("older", nil)
	newer := tasks.New("newer", nil)
	newer.CreatedAt = older.CreatedAt.Add(time.Second)

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
}

func TestFileListByStateOrdered(t *testing.T) {
	s := newFileStore(t)
	defer s.Close()

	base := time.Now().UTC()
	var ids []string
	for i := 0; i < 3; i++ {
		task := tasks.New("work", nil)
		task.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		if err := s.Create(task); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		ids = append(ids, task.ID)
	}

	list, err := s.ListByState(tasks.StatePending)
	if err != nil {
		t.Fatalf("ListByState failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("Expected 3 tasks, got %d", len(list))
	}
	for i, task := range list {
		if task.ID != ids[i] {
			t.Fatalf("ListByState out of creation order at %d", i)
		}
	}
}

func TestFileIgnoresForeignFiles(t *testing.T) {
	s := newFileStore(t)
	defer s.Close()

	// Non-JSON debris in the directory must not break listing.
	if err := os.WriteFile(filepath.Join(s.Dir(), "README.txt"), []byte("notes"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	task := tasks.New("work", nil)
	if err := s.Create(task); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	list, err := s.ListByState(tasks.StatePending)
	if err != nil {
		t.Fatalf("ListByState failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("Expected 1 task, got %d", len(list))
	}
}
