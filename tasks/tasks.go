package tasks

import (
	"time"

	"github.com/google/uuid"
)

// TaskState represents the current state of a task.
type TaskState string

const (
	// StatePending indicates the task is waiting to be dispatched.
	StatePending TaskState = "pending"

	// StateRunning indicates the task is currently executing.
	StateRunning TaskState = "running"

	// StateCompleted indicates the task finished successfully.
	StateCompleted TaskState = "completed"

	// StateFailed indicates the task execution failed.
	StateFailed TaskState = "failed"

	// StateInputRequired indicates the task is blocked on external input.
	StateInputRequired TaskState = "input_required"

	// StateCancelled indicates the task was cancelled before completion.
	StateCancelled TaskState = "cancelled"
)

// String returns the string representation of the state.
func (s TaskState) String() string {
	return string(s)
}

// IsTerminal returns true if no further transitions occur from this state.
func (s TaskState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Valid returns true if the state is a known value.
func (s TaskState) Valid() bool {
	switch s {
	case StatePending, StateRunning, StateCompleted, StateFailed,
		StateInputRequired, StateCancelled:
		return true
	default:
		return false
	}
}

// EventType classifies entries in a task's event log.
type EventType string

const (
	// EventStateChange records a lifecycle transition.
	EventStateChange EventType = "state_change"

	// EventProgress records intermediate progress from the executing agent.
	EventProgress EventType = "progress"

	// EventLog records free-form diagnostic output.
	EventLog EventType = "log"
)

// TaskEvent is one entry in a task's append-only, chronological event log.
type TaskEvent struct {
	TaskID    string                 `json:"task_id"`
	Type      EventType              `json:"event_type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEvent creates an event for the given task, stamped with the current time.
func NewEvent(taskID string, typ EventType, payload map[string]interface{}) TaskEvent {
	return TaskEvent{
		TaskID:    taskID,
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Task represents one unit of work handed off to a sub-agent.
//
// Invariants maintained by the store and worker:
//   - ID never changes after creation.
//   - Result is set if and only if State is completed.
//   - Error is set if and only if State is failed.
//   - UpdatedAt is monotonically non-decreasing.
//   - Events only grow and never reorder.
type Task struct {
	// ID is the unique identifier, assigned at creation.
	ID string `json:"id"`

	// State is the current lifecycle state.
	State TaskState `json:"state"`

	// Input is the prompt handed to the sub-agent.
	Input string `json:"input"`

	// Result is the output text, present only on completion.
	Result string `json:"result,omitempty"`

	// Error is the failure message, present only on failure.
	Error string `json:"error,omitempty"`

	// Events is the append-only event log.
	Events []TaskEvent `json:"events,omitempty"`

	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the task was last mutated.
	UpdatedAt time.Time `json:"updated_at"`

	// Metadata carries opaque submission attributes such as agent_name,
	// system_prompt and config_name. Values are forwarded verbatim.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// New creates a pending task with a fresh ID.
func New(input string, metadata map[string]string) *Task {
	now := time.Now().UTC()
	var md map[string]string
	if len(metadata) > 0 {
		md = make(map[string]string, len(metadata))
		for k, v := range metadata {
			md[k] = v
		}
	}
	return &Task{
		ID:        uuid.NewString(),
		State:     StatePending,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  md,
	}
}

// Clone creates a deep copy of the task.
func (t *Task) Clone() *Task {
	clone := &Task{
		ID:        t.ID,
		State:     t.State,
		Input:     t.Input,
		Result:    t.Result,
		Error:     t.Error,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}

	if t.Events != nil {
		clone.Events = make([]TaskEvent, len(t.Events))
		copy(clone.Events, t.Events)
	}

	if t.Metadata != nil {
		clone.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			clone.Metadata[k] = v
		}
	}

	return clone
}

// LatestEvent returns the most recent event of the given type, or nil.
func (t *Task) LatestEvent(typ EventType) *TaskEvent {
	for i := len(t.Events) - 1; i >= 0; i-- {
		if t.Events[i].Type == typ {
			ev := t.Events[i]
			return &ev
		}
	}
	return nil
}
