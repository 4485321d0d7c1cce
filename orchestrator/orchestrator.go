package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vinayprograms/taskbroker/archive"
	"github.com/vinayprograms/taskbroker/broker"
	"github.com/vinayprograms/taskbroker/llm"
	"github.com/vinayprograms/taskbroker/logging"
	"github.com/vinayprograms/taskbroker/registry"
	"github.com/vinayprograms/taskbroker/tasks"
	"github.com/vinayprograms/taskbroker/worker"
)

// DefaultWaitTimeout bounds WaitTasks when the caller passes no timeout.
const DefaultWaitTimeout = 120 * time.Second

// Directory resolves agent names for the tool surface.
type Directory interface {
	Lookup(name string) (*registry.Profile, error)
	Names() []string
}

// submission is one task this orchestrator instance handed to the broker.
type submission struct {
	id    string
	agent string
}

// Orchestrator exposes the delegation tool surface over one broker: a
// blocking delegate, a fire-and-forget submit, and an event-driven wait
// across everything submitted so far.
type Orchestrator struct {
	broker  *broker.Broker
	agents  Directory
	archive *archive.Archive
	logger  *logging.Logger

	// activity is the shared wake signal, set whenever any tracked task
	// reaches a terminal state. Buffer of one: a set on an already-set
	// signal is a no-op, and WaitTasks drains it before snapshotting.
	activity chan struct{}

	mu          sync.Mutex
	submissions []submission
	observed    map[string]bool // terminal outcome already surfaced by a wait
	reported    map[string]bool // terminal outcome already delivered to the model
	usage       llm.Usage
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator's logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l.WithComponent("orchestrator")
	}
}

// WithArchive enables full-text archiving of finished tasks.
func WithArchive(a *archive.Archive) Option {
	return func(o *Orchestrator) {
		o.archive = a
	}
}

// New creates an orchestrator over the given broker and agent directory.
func New(b *broker.Broker, agents Directory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		broker:   b,
		agents:   agents,
		logger:   logging.New().WithComponent("orchestrator"),
		activity: make(chan struct{}, 1),
		observed: make(map[string]bool),
		reported: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// terminalStates are the states that end a task's lifecycle.
var terminalStates = []tasks.TaskState{
	tasks.StateCompleted,
	tasks.StateFailed,
	tasks.StateCancelled,
}

// Delegate submits a prompt to the named agent and blocks until the task
// is terminal. User-correctable problems (unknown agent, failed task)
// come back as plain strings the model can act on; only store-level
// failures return an error.
func (o *Orchestrator) Delegate(ctx context.Context, agentName, prompt string) (string, error) {
	if _, err := o.agents.Lookup(agentName); err != nil {
		return o.unknownAgentMessage(agentName), nil
	}

	id, err := o.submit(ctx, agentName, prompt)
	if err != nil {
		return "", err
	}

	t, err := o.broker.Wait(ctx, id)
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	o.observed[id] = true
	o.reported[id] = true
	o.mu.Unlock()

	if t == nil {
		return "Delegation failed: task not found", nil
	}

	switch t.State {
	case tasks.StateCompleted:
		o.addUsage(usageFromTask(t))
		return t.Result, nil
	default:
		return fmt.Sprintf("Delegation failed (%s): %s", t.State, t.Error), nil
	}
}

// SubmitTask submits a prompt to the named agent and returns immediately
// with a short acknowledgement. Results are collected later through
// WaitTasks or injected before the next turn.
func (o *Orchestrator) SubmitTask(ctx context.Context, agentName, prompt string) (string, error) {
	if _, err := o.agents.Lookup(agentName); err != nil {
		return o.unknownAgentMessage(agentName), nil
	}

	id, err := o.submit(ctx, agentName, prompt)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("Task %s submitted to agent %q. Results arrive in the background; call wait to collect them.", shortID(id), agentName), nil
}

// SearchTasks queries the archive of finished tasks. Returns a plain
// message when no archive is configured.
func (o *Orchestrator) SearchTasks(query string) string {
	if o.archive == nil {
		return "Task archive is not configured."
	}

	hits, err := o.archive.Search(query, 5)
	if err != nil {
		o.logger.Warn("archive search failed", map[string]interface{}{"error": err.Error()})
		return fmt.Sprintf("Archive search failed: %v", err)
	}
	return archive.FormatHits(hits)
}

// Usage returns the accumulated usage ledger across delegations.
func (o *Orchestrator) Usage() llm.Usage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.usage
}

// submit creates the task, tracks it, and arranges the terminal-state
// hooks (activity signal, archive).
func (o *Orchestrator) submit(ctx context.Context, agentName, prompt string) (string, error) {
	id, err := o.broker.Submit(ctx, prompt, map[string]string{
		worker.MetaAgentName:  agentName,
		worker.MetaConfigName: agentName,
	})
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	o.submissions = append(o.submissions, submission{id: id, agent: agentName})
	o.mu.Unlock()

	o.broker.Notify(id, terminalStates, o.onTerminal)
	return id, nil
}

// onTerminal runs on the dispatch path after a tracked task's terminal
// store write. The write is visible before the signal is set, which is
// what makes the wait tool's clear-then-check ordering safe.
func (o *Orchestrator) onTerminal(t *tasks.Task) {
	if o.archive != nil {
		if err := o.archive.Record(t); err != nil {
			o.logger.Warn("failed to archive task", map[string]interface{}{
				"task":  t.ID,
				"error": err.Error(),
			})
		}
	}

	select {
	case o.activity <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) addUsage(u llm.Usage) {
	o.mu.Lock()
	o.usage.Add(u)
	o.mu.Unlock()
}

func (o *Orchestrator) unknownAgentMessage(agentName string) string {
	names := o.agents.Names()
	if len(names) == 0 {
		return fmt.Sprintf("Unknown agent %q. No agents are configured.", agentName)
	}
	return fmt.Sprintf("Unknown agent %q. Available agents: %s", agentName, strings.Join(names, ", "))
}

// usageFromTask extracts usage accounting from the completion event's
// payload, best effort. Numbers may arrive as float64 after a JSON
// round trip through the file store.
func usageFromTask(t *tasks.Task) llm.Usage {
	ev := t.LatestEvent(tasks.EventStateChange)
	if ev == nil {
		return llm.Usage{}
	}
	raw, ok := ev.Payload["usage"].(map[string]interface{})
	if !ok {
		return llm.Usage{}
	}
	return llm.Usage{
		Requests:     asInt(raw["requests"]),
		InputTokens:  asInt(raw["input_tokens"]),
		OutputTokens: asInt(raw["output_tokens"]),
	}
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

// shortID truncates a task id for tool output.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
