// Package worker executes individual tasks against a sub-agent capability.
//
// A Worker holds no state of its own across calls; everything it learns or
// decides is written back through the task store. It executes exactly one
// task per Execute call, converting every agent-side failure into a failed
// task record. Only store-level failures escape.
package worker

import (
	"context"
	"fmt"

	"github.com/vinayprograms/taskbroker/llm"
	"github.com/vinayprograms/taskbroker/logging"
	"github.com/vinayprograms/taskbroker/store"
	"github.com/vinayprograms/taskbroker/tasks"
)

// Metadata keys the worker forwards to the agent builder. The worker does
// not interpret the values.
const (
	MetaAgentName    = "agent_name"
	MetaSystemPrompt = "system_prompt"
	MetaConfigName   = "config_name"
)

// Agent is the external capability that turns a prompt into output text.
type Agent interface {
	// Run executes the prompt and returns the output with usage accounting.
	Run(ctx context.Context, prompt string) (string, llm.Usage, error)
}

// AgentBuilder constructs agents from task metadata. The arguments are
// opaque strings forwarded verbatim from the submission.
type AgentBuilder interface {
	BuildAgent(systemPrompt, configName string) (Agent, error)
}

// AgentBuilderFunc adapts a function to the AgentBuilder interface.
type AgentBuilderFunc func(systemPrompt, configName string) (Agent, error)

// BuildAgent implements AgentBuilder.
func (f AgentBuilderFunc) BuildAgent(systemPrompt, configName string) (Agent, error) {
	return f(systemPrompt, configName)
}

// Worker executes one task at a time using an externally supplied agent
// capability, writing outcomes back through the store.
type Worker struct {
	store   store.TaskStore
	builder AgentBuilder
	logger  *logging.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the worker's logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Worker) {
		w.logger = l.WithComponent("worker")
	}
}

// New creates a worker over the given store and agent builder.
func New(s store.TaskStore, builder AgentBuilder, opts ...Option) *Worker {
	w := &Worker{
		store:   s,
		builder: builder,
		logger:  logging.New().WithComponent("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Execute runs the task with the given ID to completion. A missing task is
// logged and ignored (fire-and-forget safety net). Agent failures of any
// kind become a failed task record; only store errors are returned.
func (w *Worker) Execute(ctx context.Context, taskID string) error {
	task, err := w.store.Get(taskID)
	if err != nil {
		if err == store.ErrNotFound {
			w.logger.Warn("task vanished before execution", map[string]interface{}{
				"task": taskID,
			})
			return nil
		}
		return err
	}

	prior := task.State
	if _, err := w.store.UpdateState(taskID, tasks.StateRunning, "", ""); err != nil {
		return err
	}
	if err := w.stateChangeEvent(taskID, prior, tasks.StateRunning, nil); err != nil {
		return err
	}
	w.logger.TaskStateChange(taskID, prior.String(), tasks.StateRunning.String())

	agent, err := w.builder.BuildAgent(task.Metadata[MetaSystemPrompt], task.Metadata[MetaConfigName])
	if err != nil {
		return w.fail(taskID, fmt.Sprintf("agent construction: %v", err))
	}

	output, usage, err := agent.Run(ctx, task.Input)
	if err != nil {
		return w.fail(taskID, fmt.Sprintf("agent execution: %v", err))
	}

	if _, err := w.store.UpdateState(taskID, tasks.StateCompleted, output, ""); err != nil {
		return err
	}
	payload := map[string]interface{}{
		"usage": map[string]interface{}{
			"requests":      usage.Requests,
			"input_tokens":  usage.InputTokens,
			"output_tokens": usage.OutputTokens,
		},
	}
	if err := w.stateChangeEvent(taskID, tasks.StateRunning, tasks.StateCompleted, payload); err != nil {
		return err
	}
	w.logger.TaskStateChange(taskID, tasks.StateRunning.String(), tasks.StateCompleted.String())
	return nil
}

// fail records a failed outcome. Store errors propagate; nothing else does.
func (w *Worker) fail(taskID, message string) error {
	if _, err := w.store.UpdateState(taskID, tasks.StateFailed, "", message); err != nil {
		return err
	}
	payload := map[string]interface{}{"error": message}
	if err := w.stateChangeEvent(taskID, tasks.StateRunning, tasks.StateFailed, payload); err != nil {
		return err
	}
	w.logger.AgentError(taskID, fmt.Errorf("%s", message))
	return nil
}

// stateChangeEvent appends a state_change event with from/to plus any
// extra payload entries.
func (w *Worker) stateChangeEvent(taskID string, from, to tasks.TaskState, extra map[string]interface{}) error {
	payload := map[string]interface{}{
		"from": from.String(),
		"to":   to.String(),
	}
	for k, v := range extra {
		payload[k] = v
	}
	return w.store.AddEvent(taskID, tasks.NewEvent(taskID, tasks.EventStateChange, payload))
}
