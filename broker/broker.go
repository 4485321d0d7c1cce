package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vinayprograms/taskbroker/logging"
	"github.com/vinayprograms/taskbroker/store"
	"github.com/vinayprograms/taskbroker/tasks"
	"github.com/vinayprograms/taskbroker/worker"
)

// Common errors.
var (
	// ErrAlreadyStarted indicates Start was called on a running broker.
	ErrAlreadyStarted = errors.New("broker already started")

	// ErrNotStarted indicates Stop was called on a stopped broker.
	ErrNotStarted = errors.New("broker not started")
)

// DefaultPollInterval is the dispatch and wait polling cadence.
const DefaultPollInterval = 100 * time.Millisecond

// registration is one notify subscription, fired at most once.
type registration struct {
	states map[tasks.TaskState]bool
	fn     func(*tasks.Task)
}

func (r *registration) matches(state tasks.TaskState) bool {
	return r.states[state]
}

// Broker owns one worker and one store, accepts submissions, and runs the
// background dispatch loop that executes pending tasks one at a time.
type Broker struct {
	store        store.TaskStore
	worker       *worker.Worker
	logger       *logging.Logger
	pollInterval time.Duration

	mu            sync.Mutex
	registrations map[string][]*registration

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	running   bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithPollInterval sets the dispatch/wait polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

// WithLogger sets the broker's logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Broker) {
		b.logger = l.WithComponent("broker")
	}
}

// New creates a broker over the given store and worker.
func New(s store.TaskStore, w *worker.Worker, opts ...Option) *Broker {
	b := &Broker{
		store:         s,
		worker:        w,
		logger:        logging.New().WithComponent("broker"),
		pollInterval:  DefaultPollInterval,
		registrations: make(map[string][]*registration),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Submit creates a pending task and returns its ID immediately. The task
// is picked up by the dispatch loop in FIFO order.
func (b *Broker) Submit(ctx context.Context, input string, metadata map[string]string) (string, error) {
	task := tasks.New(input, metadata)
	if err := b.store.Create(task); err != nil {
		return "", err
	}
	b.logger.TaskSubmitted(task.ID, metadata[worker.MetaAgentName])
	return task.ID, nil
}

// Poll returns a non-blocking snapshot of the task, or nil if unknown.
func (b *Broker) Poll(ctx context.Context, taskID string) (*tasks.Task, error) {
	t, err := b.store.Get(taskID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// Wait blocks until the task reaches a terminal state, polling at the
// configured interval. Returns nil if the task disappears, or the context
// error if ctx is done first.
func (b *Broker) Wait(ctx context.Context, taskID string) (*tasks.Task, error) {
	for {
		t, err := b.Poll(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return nil, nil
		}
		if t.State.IsTerminal() {
			return t, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.pollInterval):
		}
	}
}

// Stream yields events appended since the caller's own last check, polling
// at the configured interval. The channel closes once the task is terminal
// (after a final flush) or disappears. Each call tracks its own cursor, so
// concurrent observers do not interfere.
func (b *Broker) Stream(ctx context.Context, taskID string) <-chan tasks.TaskEvent {
	ch := make(chan tasks.TaskEvent)

	go func() {
		defer close(ch)

		cursor := 0
		for {
			t, err := b.store.Get(taskID)
			if err != nil {
				return
			}

			for cursor < len(t.Events) {
				select {
				case ch <- t.Events[cursor]:
					cursor++
				case <-ctx.Done():
					return
				}
			}

			if t.State.IsTerminal() {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(b.pollInterval):
			}
		}
	}()

	return ch
}

// Cancel force-transitions a non-terminal task to cancelled, bypassing the
// worker. Cancelling an already-terminal task returns it unchanged; a task
// mid-execution is not interrupted. Cancellation is cooperative only, so
// whichever write lands last in the store determines the observed final
// state. Returns nil if the task is unknown.
func (b *Broker) Cancel(ctx context.Context, taskID string) (*tasks.Task, error) {
	t, err := b.Poll(ctx, taskID)
	if err != nil || t == nil {
		return t, err
	}
	if t.State.IsTerminal() {
		return t, nil
	}

	prior := t.State
	updated, err := b.store.UpdateState(taskID, tasks.StateCancelled, "", "")
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	ev := tasks.NewEvent(taskID, tasks.EventStateChange, map[string]interface{}{
		"from": prior.String(),
		"to":   tasks.StateCancelled.String(),
	})
	if err := b.store.AddEvent(taskID, ev); err != nil {
		return nil, err
	}
	b.logger.TaskStateChange(taskID, prior.String(), tasks.StateCancelled.String())

	b.fireCallbacks(updated)
	return updated, nil
}

// CancelAll cancels every currently non-terminal known task. Used on
// shutdown.
func (b *Broker) CancelAll(ctx context.Context) error {
	for _, state := range []tasks.TaskState{tasks.StatePending, tasks.StateRunning, tasks.StateInputRequired} {
		list, err := b.store.ListByState(state)
		if err != nil {
			return err
		}
		for _, t := range list {
			if _, err := b.Cancel(ctx, t.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Notify registers a callback fired once, asynchronously, the first time
// the task's state lands in states. Multiple registrations per task are
// independent. Callback panics are caught and logged, never propagated
// into the dispatch loop. If the task is already in one of the requested
// states at registration time, the callback fires immediately.
func (b *Broker) Notify(taskID string, states []tasks.TaskState, fn func(*tasks.Task)) {
	reg := &registration{
		states: make(map[tasks.TaskState]bool, len(states)),
		fn:     fn,
	}
	for _, s := range states {
		reg.states[s] = true
	}

	b.mu.Lock()
	b.registrations[taskID] = append(b.registrations[taskID], reg)
	b.mu.Unlock()

	// A completion that landed before registration must still fire.
	if t, err := b.store.Get(taskID); err == nil && reg.matches(t.State) {
		b.fireCallbacks(t)
	}
}

// fireCallbacks invokes and removes every registration matching the task's
// current state. Each callback runs on its own goroutine with panics
// contained.
func (b *Broker) fireCallbacks(t *tasks.Task) {
	b.mu.Lock()
	regs := b.registrations[t.ID]
	var fire []*registration
	var keep []*registration
	for _, reg := range regs {
		if reg.matches(t.State) {
			fire = append(fire, reg)
		} else {
			keep = append(keep, reg)
		}
	}
	if len(keep) == 0 {
		delete(b.registrations, t.ID)
	} else {
		b.registrations[t.ID] = keep
	}
	b.mu.Unlock()

	for _, reg := range fire {
		go func(reg *registration, snapshot *tasks.Task) {
			defer func() {
				if r := recover(); r != nil {
					b.logger.CallbackError(snapshot.ID, r)
				}
			}()
			reg.fn(snapshot.Clone())
		}(reg, t)
	}
}

// Start launches the background dispatch loop. The loop runs until Stop is
// called or ctx is done.
func (b *Broker) Start(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if b.running {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.running = true

	go b.dispatchLoop(loopCtx)
	return nil
}

// Stop cancels the dispatch loop and blocks until it has fully terminated,
// guaranteeing no dangling dispatch activity survives.
func (b *Broker) Stop() error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if !b.running {
		return ErrNotStarted
	}

	b.cancel()
	<-b.done
	b.running = false
	return nil
}

// Run executes fn within a started broker scope, stopping the loop (and
// awaiting its termination) before returning regardless of fn's outcome.
func (b *Broker) Run(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Start(ctx); err != nil {
		return err
	}
	defer b.Stop()
	return fn(ctx)
}

// dispatchLoop repeatedly pulls the oldest pending task and runs it to
// completion, one task at a time. Any single-iteration failure is logged
// and swallowed; one bad task must never kill the dispatcher.
func (b *Broker) dispatchLoop(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		dispatched := b.dispatchOne(ctx)
		if dispatched {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.pollInterval):
		}
	}
}

// dispatchOne runs a single dispatch iteration. Returns true if a task was
// executed (the loop should immediately look for the next one).
func (b *Broker) dispatchOne(ctx context.Context) (dispatched bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.DispatchError(errorFromRecover(r))
		}
	}()

	next, err := b.store.NextPending()
	if err != nil {
		b.logger.DispatchError(err)
		return false
	}
	if next == nil {
		return false
	}

	started := time.Now()
	if err := b.worker.Execute(ctx, next.ID); err != nil {
		b.logger.DispatchError(err)
	}

	final, err := b.store.Get(next.ID)
	if err != nil {
		b.logger.DispatchError(err)
		return true
	}

	b.logger.TaskFinished(final.ID, final.State.String(), time.Since(started))
	b.fireCallbacks(final)
	return true
}

// errorFromRecover normalizes a recovered panic value into an error.
func errorFromRecover(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic in dispatch iteration: %v", r)
}
