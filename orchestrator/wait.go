package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/taskbroker/tasks"
)

// WaitTasks blocks until at least one submitted task newly reaches a
// terminal state, or until the timeout elapses. A timeout is a normal,
// reportable outcome. Returns one status line per submitted task.
//
// Ordering matters: the activity signal is cleared before the status
// snapshot, never after. Clearing after the check could drop a
// completion landing in the gap between check and clear, stalling the
// caller for the full timeout despite fresh results. Clear-first is safe
// because the store write always happens before the signal is set, so
// anything visible at clear time has already attempted to set the
// signal and the snapshot observes it directly.
func (o *Orchestrator) WaitTasks(ctx context.Context, timeoutSeconds int) (string, error) {
	if timeoutSeconds < 0 {
		return "Invalid timeout: must be a non-negative number of seconds.", nil
	}
	timeout := DefaultWaitTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}

	subs := o.trackedSubmissions()
	if len(subs) == 0 {
		return "No tasks have been submitted.", nil
	}

	// Clear the signal, then snapshot.
	select {
	case <-o.activity:
	default:
	}

	report, allTerminal, newlyTerminal, err := o.snapshot(ctx, subs)
	if err != nil {
		return "", err
	}
	if allTerminal || newlyTerminal {
		return report, nil
	}

	select {
	case <-o.activity:
	case <-time.After(timeout):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	report, _, _, err = o.snapshot(ctx, subs)
	if err != nil {
		return "", err
	}
	return report, nil
}

// InjectCompleted prepends notices for finished tasks the model has not
// seen yet, so background results surface even without an explicit wait
// call. Each task id is reported at most once.
func (o *Orchestrator) InjectCompleted(ctx context.Context, prompt string) string {
	subs := o.trackedSubmissions()

	var notices []string
	for _, sub := range subs {
		o.mu.Lock()
		seen := o.reported[sub.id]
		o.mu.Unlock()
		if seen {
			continue
		}

		t, err := o.broker.Poll(ctx, sub.id)
		if err != nil || t == nil {
			continue
		}

		var notice string
		switch t.State {
		case tasks.StateCompleted:
			o.addUsage(usageFromTask(t))
			notice = fmt.Sprintf("[background task %s (%s) completed] %s", shortID(sub.id), sub.agent, preview(t.Result))
		case tasks.StateFailed:
			notice = fmt.Sprintf("[background task %s (%s) failed] %s", shortID(sub.id), sub.agent, t.Error)
		default:
			continue
		}

		o.mu.Lock()
		o.reported[sub.id] = true
		o.observed[sub.id] = true
		o.mu.Unlock()
		notices = append(notices, notice)
	}

	if len(notices) == 0 {
		return prompt
	}
	return strings.Join(notices, "\n") + "\n\n" + prompt
}

// trackedSubmissions copies the submission list under lock.
func (o *Orchestrator) trackedSubmissions() []submission {
	o.mu.Lock()
	defer o.mu.Unlock()
	subs := make([]submission, len(o.submissions))
	copy(subs, o.submissions)
	return subs
}

// snapshot polls every submitted task and formats one status line each.
// It reports whether all tasks are terminal and whether any became
// terminal since the last observation, marking those as observed.
func (o *Orchestrator) snapshot(ctx context.Context, subs []submission) (report string, allTerminal, newlyTerminal bool, err error) {
	allTerminal = true
	var lines []string

	for _, sub := range subs {
		t, pollErr := o.broker.Poll(ctx, sub.id)
		if pollErr != nil {
			return "", false, false, pollErr
		}
		if t == nil {
			lines = append(lines, fmt.Sprintf("[%s] %s: task not found", shortID(sub.id), sub.agent))
			continue
		}

		if t.State.IsTerminal() {
			o.mu.Lock()
			first := !o.observed[sub.id]
			if first {
				newlyTerminal = true
				o.observed[sub.id] = true
				o.reported[sub.id] = true
			}
			o.mu.Unlock()
			if first && t.State == tasks.StateCompleted {
				o.addUsage(usageFromTask(t))
			}
		} else {
			allTerminal = false
		}

		lines = append(lines, statusLine(sub, t))
	}

	return strings.Join(lines, "\n"), allTerminal, newlyTerminal, nil
}

// statusLine formats one task's status for the wait report.
func statusLine(sub submission, t *tasks.Task) string {
	prefix := fmt.Sprintf("[%s] %s: %s", shortID(sub.id), sub.agent, t.State)

	switch t.State {
	case tasks.StateCompleted:
		return prefix + ". Result: " + preview(t.Result)
	case tasks.StateFailed:
		return prefix + ". Error: " + t.Error
	case tasks.StateCancelled:
		return prefix
	default:
		if ev := t.LatestEvent(tasks.EventProgress); ev != nil {
			if msg, ok := ev.Payload["message"].(string); ok && msg != "" {
				return prefix + ". Progress: " + msg
			}
		}
		return prefix
	}
}

// preview truncates long results for status output, on a rune boundary.
func preview(s string) string {
	s = strings.TrimSpace(s)
	if runes := []rune(s); len(runes) > 200 {
		return string(runes[:200]) + "..."
	}
	return s
}
