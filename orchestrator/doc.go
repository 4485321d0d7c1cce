// Package orchestrator adapts the task broker into the tool surface an
// agent loop calls: delegate (blocking), submit_task (fire-and-forget),
// wait (multi-task, event-driven) and search_tasks (archive recall).
//
// The wait tool is woken through a single shared activity signal that
// the dispatch path sets whenever any tracked task becomes terminal. The
// signal is cleared before every status snapshot so a completion racing
// the wait call is never dropped; see WaitTasks.
//
// Nothing in this package raises agent-correctable problems as errors.
// Unknown agent names, failed delegations and timeouts all come back as
// plain strings, because the caller is a model that must be able to
// read the problem and self-correct. Only store-level failures surface
// as Go errors.
package orchestrator
