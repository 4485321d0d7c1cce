// Package tasks defines the task record tracked by the delegation broker.
//
// A Task is one unit of work, a prompt destined for a sub-agent, moving
// through an explicit state machine:
//
//	pending -> running -> completed | failed
//	pending/running -> cancelled (via broker cancel)
//
// Completed, failed and cancelled are terminal; a task never leaves a
// terminal state. Every transition and progress update is appended to the
// task's chronological event log, which never shrinks or reorders.
//
// Tasks are created exclusively by the broker's submit path, mutated only
// by the worker (state, result, error) and the broker (forced cancel,
// appended events), and owned long-term by the store. Callers always
// receive copies; nothing outside the store holds a competing mutable view.
package tasks
