// Package broker coordinates asynchronous task execution for sub-agent
// delegation.
//
// A Broker owns one TaskStore and one Worker. Submissions create pending
// task records and return immediately; a single background dispatch loop
// pulls the oldest pending task, runs it to completion through the worker
// (at most one task executes at a time per broker), then fires any notify
// callbacks registered for the resulting state. Callers observe progress
// through Poll (snapshot), Wait (block until terminal), Stream (event
// tail with a per-caller cursor) and Notify (one-shot callbacks).
//
// Lifecycle is scoped: Start launches the loop, Stop cancels it and blocks
// until it has fully terminated. The loop is self-healing: any single
// iteration failure is logged and swallowed.
//
// Cancellation is cooperative. Cancel force-writes the cancelled state for
// non-terminal tasks and is a no-op for terminal ones; it does not
// interrupt an in-flight agent call, and a cancel racing the worker's own
// terminal write resolves last-writer-wins in the store.
package broker
