// Package store provides durable and in-memory storage for task records.
//
// Two interchangeable backends satisfy the TaskStore contract:
//
//   - MemoryStore: a map guarded by one coarse lock, for tests and
//     ephemeral runs.
//   - FileStore: one JSON file per task at <dir>/<id>.json with ISO-8601
//     timestamps and string-valued states, every write a full
//     read-modify-write under a single process-wide lock.
//
// The backend is chosen at construction time; callers hold only the
// TaskStore interface. Within one process, a write issued by any caller is
// visible to every subsequent Get or ListByState (read-after-write).
//
// Scheduling policy lives here: NextPending returns the oldest pending
// task by creation time, strict FIFO regardless of insertion order.
package store
