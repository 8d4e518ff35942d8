// Package tasks runs long-lived work off the gateway request path.
//
// # Lifecycle
//
//	queued -> running -> complete | failed
//	queued | running -> cancelled
//
// [Scheduler.Submit] places a task in the lowest free slot of a bounded table
// and returns an id of the form task_<seq>_<instance>. Nothing runs until the
// owner calls [Scheduler.Poll], which in order:
//
//  1. reaps finished workers without blocking and records their results,
//  2. starts queued tasks in slot order while the [Pool] has room,
//  3. frees slots of terminal tasks older than the retention period.
//
// A task whose type has no registered [Handler] fails at dispatch with
// "unknown task type: <type>" and never enters running.
//
// # Workers
//
// Each dispatched task runs its handler in a goroutine with its own context.
// Panics are recovered and reported as failures. Results longer than 4 KiB are
// truncated; results that are not valid UTF-8 fail the task. Cancellation
// cancels the worker context and marks the task cancelled immediately; the
// worker's eventual result, if any, is discarded.
//
// # Journal
//
// A [Recorder] passed with [WithRecorder] sees every task once when it becomes
// terminal. The gateway uses this to write task history to SQLite.
package tasks
