// Package projection maintains the per-submission completion matrix and
// emits SubmissionPreparationCompleted exactly once.
//
// Apply is a pure transition over an immutable snapshot. Handler wraps it in
// a version-checked read-modify-write: a writer that loses the race re-reads
// the record and re-derives its change and the completion predicate from the
// fresh copy. Only the writer whose write moves completedAt from nil to a
// time appends the terminal event.
//
// A step event for a document the projection has not seen yet creates a
// placeholder entry. SubmissionCreated later fills in the declared document
// list and total without clearing flags. A submission never completes before
// SubmissionCreated has been applied.
package projection
