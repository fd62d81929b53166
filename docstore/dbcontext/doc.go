// Package dbcontext provides DBContext, the owner of one unit of work: a FIFO command buffer,
// at most one session with its transaction, and throttled collection access.
//
// Write-execution policy is selected once by ContextOptions.AcceptAllChangesOnSave:
//
//   - deferred (true, default): Execute enqueues the command and returns a nil placeholder;
//     SaveChanges drains the buffer in enqueue order.
//   - immediate (false): Execute runs the command at once and SaveChanges is a no-op.
//
// Session state machine:
//
//	NoSession --StartSession--> SessionActive --StartTransaction--> TransactionActive
//	TransactionActive --CommitTransaction / AbortTransaction--> NoSession (session disposed)
//
// A failed commit triggers a best-effort abort and returns the commit error unchanged. Abort failures are
// logged and swallowed on purpose: an abort runs as cleanup and must not replace the error that led to it.
//
// A DBContext is owned by a single caller and is not safe for concurrent use.
package dbcontext
