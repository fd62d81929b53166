// Package memengine is an in-process implementation of the docstore driver surface.
//
// It keeps documents in memory and implements the same filter, sort, projection and aggregate semantics as
// the PostgreSQL engine, which makes it suitable for tests and local development. Transactions buffer their
// writes in the session and apply them atomically on commit; reads inside a transaction see the session's own
// pending writes on top of the committed state.
package memengine
