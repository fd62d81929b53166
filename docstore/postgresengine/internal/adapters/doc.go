// Package adapters provide database adapter implementations for the PostgreSQL document engine.
//
// This package implements the adapter pattern to support multiple PostgreSQL database libraries:
// pgxpool.Pool, sql.DB, and sqlx.DB. All adapters provide equivalent functionality through
// a common DBAdapter interface, including transactions, allowing the engine to work with any
// supported database connection type.
//
// The adapters handle the specifics of each database library while presenting a
// unified interface for query execution, transaction handling and result handling.
package adapters
