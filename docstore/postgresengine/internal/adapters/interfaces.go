package adapters

import "context"

// Executor runs statements either on the pool or inside a transaction.
type Executor interface {
	Query(ctx context.Context, query string) (DBRows, error)
	Exec(ctx context.Context, query string) (DBResult, error)
}

// DBAdapter defines the interface for database operations needed by the document engine.
type DBAdapter interface {
	Executor
	Begin(ctx context.Context) (DBTx, error)
	Ping(ctx context.Context) error
	Close() error
}

// DBTx is an open transaction.
//
// Rollback on a transaction that has already been committed or rolled back returns nil.
type DBTx interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DBRows defines the interface for query result rows.
type DBRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// DBResult defines the interface for execution results.
type DBResult interface {
	RowsAffected() (int64, error)
}
