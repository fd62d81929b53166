package postgresengine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/AntonStoeckl/docstore-uow-go/docstore/postgresengine/internal/adapters"
)

// fakeAdapter records statements and answers them with canned rows and errors.
// Statements run inside a transaction are recorded with a "tx: " prefix.
type fakeAdapter struct {
	mu         sync.Mutex
	statements []string
	rows       map[string][][]any // keyed by a statement substring
	affected   int64
	failOn     map[string]error // keyed by a statement substring
	commitErr  error
	begun      int
	committed  int
	rolledBack int
	closed     bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		rows:     make(map[string][][]any),
		failOn:   make(map[string]error),
		affected: 1,
	}
}

func (f *fakeAdapter) Query(ctx context.Context, query string) (adapters.DBRows, error) {
	return f.query(ctx, "", query)
}

func (f *fakeAdapter) Exec(ctx context.Context, query string) (adapters.DBResult, error) {
	return f.exec(ctx, "", query)
}

func (f *fakeAdapter) Begin(_ context.Context) (adapters.DBTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failOn["BEGIN"]; err != nil {
		return nil, err
	}

	f.begun++

	return &fakeTx{adapter: f}, nil
}

func (f *fakeAdapter) Ping(_ context.Context) error {
	return nil
}

func (f *fakeAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true

	return nil
}

func (f *fakeAdapter) query(_ context.Context, prefix, query string) (adapters.DBRows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.statements = append(f.statements, prefix+query)

	if err := f.failure(query); err != nil {
		return nil, err
	}

	for fragment, rows := range f.rows {
		if strings.Contains(query, fragment) {
			return &fakeRows{rows: rows, index: -1}, nil
		}
	}

	return &fakeRows{index: -1}, nil
}

func (f *fakeAdapter) exec(_ context.Context, prefix, query string) (adapters.DBResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.statements = append(f.statements, prefix+query)

	if err := f.failure(query); err != nil {
		return nil, err
	}

	return fakeResult(f.affected), nil
}

func (f *fakeAdapter) failure(query string) error {
	for fragment, err := range f.failOn {
		if strings.Contains(query, fragment) {
			return err
		}
	}

	return nil
}

// recorded returns the recorded statements without the DDL.
func (f *fakeAdapter) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make([]string, 0, len(f.statements))
	for _, statement := range f.statements {
		if strings.HasPrefix(statement, "CREATE ") {
			continue
		}

		result = append(result, statement)
	}

	return result
}

func (f *fakeAdapter) countPrefix(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, statement := range f.statements {
		if strings.HasPrefix(statement, prefix) {
			count++
		}
	}

	return count
}

type fakeTx struct {
	adapter *fakeAdapter
	done    bool
}

func (t *fakeTx) Query(ctx context.Context, query string) (adapters.DBRows, error) {
	return t.adapter.query(ctx, "tx: ", query)
}

func (t *fakeTx) Exec(ctx context.Context, query string) (adapters.DBResult, error) {
	return t.adapter.exec(ctx, "tx: ", query)
}

func (t *fakeTx) Commit(_ context.Context) error {
	t.adapter.mu.Lock()
	defer t.adapter.mu.Unlock()

	t.done = true
	if t.adapter.commitErr != nil {
		return t.adapter.commitErr
	}

	t.adapter.committed++

	return nil
}

func (t *fakeTx) Rollback(_ context.Context) error {
	t.adapter.mu.Lock()
	defer t.adapter.mu.Unlock()

	t.done = true
	t.adapter.rolledBack++

	return nil
}

type fakeRows struct {
	rows  [][]any
	index int
}

func (r *fakeRows) Next() bool {
	r.index++
	return r.index < len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.index]
	if len(row) != len(dest) {
		return fmt.Errorf("scan: %d columns into %d destinations", len(row), len(dest))
	}

	for i, value := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = value.(string)
		case *[]byte:
			*d = []byte(value.(string))
		case *int64:
			*d = value.(int64)
		default:
			return fmt.Errorf("scan: unsupported destination %T", dest[i])
		}
	}

	return nil
}

func (r *fakeRows) Err() error {
	return nil
}

func (r *fakeRows) Close() error {
	return nil
}

type fakeResult int64

func (r fakeResult) RowsAffected() (int64, error) {
	return int64(r), nil
}
