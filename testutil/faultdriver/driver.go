// Package faultdriver wraps a docstore.Driver to count calls, inject failures and add latency per operation.
package faultdriver

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
)

// Operation names a driver call.
type Operation string

const (
	OpConnect          Operation = "connect"
	OpStartSession     Operation = "start_session"
	OpStartTransaction Operation = "start_transaction"
	OpCommit           Operation = "commit_transaction"
	OpAbort            Operation = "abort_transaction"
	OpEndSession       Operation = "end_session"
	OpEnsureCollection Operation = "ensure_collection"
	OpFind             Operation = "find"
	OpFindOne          Operation = "find_one"
	OpCount            Operation = "count"
	OpInsertOne        Operation = "insert_one"
	OpInsertMany       Operation = "insert_many"
	OpReplaceOne       Operation = "replace_one"
	OpDeleteOne        Operation = "delete_one"
	OpDeleteMany       Operation = "delete_many"
	OpBulkWrite        Operation = "bulk_write"
	OpAggregate        Operation = "aggregate"
)

// CollectionOperations lists the operations that read or write documents.
var CollectionOperations = []Operation{
	OpFind, OpFindOne, OpCount, OpInsertOne, OpInsertMany, OpReplaceOne, OpDeleteOne, OpDeleteMany, OpBulkWrite, OpAggregate,
}

var (
	_ docstore.Driver     = (*Driver)(nil)
	_ docstore.Client     = (*client)(nil)
	_ docstore.Database   = (*database)(nil)
	_ docstore.Collection = (*collection)(nil)
	_ docstore.Session    = (*Session)(nil)
)

// Driver is a docstore.Driver decorator for tests.
type Driver struct {
	inner    docstore.Driver
	calls    *xsync.MapOf[Operation, *xsync.Counter]
	failures *xsync.MapOf[Operation, error]
	latency  *xsync.MapOf[Operation, time.Duration]
}

// Wrap decorates inner.
func Wrap(inner docstore.Driver) *Driver {
	return &Driver{
		inner:    inner,
		calls:    xsync.NewMapOf[Operation, *xsync.Counter](),
		failures: xsync.NewMapOf[Operation, error](),
		latency:  xsync.NewMapOf[Operation, time.Duration](),
	}
}

// FailWith makes every later call of op fail with err without reaching the wrapped driver.
func (d *Driver) FailWith(op Operation, err error) {
	d.failures.Store(op, err)
}

// Heal removes an injected failure.
func (d *Driver) Heal(op Operation) {
	d.failures.Delete(op)
}

// SetLatency delays every later call of op by latency, or until the call's ctx is done.
func (d *Driver) SetLatency(op Operation, latency time.Duration) {
	d.latency.Store(op, latency)
}

// Calls returns how often op was invoked, including failed invocations.
func (d *Driver) Calls(op Operation) int64 {
	counter, ok := d.calls.Load(op)
	if !ok {
		return 0
	}

	return counter.Value()
}

// CollectionCalls returns the number of document reads and writes.
func (d *Driver) CollectionCalls() int64 {
	total := int64(0)
	for _, op := range CollectionOperations {
		total += d.Calls(op)
	}

	return total
}

// enter counts op, applies its latency and returns its injected failure.
func (d *Driver) enter(ctx context.Context, op Operation) error {
	counter, _ := d.calls.LoadOrCompute(op, xsync.NewCounter)
	counter.Inc()

	if latency, ok := d.latency.Load(op); ok && latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err, ok := d.failures.Load(op); ok {
		return err
	}

	return nil
}

func (d *Driver) Connect(ctx context.Context, config docstore.ClientConfig) (docstore.Client, error) {
	if err := d.enter(ctx, OpConnect); err != nil {
		return nil, err
	}

	inner, err := d.inner.Connect(ctx, config)
	if err != nil {
		return nil, err
	}

	return &client{driver: d, inner: inner}, nil
}

type client struct {
	driver *Driver
	inner  docstore.Client
}

func (c *client) Database(name string) (docstore.Database, error) {
	inner, err := c.inner.Database(name)
	if err != nil {
		return nil, err
	}

	return &database{driver: c.driver, inner: inner}, nil
}

func (c *client) StartSession(ctx context.Context) (docstore.Session, error) {
	if err := c.driver.enter(ctx, OpStartSession); err != nil {
		return nil, err
	}

	inner, err := c.inner.StartSession(ctx)
	if err != nil {
		return nil, err
	}

	return &Session{driver: c.driver, inner: inner}, nil
}

func (c *client) Close() {
	c.inner.Close()
}

type database struct {
	driver *Driver
	inner  docstore.Database
}

func (db *database) Name() string {
	return db.inner.Name()
}

func (db *database) Collection(name string) (docstore.Collection, error) {
	inner, err := db.inner.Collection(name)
	if err != nil {
		return nil, err
	}

	return &collection{driver: db.driver, inner: inner}, nil
}

func (db *database) EnsureCollection(ctx context.Context, name string) error {
	if err := db.driver.enter(ctx, OpEnsureCollection); err != nil {
		return err
	}

	return db.inner.EnsureCollection(ctx, name)
}

// Session wraps the session of the decorated driver.
type Session struct {
	driver *Driver
	inner  docstore.Session
}

func (s *Session) ID() string {
	return s.inner.ID()
}

func (s *Session) StartTransaction(ctx context.Context) error {
	if err := s.driver.enter(ctx, OpStartTransaction); err != nil {
		return err
	}

	return s.inner.StartTransaction(ctx)
}

func (s *Session) CommitTransaction(ctx context.Context) error {
	if err := s.driver.enter(ctx, OpCommit); err != nil {
		return err
	}

	return s.inner.CommitTransaction(ctx)
}

func (s *Session) AbortTransaction(ctx context.Context) error {
	if err := s.driver.enter(ctx, OpAbort); err != nil {
		return err
	}

	return s.inner.AbortTransaction(ctx)
}

func (s *Session) InTransaction() bool {
	return s.inner.InTransaction()
}

func (s *Session) EndSession(ctx context.Context) {
	_ = s.driver.enter(context.WithoutCancel(ctx), OpEndSession)
	s.inner.EndSession(ctx)
}

type collection struct {
	driver *Driver
	inner  docstore.Collection
}

// unwrapSession replaces a wrapped session in ctx with the session of the decorated driver.
func unwrapSession(ctx context.Context) context.Context {
	if session, ok := docstore.SessionFromContext(ctx); ok {
		if wrapped, isWrapped := session.(*Session); isWrapped {
			return docstore.WithSession(ctx, wrapped.inner)
		}
	}

	return ctx
}

func (c *collection) Name() string {
	return c.inner.Name()
}

func (c *collection) Find(ctx context.Context, query docstore.Query) ([]docstore.Document, error) {
	if err := c.driver.enter(ctx, OpFind); err != nil {
		return nil, err
	}

	return c.inner.Find(unwrapSession(ctx), query)
}

func (c *collection) FindOne(ctx context.Context, id string) (docstore.Document, error) {
	if err := c.driver.enter(ctx, OpFindOne); err != nil {
		return docstore.Document{}, err
	}

	return c.inner.FindOne(unwrapSession(ctx), id)
}

func (c *collection) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	if err := c.driver.enter(ctx, OpCount); err != nil {
		return 0, err
	}

	return c.inner.Count(unwrapSession(ctx), filter)
}

func (c *collection) InsertOne(ctx context.Context, document docstore.Document) error {
	if err := c.driver.enter(ctx, OpInsertOne); err != nil {
		return err
	}

	return c.inner.InsertOne(unwrapSession(ctx), document)
}

func (c *collection) InsertMany(ctx context.Context, documents []docstore.Document) error {
	if err := c.driver.enter(ctx, OpInsertMany); err != nil {
		return err
	}

	return c.inner.InsertMany(unwrapSession(ctx), documents)
}

func (c *collection) ReplaceOne(ctx context.Context, document docstore.Document) (int64, error) {
	if err := c.driver.enter(ctx, OpReplaceOne); err != nil {
		return 0, err
	}

	return c.inner.ReplaceOne(unwrapSession(ctx), document)
}

func (c *collection) DeleteOne(ctx context.Context, id string) (int64, error) {
	if err := c.driver.enter(ctx, OpDeleteOne); err != nil {
		return 0, err
	}

	return c.inner.DeleteOne(unwrapSession(ctx), id)
}

func (c *collection) DeleteMany(ctx context.Context, filter docstore.Filter) (int64, error) {
	if err := c.driver.enter(ctx, OpDeleteMany); err != nil {
		return 0, err
	}

	return c.inner.DeleteMany(unwrapSession(ctx), filter)
}

func (c *collection) BulkWrite(ctx context.Context, models []docstore.WriteModel) (docstore.BulkWriteResult, error) {
	if err := c.driver.enter(ctx, OpBulkWrite); err != nil {
		return docstore.BulkWriteResult{}, err
	}

	return c.inner.BulkWrite(unwrapSession(ctx), models)
}

func (c *collection) Aggregate(ctx context.Context, query docstore.AggregateQuery) ([]docstore.AggregateRow, error) {
	if err := c.driver.enter(ctx, OpAggregate); err != nil {
		return nil, err
	}

	return c.inner.Aggregate(unwrapSession(ctx), query)
}
