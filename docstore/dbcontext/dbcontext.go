package dbcontext

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/registry"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/throttle"
)

// DBContext is the unit-of-work scope over one Connection.
type DBContext struct {
	connection  *registry.Connection
	collections *xsync.MapOf[string, *sessionCollection]

	mu      sync.Mutex
	pending []Command
	session docstore.Session
	closed  bool

	logger           docstore.Logger
	contextualLogger docstore.ContextualLogger
	metricsCollector docstore.MetricsCollector
	tracingCollector docstore.TracingCollector
}

// New resolves the Connection of the request through manager and creates a DBContext over it.
func New(
	ctx context.Context,
	manager *registry.ResourceManager,
	request registry.ConnectionRequest,
	options ...Option,
) (*DBContext, error) {

	if manager == nil {
		return nil, docstore.ErrNilResourceManager
	}

	connection, err := manager.Connection(ctx, request)
	if err != nil {
		return nil, err
	}

	return NewFromConnection(connection, options...)
}

// NewFromConnection creates a DBContext over an already resolved Connection.
func NewFromConnection(connection *registry.Connection, options ...Option) (*DBContext, error) {
	if connection == nil {
		return nil, docstore.ErrNilConnection
	}

	c := &DBContext{
		connection:  connection,
		collections: xsync.NewMapOf[string, *sessionCollection](),
	}

	for _, option := range options {
		if err := option(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *DBContext) Connection() *registry.Connection {
	return c.connection
}

func (c *DBContext) Options() *docstore.ContextOptions {
	return c.connection.Options()
}

func (c *DBContext) Database() docstore.Database {
	return c.connection.Database()
}

func (c *DBContext) Semaphore() throttle.Semaphore {
	return c.connection.Semaphore()
}

// Deferred reports whether writes are buffered until SaveChanges.
func (c *DBContext) Deferred() bool {
	return c.connection.Options().AcceptAllChangesOnSave()
}

// Collection returns the named collection, throttled by the cluster semaphore and bound to the
// session that is active when each operation is called.
func (c *DBContext) Collection(name string) (docstore.Collection, error) {
	if strings.TrimSpace(name) == "" {
		return nil, docstore.ErrEmptyCollectionName
	}

	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	if collection, ok := c.collections.Load(name); ok {
		return collection, nil
	}

	inner, err := c.connection.Database().Collection(name)
	if err != nil {
		return nil, docstore.OperationFailed(err)
	}

	collection, _ := c.collections.LoadOrStore(name, &sessionCollection{
		owner: c,
		inner: throttle.NewCollection(inner, c.connection.Semaphore()),
	})

	return collection, nil
}

// EnsureCollection creates the named collection if it does not exist yet.
func (c *DBContext) EnsureCollection(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return docstore.ErrEmptyCollectionName
	}

	if err := c.checkOpen(); err != nil {
		return err
	}

	err := throttle.Do(ctx, c.connection.Semaphore(), func(ctx context.Context) error {
		return c.connection.Database().EnsureCollection(ctx, name)
	})

	return docstore.OperationFailed(err)
}

// Execute runs cmd according to the write-execution policy.
// In deferred mode cmd is enqueued and Execute returns a nil placeholder, in immediate mode cmd runs now.
func (c *DBContext) Execute(ctx context.Context, cmd Command) (any, error) {
	if c.Deferred() {
		return nil, c.AddCommand(cmd)
	}

	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	return c.runCommand(ctx, cmd, modeImmediate)
}

// ExecuteAsync is the asynchronous variant of Execute.
// In deferred mode the returned Future is already resolved with the nil placeholder.
func (c *DBContext) ExecuteAsync(ctx context.Context, cmd Command) *docstore.Future[any] {
	if c.Deferred() {
		return docstore.Resolved[any](nil, c.AddCommand(cmd))
	}

	if err := c.checkOpen(); err != nil {
		return docstore.Resolved[any](nil, err)
	}

	return docstore.Go(ctx, func(ctx context.Context) (any, error) {
		return c.runCommand(ctx, cmd, modeImmediate)
	})
}

// AddCommand appends cmd to the buffer drained by SaveChanges.
// Returns ErrNotDeferred in immediate mode, where nothing is buffered; use Execute there.
func (c *DBContext) AddCommand(cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return docstore.ErrContextClosed
	}

	if !c.connection.Options().AcceptAllChangesOnSave() {
		return docstore.ErrNotDeferred
	}

	c.pending = append(c.pending, cmd)

	return nil
}

// HasChanges reports whether the buffer holds commands.
func (c *DBContext) HasChanges() bool {
	return c.PendingChanges() > 0
}

// PendingChanges returns the number of buffered commands.
func (c *DBContext) PendingChanges() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// DiscardChanges clears the buffer without executing it.
func (c *DBContext) DiscardChanges() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = nil
}

// SaveChanges drains the buffer in enqueue order and returns the result of each command.
//
// In immediate mode, or with an empty buffer, it returns an empty result without touching the database.
// The buffer is cleared before the first command runs. The first failing command aborts the remaining ones
// and its error is returned unchanged; none of the drained commands can be run again.
func (c *DBContext) SaveChanges(ctx context.Context) ([]any, error) {
	commands, err := c.takePending()
	if err != nil {
		return nil, err
	}

	return c.drain(ctx, commands)
}

// SaveChangesAsync is the asynchronous variant of SaveChanges.
// The buffer is taken before SaveChangesAsync returns, so commands added afterward belong to the next batch.
func (c *DBContext) SaveChangesAsync(ctx context.Context) *docstore.Future[[]any] {
	commands, err := c.takePending()
	if err != nil {
		return docstore.Resolved[[]any](nil, err)
	}

	if len(commands) == 0 {
		return docstore.Resolved([]any{}, nil)
	}

	return docstore.Go(ctx, func(ctx context.Context) ([]any, error) {
		return c.drain(ctx, commands)
	})
}

func (c *DBContext) takePending() ([]Command, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, docstore.ErrContextClosed
	}

	if !c.connection.Options().AcceptAllChangesOnSave() {
		return nil, nil
	}

	commands := c.pending
	c.pending = nil

	return commands, nil
}

func (c *DBContext) drain(ctx context.Context, commands []Command) ([]any, error) {
	if len(commands) == 0 {
		return []any{}, nil
	}

	tracer, ctx := c.startSaveChangesTracing(ctx, len(commands))
	metrics := c.startSaveChangesMetrics(ctx, len(commands))
	start := time.Now()

	results := make([]any, 0, len(commands))
	for i, cmd := range commands {
		result, err := c.runCommand(ctx, cmd, modeDeferred)
		if err != nil {
			duration := time.Since(start)
			c.logErrorContext(ctx, logMsgSaveChangesFailed, err,
				logAttrCommandCount, len(commands),
				logAttrFailedIndex, i,
				logAttrOperation, cmd.Operation(),
				logAttrDurationMS, c.toMilliseconds(duration),
			)
			metrics.recordError(duration)
			tracer.finishError(cmd.Operation(), i, duration)

			return nil, err
		}

		results = append(results, result)
	}

	duration := time.Since(start)
	c.logOperationContext(ctx, logMsgSaveChangesCompleted,
		logAttrCommandCount, len(commands),
		logAttrDurationMS, c.toMilliseconds(duration),
	)
	metrics.recordSuccess(duration)
	tracer.finishSuccess(len(commands), duration)

	return results, nil
}

func (c *DBContext) runCommand(ctx context.Context, cmd Command, mode string) (any, error) {
	start := time.Now()
	result, err := cmd.run(c.bind(ctx))
	duration := time.Since(start)

	status := docstore.StatusSuccess
	if err != nil {
		status = docstore.StatusError
	}

	c.logCommandContext(ctx, cmd.Operation(), mode, status, duration)
	c.recordCommandMetricsContext(ctx, cmd.Operation(), mode, status)

	return result, err
}

// bind returns ctx carrying the active session, if any.
func (c *DBContext) bind(ctx context.Context) context.Context {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	return docstore.WithSession(ctx, session)
}

func (c *DBContext) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return docstore.ErrContextClosed
	}

	return nil
}

// Close disposes a live session, aborting its open transaction best-effort, and discards the buffer.
// Close is idempotent; any further use of the DBContext fails with ErrContextClosed.
func (c *DBContext) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	session := c.session
	c.session = nil
	discarded := len(c.pending)
	c.pending = nil
	c.mu.Unlock()

	if session != nil {
		if session.InTransaction() {
			c.abortBestEffort(ctx, session)
			c.recordTransactionMetricsContext(ctx, transactionStatusAborted)
		}

		session.EndSession(context.WithoutCancel(ctx))
	}

	if discarded > 0 {
		c.logWarnContext(ctx, logMsgPendingChangesDiscarded, logAttrCommandCount, discarded)
	}

	return nil
}
