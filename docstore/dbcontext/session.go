package dbcontext

import (
	"context"
	"time"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
)

// SessionState is the position of a DBContext in the session/transaction state machine.
type SessionState int

const (
	NoSession SessionState = iota
	SessionActive
	TransactionActive
)

func (s SessionState) String() string {
	switch s {
	case NoSession:
		return "no_session"
	case SessionActive:
		return "session_active"
	case TransactionActive:
		return "transaction_active"
	default:
		return "unknown"
	}
}

// SessionState reports the current state.
func (c *DBContext) SessionState() SessionState {
	session := c.Session()

	switch {
	case session == nil:
		return NoSession
	case session.InTransaction():
		return TransactionActive
	default:
		return SessionActive
	}
}

// Session returns the active session, nil if there is none.
func (c *DBContext) Session() docstore.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.session
}

// StartSession returns the active session, starting one if none exists.
func (c *DBContext) StartSession(ctx context.Context) (docstore.Session, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, docstore.ErrContextClosed
	}

	if c.session != nil {
		session := c.session
		c.mu.Unlock()

		return session, nil
	}
	c.mu.Unlock()

	session, err := c.connection.Client().StartSession(ctx)
	if err != nil {
		return nil, docstore.OperationFailed(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.session != nil {
		session.EndSession(context.WithoutCancel(ctx))

		if c.closed {
			return nil, docstore.ErrContextClosed
		}

		return c.session, nil
	}

	c.session = session

	return session, nil
}

// StartTransaction ensures a session and begins a transaction on it.
// Returns ErrTransactionInProgress if a transaction is already open.
func (c *DBContext) StartTransaction(ctx context.Context) error {
	session, err := c.StartSession(ctx)
	if err != nil {
		return err
	}

	if session.InTransaction() {
		return docstore.ErrTransactionInProgress
	}

	if err = session.StartTransaction(ctx); err != nil {
		return docstore.OperationFailed(err)
	}

	return nil
}

// CommitTransaction commits the open transaction and disposes the session.
//
// Returns ErrNoActiveSession without a session and ErrNoActiveTransaction if the session has no open transaction.
// If the commit fails, the transaction is aborted best-effort and the commit error is returned unchanged.
func (c *DBContext) CommitTransaction(ctx context.Context) error {
	session, err := c.currentSession()
	if err != nil {
		return err
	}

	if session == nil {
		return docstore.ErrNoActiveSession
	}

	defer c.disposeSession(ctx, session)

	if !session.InTransaction() {
		return docstore.ErrNoActiveTransaction
	}

	tracer, ctx := c.startCommitTracing(ctx, session)
	start := time.Now()

	if err = session.CommitTransaction(ctx); err != nil {
		duration := time.Since(start)
		c.logErrorContext(ctx, logMsgCommitFailed, err,
			logAttrSessionID, session.ID(),
			logAttrDurationMS, c.toMilliseconds(duration),
		)
		c.recordTransactionMetricsContext(ctx, transactionStatusCommitFailed)
		tracer.finishError(duration)

		c.abortBestEffort(ctx, session)

		return err
	}

	duration := time.Since(start)
	c.logOperationContext(ctx, logMsgTransactionCommitted,
		logAttrSessionID, session.ID(),
		logAttrDurationMS, c.toMilliseconds(duration),
	)
	c.recordTransactionMetricsContext(ctx, transactionStatusCommitted)
	tracer.finishSuccess(duration)

	return nil
}

// AbortTransaction aborts the open transaction, if any, and disposes the session.
//
// Abort failures are logged and swallowed: an abort usually runs as cleanup after another error,
// which must stay the one the caller sees. Without a session AbortTransaction does nothing.
func (c *DBContext) AbortTransaction(ctx context.Context) error {
	session, err := c.currentSession()
	if err != nil {
		return err
	}

	if session == nil {
		return nil
	}

	defer c.disposeSession(ctx, session)

	if session.InTransaction() {
		c.abortBestEffort(ctx, session)
		c.recordTransactionMetricsContext(ctx, transactionStatusAborted)
	}

	return nil
}

// StartSessionAsync is the asynchronous variant of StartSession.
func (c *DBContext) StartSessionAsync(ctx context.Context) *docstore.Future[docstore.Session] {
	return docstore.Go(ctx, c.StartSession)
}

// StartTransactionAsync is the asynchronous variant of StartTransaction.
func (c *DBContext) StartTransactionAsync(ctx context.Context) *docstore.Future[struct{}] {
	return asyncOf(ctx, c.StartTransaction)
}

// CommitTransactionAsync is the asynchronous variant of CommitTransaction.
func (c *DBContext) CommitTransactionAsync(ctx context.Context) *docstore.Future[struct{}] {
	return asyncOf(ctx, c.CommitTransaction)
}

// AbortTransactionAsync is the asynchronous variant of AbortTransaction.
func (c *DBContext) AbortTransactionAsync(ctx context.Context) *docstore.Future[struct{}] {
	return asyncOf(ctx, c.AbortTransaction)
}

func asyncOf(ctx context.Context, fn func(ctx context.Context) error) *docstore.Future[struct{}] {
	return docstore.Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
}

func (c *DBContext) currentSession() (docstore.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, docstore.ErrContextClosed
	}

	return c.session, nil
}

// abortBestEffort never fails; the abort error is only logged.
func (c *DBContext) abortBestEffort(ctx context.Context, session docstore.Session) {
	if err := session.AbortTransaction(context.WithoutCancel(ctx)); err != nil {
		c.logWarnContext(ctx, logMsgAbortFailedSwallowed,
			logAttrSessionID, session.ID(),
			logAttrError, err.Error(),
		)
	}
}

func (c *DBContext) disposeSession(ctx context.Context, session docstore.Session) {
	c.mu.Lock()
	if c.session == session {
		c.session = nil
	}
	c.mu.Unlock()

	session.EndSession(context.WithoutCancel(ctx))
}
