package postgresengine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/postgresengine/internal/adapters"
)

var _ docstore.Session = (*Session)(nil)

// Session owns at most one database transaction at a time.
//
// Statements of concurrent operations on the same session are serialized, since a transaction is bound
// to a single connection. After a failed commit the transaction counts as open until it is aborted.
type Session struct {
	id     string
	client *Client

	txMu sync.Mutex // serializes statements, begin, commit and rollback

	mu    sync.Mutex // guards tx and ended
	tx    adapters.DBTx
	ended bool
}

func newSession(client *Client) *Session {
	return &Session{id: uuid.NewString(), client: client}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) StartTransaction(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := s.checkState(false); err != nil {
		return err
	}

	if err := s.client.checkOpen(); err != nil {
		return err
	}

	start := time.Now()
	tx, err := s.client.db.Begin(ctx)
	s.client.logQueryWithDuration(ctx, "BEGIN", operationBegin, time.Since(start))

	if err != nil {
		return mapError(err)
	}

	s.mu.Lock()
	s.tx = tx
	s.mu.Unlock()

	return nil
}

// CommitTransaction commits the open transaction. On failure the transaction stays registered,
// so a following AbortTransaction releases it.
func (s *Session) CommitTransaction(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := s.checkState(true); err != nil {
		return err
	}

	s.mu.Lock()
	tx := s.tx
	s.mu.Unlock()

	start := time.Now()
	err := tx.Commit(ctx)
	s.client.logQueryWithDuration(ctx, "COMMIT", operationCommit, time.Since(start))

	if err != nil {
		return mapError(err)
	}

	s.mu.Lock()
	s.tx = nil
	s.mu.Unlock()

	return nil
}

func (s *Session) AbortTransaction(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := s.checkState(true); err != nil {
		return err
	}

	s.mu.Lock()
	tx := s.tx
	s.tx = nil
	s.mu.Unlock()

	return s.rollback(ctx, tx)
}

func (s *Session) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tx != nil && !s.ended
}

// EndSession rolls back an open transaction. Rollback failures are logged.
func (s *Session) EndSession(ctx context.Context) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	tx := s.tx
	s.tx = nil
	s.ended = true
	s.mu.Unlock()

	if tx == nil {
		return
	}

	if err := s.rollback(context.WithoutCancel(ctx), tx); err != nil {
		s.client.logWarn(ctx, logMsgRollbackFailed, logAttrSessionID, s.id, logAttrError, err.Error())
	}
}

func (s *Session) rollback(ctx context.Context, tx adapters.DBTx) error {
	start := time.Now()
	err := tx.Rollback(ctx)
	s.client.logQueryWithDuration(ctx, "ROLLBACK", operationRollback, time.Since(start))

	return mapError(err)
}

func (s *Session) checkState(wantTransaction bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.ended:
		return docstore.ErrSessionEnded
	case wantTransaction && s.tx == nil:
		return docstore.ErrNoActiveTransaction
	case !wantTransaction && s.tx != nil:
		return docstore.ErrTransactionInProgress
	}

	return nil
}

// withTx runs fn on the open transaction. If the transaction ended after the operation looked it up,
// fn runs on the pool.
func (s *Session) withTx(fn func(db adapters.Executor) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	tx, ended := s.tx, s.ended
	s.mu.Unlock()

	if ended {
		return docstore.ErrSessionEnded
	}

	if tx == nil {
		return fn(s.client.db)
	}

	return fn(tx)
}

// transactionOf returns the postgres session carried by ctx if it belongs to client and has an open
// transaction. Sessions of other clients are ignored; a session that has already ended is an error.
func transactionOf(ctx context.Context, client *Client) (*Session, error) {
	session, ok := docstore.SessionFromContext(ctx)
	if !ok {
		return nil, nil
	}

	pgSession, ok := session.(*Session)
	if !ok || pgSession.client != client {
		return nil, nil
	}

	pgSession.mu.Lock()
	defer pgSession.mu.Unlock()

	if pgSession.ended {
		return nil, docstore.ErrSessionEnded
	}

	if pgSession.tx == nil {
		return nil, nil
	}

	return pgSession, nil
}
