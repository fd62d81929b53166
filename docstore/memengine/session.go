package memengine

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
)

var _ docstore.Session = (*Session)(nil)

// Session buffers the writes of its transaction and applies them atomically on commit.
type Session struct {
	id            string
	client        *Client
	mu            sync.Mutex
	inTransaction bool
	ended         bool
	pending       []writeOp
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

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.ended:
		return docstore.ErrSessionEnded
	case s.inTransaction:
		return docstore.ErrTransactionInProgress
	}

	s.inTransaction = true
	s.pending = nil

	return nil
}

// CommitTransaction applies the pending writes. On failure none of them is applied and the
// transaction stays open, so the caller can abort it.
func (s *Session) CommitTransaction(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkTransaction(); err != nil {
		return err
	}

	if err := s.client.checkOpen(); err != nil {
		return err
	}

	if _, err := s.client.store.apply(s.pending); err != nil {
		return err
	}

	s.inTransaction = false
	s.pending = nil

	return nil
}

func (s *Session) AbortTransaction(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkTransaction(); err != nil {
		return err
	}

	s.inTransaction = false
	s.pending = nil

	return nil
}

func (s *Session) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTransaction && !s.ended
}

// EndSession discards an open transaction.
func (s *Session) EndSession(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ended = true
	s.inTransaction = false
	s.pending = nil
}

func (s *Session) checkTransaction() error {
	switch {
	case s.ended:
		return docstore.ErrSessionEnded
	case !s.inTransaction:
		return docstore.ErrNoActiveTransaction
	}

	return nil
}

// view returns the committed documents of target overlaid with the session's pending writes.
func (s *Session) view(target collectionKey) (documents, error) {
	docs := s.client.store.snapshot(target)
	if docs == nil {
		docs = make(documents)
	}

	s.mu.Lock()
	pending := slices.Clone(s.pending)
	s.mu.Unlock()

	discard := docstore.BulkWriteResult{}
	for _, op := range pending {
		if op.target != target {
			continue
		}

		if err := applyOne(docs, op, &discard); err != nil {
			return nil, err
		}
	}

	return docs, nil
}

// stage validates ops against the session view and appends them to the transaction.
func (s *Session) stage(target collectionKey, ops []writeOp) (docstore.BulkWriteResult, error) {
	docs, err := s.view(target)
	if err != nil {
		return docstore.BulkWriteResult{}, err
	}

	result := docstore.BulkWriteResult{}
	for _, op := range ops {
		if err := applyOne(docs, op, &result); err != nil {
			return docstore.BulkWriteResult{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkTransaction(); err != nil {
		return docstore.BulkWriteResult{}, err
	}

	s.pending = append(s.pending, ops...)

	return result, nil
}

// transactionOf returns the memengine session carried by ctx if it belongs to client and has an open transaction.
// A session that has already ended is reported as an error.
func transactionOf(ctx context.Context, client *Client) (*Session, error) {
	session, ok := docstore.SessionFromContext(ctx)
	if !ok {
		return nil, nil
	}

	memSession, ok := session.(*Session)
	if !ok || memSession.client != client {
		return nil, nil
	}

	memSession.mu.Lock()
	defer memSession.mu.Unlock()

	if memSession.ended {
		return nil, docstore.ErrSessionEnded
	}

	if !memSession.inTransaction {
		return nil, nil
	}

	return memSession, nil
}
