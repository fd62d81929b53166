package dbcontext

import (
	"context"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/throttle"
)

var _ docstore.Collection = (*sessionCollection)(nil)

// sessionCollection binds every call to the session that is active in its DBContext at call time.
type sessionCollection struct {
	owner *DBContext
	inner *throttle.Collection
}

func (s *sessionCollection) Name() string {
	return s.inner.Name()
}

func (s *sessionCollection) Find(ctx context.Context, query docstore.Query) ([]docstore.Document, error) {
	if err := s.owner.checkOpen(); err != nil {
		return nil, err
	}

	return s.inner.Find(s.owner.bind(ctx), query)
}

func (s *sessionCollection) FindOne(ctx context.Context, id string) (docstore.Document, error) {
	if err := s.owner.checkOpen(); err != nil {
		return docstore.Document{}, err
	}

	return s.inner.FindOne(s.owner.bind(ctx), id)
}

func (s *sessionCollection) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	if err := s.owner.checkOpen(); err != nil {
		return 0, err
	}

	return s.inner.Count(s.owner.bind(ctx), filter)
}

func (s *sessionCollection) InsertOne(ctx context.Context, document docstore.Document) error {
	if err := s.owner.checkOpen(); err != nil {
		return err
	}

	return s.inner.InsertOne(s.owner.bind(ctx), document)
}

func (s *sessionCollection) InsertMany(ctx context.Context, documents []docstore.Document) error {
	if err := s.owner.checkOpen(); err != nil {
		return err
	}

	return s.inner.InsertMany(s.owner.bind(ctx), documents)
}

func (s *sessionCollection) ReplaceOne(ctx context.Context, document docstore.Document) (int64, error) {
	if err := s.owner.checkOpen(); err != nil {
		return 0, err
	}

	return s.inner.ReplaceOne(s.owner.bind(ctx), document)
}

func (s *sessionCollection) DeleteOne(ctx context.Context, id string) (int64, error) {
	if err := s.owner.checkOpen(); err != nil {
		return 0, err
	}

	return s.inner.DeleteOne(s.owner.bind(ctx), id)
}

func (s *sessionCollection) DeleteMany(ctx context.Context, filter docstore.Filter) (int64, error) {
	if err := s.owner.checkOpen(); err != nil {
		return 0, err
	}

	return s.inner.DeleteMany(s.owner.bind(ctx), filter)
}

func (s *sessionCollection) BulkWrite(
	ctx context.Context,
	models []docstore.WriteModel,
) (docstore.BulkWriteResult, error) {

	if err := s.owner.checkOpen(); err != nil {
		return docstore.BulkWriteResult{}, err
	}

	return s.inner.BulkWrite(s.owner.bind(ctx), models)
}

func (s *sessionCollection) Aggregate(
	ctx context.Context,
	query docstore.AggregateQuery,
) ([]docstore.AggregateRow, error) {

	if err := s.owner.checkOpen(); err != nil {
		return nil, err
	}

	return s.inner.Aggregate(s.owner.bind(ctx), query)
}
