package throttle

import (
	"context"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
)

// Collection wraps a docstore.Collection so that every operation holds a permit of the shared Semaphore.
type Collection struct {
	inner docstore.Collection
	sem   Semaphore
}

// NewCollection wraps inner with admission control. A nil sem selects the no-op Semaphore.
func NewCollection(inner docstore.Collection, sem Semaphore) *Collection {
	if sem == nil {
		sem = Noop()
	}

	return &Collection{inner: inner, sem: sem}
}

// Unwrap returns the wrapped collection.
func (c *Collection) Unwrap() docstore.Collection {
	return c.inner
}

func (c *Collection) Name() string {
	return c.inner.Name()
}

func (c *Collection) Find(ctx context.Context, query docstore.Query) ([]docstore.Document, error) {
	return DoValue(ctx, c.sem, func(ctx context.Context) ([]docstore.Document, error) {
		return c.inner.Find(ctx, query)
	})
}

func (c *Collection) FindOne(ctx context.Context, id string) (docstore.Document, error) {
	return DoValue(ctx, c.sem, func(ctx context.Context) (docstore.Document, error) {
		return c.inner.FindOne(ctx, id)
	})
}

func (c *Collection) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	return DoValue(ctx, c.sem, func(ctx context.Context) (int64, error) {
		return c.inner.Count(ctx, filter)
	})
}

func (c *Collection) InsertOne(ctx context.Context, document docstore.Document) error {
	return Do(ctx, c.sem, func(ctx context.Context) error {
		return c.inner.InsertOne(ctx, document)
	})
}

func (c *Collection) InsertMany(ctx context.Context, documents []docstore.Document) error {
	return Do(ctx, c.sem, func(ctx context.Context) error {
		return c.inner.InsertMany(ctx, documents)
	})
}

func (c *Collection) ReplaceOne(ctx context.Context, document docstore.Document) (int64, error) {
	return DoValue(ctx, c.sem, func(ctx context.Context) (int64, error) {
		return c.inner.ReplaceOne(ctx, document)
	})
}

func (c *Collection) DeleteOne(ctx context.Context, id string) (int64, error) {
	return DoValue(ctx, c.sem, func(ctx context.Context) (int64, error) {
		return c.inner.DeleteOne(ctx, id)
	})
}

func (c *Collection) DeleteMany(ctx context.Context, filter docstore.Filter) (int64, error) {
	return DoValue(ctx, c.sem, func(ctx context.Context) (int64, error) {
		return c.inner.DeleteMany(ctx, filter)
	})
}

func (c *Collection) BulkWrite(ctx context.Context, models []docstore.WriteModel) (docstore.BulkWriteResult, error) {
	return DoValue(ctx, c.sem, func(ctx context.Context) (docstore.BulkWriteResult, error) {
		return c.inner.BulkWrite(ctx, models)
	})
}

func (c *Collection) Aggregate(ctx context.Context, query docstore.AggregateQuery) ([]docstore.AggregateRow, error) {
	return DoValue(ctx, c.sem, func(ctx context.Context) ([]docstore.AggregateRow, error) {
		return c.inner.Aggregate(ctx, query)
	})
}

var _ docstore.Collection = (*Collection)(nil)
