package unitofwork

import (
	"context"
	"strings"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/dbcontext"
)

const (
	operationInsert     = "insert"
	operationInsertMany = "insert_many"
	operationUpdate     = "update"
	operationDelete     = "delete"
	operationDeleteMany = "delete_many"
)

// Repository provides CRUD and query operations for the documents of T.
//
// Writes go through DBContext.Execute: in deferred mode they return a nil placeholder and run on SaveChanges,
// in immediate mode they run at once and return their result. The results are
//
//   - Insert: the document id
//   - InsertMany: the number of inserted documents
//   - Update, Delete, DeleteMany: the number of affected documents
//
// Input is validated before anything is buffered or sent to the database.
type Repository[T Entity] struct {
	dbctx          *dbcontext.DBContext
	collectionName string
}

// NewRepository creates a generic repository bound to dbctx.
// Inside a UnitOfWork use RepositoryOf, which caches one instance per type; custom repository
// factories use NewRepository to compose generic ones.
func NewRepository[T Entity](dbctx *dbcontext.DBContext) *Repository[T] {
	return &Repository[T]{
		dbctx:          dbctx,
		collectionName: CollectionNameOf[T](),
	}
}

// CollectionName returns the name of the collection that stores T.
func (r *Repository[T]) CollectionName() string {
	return r.collectionName
}

func (r *Repository[T]) collection() (docstore.Collection, error) {
	return r.dbctx.Collection(r.collectionName)
}

// Insert adds entity. A document with the same id makes the write fail with ErrDuplicateDocument.
func (r *Repository[T]) Insert(ctx context.Context, entity T) (any, error) {
	cmd, err := r.insertCommand(entity)
	if err != nil {
		return nil, err
	}

	return r.dbctx.Execute(ctx, cmd)
}

// InsertAsync is the asynchronous variant of Insert.
func (r *Repository[T]) InsertAsync(ctx context.Context, entity T) *docstore.Future[any] {
	cmd, err := r.insertCommand(entity)
	if err != nil {
		return docstore.Resolved[any](nil, err)
	}

	return r.dbctx.ExecuteAsync(ctx, cmd)
}

func (r *Repository[T]) insertCommand(entity T) (dbcontext.Command, error) {
	document, err := encode(entity)
	if err != nil {
		return dbcontext.Command{}, err
	}

	collection, err := r.collection()
	if err != nil {
		return dbcontext.Command{}, err
	}

	return dbcontext.SyncCommand(func(ctx context.Context) (any, error) {
		if err := collection.InsertOne(ctx, document); err != nil {
			return nil, err
		}

		return document.ID, nil
	}).Named(operationInsert), nil
}

// InsertMany adds all entities in one atomic write.
func (r *Repository[T]) InsertMany(ctx context.Context, entities []T) (any, error) {
	documents := make([]docstore.Document, 0, len(entities))
	for _, entity := range entities {
		document, err := encode(entity)
		if err != nil {
			return nil, err
		}

		documents = append(documents, document)
	}

	collection, err := r.collection()
	if err != nil {
		return nil, err
	}

	return r.dbctx.Execute(ctx, dbcontext.SyncCommand(func(ctx context.Context) (any, error) {
		if len(documents) == 0 {
			return int64(0), nil
		}

		if err := collection.InsertMany(ctx, documents); err != nil {
			return nil, err
		}

		return int64(len(documents)), nil
	}).Named(operationInsertMany))
}

// Update replaces the stored document of entity. A missing document makes the write fail with ErrDocumentNotFound.
func (r *Repository[T]) Update(ctx context.Context, entity T) (any, error) {
	cmd, err := r.updateCommand(entity)
	if err != nil {
		return nil, err
	}

	return r.dbctx.Execute(ctx, cmd)
}

// UpdateAsync is the asynchronous variant of Update.
func (r *Repository[T]) UpdateAsync(ctx context.Context, entity T) *docstore.Future[any] {
	cmd, err := r.updateCommand(entity)
	if err != nil {
		return docstore.Resolved[any](nil, err)
	}

	return r.dbctx.ExecuteAsync(ctx, cmd)
}

func (r *Repository[T]) updateCommand(entity T) (dbcontext.Command, error) {
	document, err := encode(entity)
	if err != nil {
		return dbcontext.Command{}, err
	}

	collection, err := r.collection()
	if err != nil {
		return dbcontext.Command{}, err
	}

	return dbcontext.SyncCommand(func(ctx context.Context) (any, error) {
		replaced, err := collection.ReplaceOne(ctx, document)
		if err != nil {
			return nil, err
		}

		if replaced == 0 {
			return nil, docstore.ErrDocumentNotFound
		}

		return replaced, nil
	}).Named(operationUpdate), nil
}

// Delete removes the document with the given id. Deleting a missing document is not an error.
func (r *Repository[T]) Delete(ctx context.Context, id string) (any, error) {
	cmd, err := r.deleteCommand(id)
	if err != nil {
		return nil, err
	}

	return r.dbctx.Execute(ctx, cmd)
}

// DeleteAsync is the asynchronous variant of Delete.
func (r *Repository[T]) DeleteAsync(ctx context.Context, id string) *docstore.Future[any] {
	cmd, err := r.deleteCommand(id)
	if err != nil {
		return docstore.Resolved[any](nil, err)
	}

	return r.dbctx.ExecuteAsync(ctx, cmd)
}

func (r *Repository[T]) deleteCommand(id string) (dbcontext.Command, error) {
	if strings.TrimSpace(id) == "" {
		return dbcontext.Command{}, docstore.ErrEmptyDocumentID
	}

	collection, err := r.collection()
	if err != nil {
		return dbcontext.Command{}, err
	}

	return dbcontext.SyncCommand(func(ctx context.Context) (any, error) {
		deleted, err := collection.DeleteOne(ctx, id)
		if err != nil {
			return nil, err
		}

		return deleted, nil
	}).Named(operationDelete), nil
}

// DeleteMany removes all documents matching filter. An empty filter is rejected with ErrEmptyFilter.
func (r *Repository[T]) DeleteMany(ctx context.Context, filter docstore.Filter) (any, error) {
	if filter.IsEmpty() {
		return nil, docstore.ErrEmptyFilter
	}

	collection, err := r.collection()
	if err != nil {
		return nil, err
	}

	return r.dbctx.Execute(ctx, dbcontext.SyncCommand(func(ctx context.Context) (any, error) {
		deleted, err := collection.DeleteMany(ctx, filter)
		if err != nil {
			return nil, err
		}

		return deleted, nil
	}).Named(operationDeleteMany))
}

// FindByID returns the entity with the given id or ErrDocumentNotFound.
func (r *Repository[T]) FindByID(ctx context.Context, id string) (T, error) {
	var zero T

	if strings.TrimSpace(id) == "" {
		return zero, docstore.ErrEmptyDocumentID
	}

	collection, err := r.collection()
	if err != nil {
		return zero, err
	}

	document, err := collection.FindOne(ctx, id)
	if err != nil {
		return zero, err
	}

	return decode[T](document)
}

// Find returns the entities matching query.
func (r *Repository[T]) Find(ctx context.Context, query docstore.Query) ([]T, error) {
	collection, err := r.collection()
	if err != nil {
		return nil, err
	}

	documents, err := collection.Find(ctx, query)
	if err != nil {
		return nil, err
	}

	entities := make([]T, 0, len(documents))
	for _, document := range documents {
		entity, err := decode[T](document)
		if err != nil {
			return nil, err
		}

		entities = append(entities, entity)
	}

	return entities, nil
}

// FindOne returns the first entity matching filter, ordered by id, or ErrDocumentNotFound.
func (r *Repository[T]) FindOne(ctx context.Context, filter docstore.Filter) (T, error) {
	var zero T

	entities, err := r.Find(ctx, docstore.NewQuery(filter).Top(1))
	if err != nil {
		return zero, err
	}

	if len(entities) == 0 {
		return zero, docstore.ErrDocumentNotFound
	}

	return entities[0], nil
}

// Count returns the number of documents matching filter.
func (r *Repository[T]) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	collection, err := r.collection()
	if err != nil {
		return 0, err
	}

	return collection.Count(ctx, filter)
}

// Exists reports whether a document with the given id exists.
func (r *Repository[T]) Exists(ctx context.Context, id string) (bool, error) {
	if strings.TrimSpace(id) == "" {
		return false, docstore.ErrEmptyDocumentID
	}

	count, err := r.Count(ctx, docstore.BuildFilter().MatchingIDs(id))
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// CountBy groups the documents matching filter by the top-level field and counts each group.
func (r *Repository[T]) CountBy(
	ctx context.Context,
	field string,
	filter docstore.Filter,
) ([]docstore.AggregateRow, error) {

	if strings.TrimSpace(field) == "" {
		return nil, docstore.ErrEmptyFieldName
	}

	collection, err := r.collection()
	if err != nil {
		return nil, err
	}

	return collection.Aggregate(ctx, docstore.AggregateQuery{Filter: filter, GroupBy: field})
}
