package memengine

import (
	"cmp"
	"context"
	"slices"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
)

var _ docstore.Collection = (*Collection)(nil)

// Collection is a handle on one in-memory collection.
type Collection struct {
	client *Client
	target collectionKey
}

func (c *Collection) Name() string {
	return c.target.collection
}

func (c *Collection) Find(ctx context.Context, query docstore.Query) ([]docstore.Document, error) {
	docs, err := c.matching(ctx, query.Filter)
	if err != nil {
		return nil, err
	}

	sortDocuments(docs, query.Sort)
	docs = page(docs, query.Skip, query.Limit)

	result := make([]docstore.Document, 0, len(docs))
	for _, doc := range docs {
		body, projectErr := project(doc, query.Projection)
		if projectErr != nil {
			return nil, docstore.OperationFailed(projectErr)
		}

		result = append(result, docstore.Document{ID: doc.id, Body: body})
	}

	return result, nil
}

func (c *Collection) FindOne(ctx context.Context, id string) (docstore.Document, error) {
	if id == "" {
		return docstore.Document{}, docstore.ErrEmptyDocumentID
	}

	docs, err := c.documents(ctx)
	if err != nil {
		return docstore.Document{}, err
	}

	body, ok := docs[id]
	if !ok {
		return docstore.Document{}, docstore.ErrDocumentNotFound
	}

	return docstore.Document{ID: id, Body: slices.Clone(body)}, nil
}

func (c *Collection) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	docs, err := c.matching(ctx, filter)
	if err != nil {
		return 0, err
	}

	return int64(len(docs)), nil
}

func (c *Collection) InsertOne(ctx context.Context, document docstore.Document) error {
	_, err := c.write(ctx, []writeOp{c.op(docstore.WriteInsert, document)}, document)

	return err
}

func (c *Collection) InsertMany(ctx context.Context, documents []docstore.Document) error {
	ops := make([]writeOp, 0, len(documents))
	for _, document := range documents {
		ops = append(ops, c.op(docstore.WriteInsert, document))
	}

	_, err := c.write(ctx, ops, documents...)

	return err
}

func (c *Collection) ReplaceOne(ctx context.Context, document docstore.Document) (int64, error) {
	result, err := c.write(ctx, []writeOp{c.op(docstore.WriteReplace, document)}, document)

	return result.Replaced, err
}

func (c *Collection) DeleteOne(ctx context.Context, id string) (int64, error) {
	if id == "" {
		return 0, docstore.ErrEmptyDocumentID
	}

	result, err := c.write(ctx, []writeOp{c.op(docstore.WriteDelete, docstore.Document{ID: id})})

	return result.Deleted, err
}

// DeleteMany removes every document matching filter. An empty filter is rejected.
func (c *Collection) DeleteMany(ctx context.Context, filter docstore.Filter) (int64, error) {
	if filter.IsEmpty() {
		return 0, docstore.ErrEmptyFilter
	}

	op := writeOp{target: c.target, model: docstore.WriteModel{Kind: docstore.WriteDelete}, filter: &filter}
	result, err := c.write(ctx, []writeOp{op})

	return result.Deleted, err
}

// BulkWrite executes models in order and atomically.
func (c *Collection) BulkWrite(ctx context.Context, models []docstore.WriteModel) (docstore.BulkWriteResult, error) {
	ops := make([]writeOp, 0, len(models))
	toValidate := make([]docstore.Document, 0, len(models))

	for _, model := range models {
		ops = append(ops, c.op(model.Kind, model.Document))

		if model.Kind == docstore.WriteDelete {
			if model.Document.ID == "" {
				return docstore.BulkWriteResult{}, docstore.ErrEmptyDocumentID
			}
			continue
		}

		toValidate = append(toValidate, model.Document)
	}

	return c.write(ctx, ops, toValidate...)
}

func (c *Collection) Aggregate(ctx context.Context, query docstore.AggregateQuery) ([]docstore.AggregateRow, error) {
	if query.GroupBy == "" {
		return nil, docstore.ErrEmptyFieldName
	}

	docs, err := c.matching(ctx, query.Filter)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64)
	for _, doc := range docs {
		counts[groupKey(doc, query.GroupBy)]++
	}

	rows := make([]docstore.AggregateRow, 0, len(counts))
	for key, count := range counts {
		rows = append(rows, docstore.AggregateRow{Key: key, Count: count})
	}

	slices.SortFunc(rows, func(a, b docstore.AggregateRow) int {
		return cmp.Compare(a.Key, b.Key)
	})

	return rows, nil
}

func (c *Collection) op(kind docstore.WriteKind, document docstore.Document) writeOp {
	return writeOp{target: c.target, model: docstore.WriteModel{Kind: kind, Document: document}}
}

// write validates the documents, then applies ops directly or stages them in the transaction carried by ctx.
func (c *Collection) write(ctx context.Context, ops []writeOp, toValidate ...docstore.Document) (docstore.BulkWriteResult, error) {
	if err := ctx.Err(); err != nil {
		return docstore.BulkWriteResult{}, err
	}

	if err := c.client.checkOpen(); err != nil {
		return docstore.BulkWriteResult{}, err
	}

	for _, document := range toValidate {
		if _, err := docstore.BuildDocument(document.ID, document.Body); err != nil {
			return docstore.BulkWriteResult{}, err
		}
	}

	session, err := transactionOf(ctx, c.client)
	if err != nil {
		return docstore.BulkWriteResult{}, err
	}

	if session != nil {
		return session.stage(c.target, ops)
	}

	return c.client.store.apply(ops)
}

func (c *Collection) documents(ctx context.Context) (documents, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := c.client.checkOpen(); err != nil {
		return nil, err
	}

	session, err := transactionOf(ctx, c.client)
	if err != nil {
		return nil, err
	}

	if session != nil {
		return session.view(c.target)
	}

	docs := c.client.store.snapshot(c.target)
	if docs == nil {
		docs = make(documents)
	}

	return docs, nil
}

func (c *Collection) matching(ctx context.Context, filter docstore.Filter) ([]decodedDocument, error) {
	docs, err := c.documents(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]decodedDocument, 0, len(docs))
	for id, body := range docs {
		decoded, decodeErr := decode(id, body)
		if decodeErr != nil {
			return nil, decodeErr
		}

		if matchesFilter(decoded, filter) {
			result = append(result, decoded)
		}
	}

	slices.SortFunc(result, func(a, b decodedDocument) int {
		return cmp.Compare(a.id, b.id)
	})

	return result, nil
}
