package postgresengine

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/doug-martin/goqu/v9/exp"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/postgresengine/internal/adapters"
)

var _ docstore.Collection = (*Collection)(nil)

// Collection is a table of documents: id TEXT PRIMARY KEY, document JSONB.
//
// Operations create the table on first use. When ctx carries a Session of the same Client with an open
// transaction, statements run inside that transaction.
type Collection struct {
	client *Client
	schema string
	table  string
}

func (c *Collection) Name() string {
	return c.table
}

func (c *Collection) qualified() exp.IdentifierExpression {
	return tableOf(c.schema, c.table)
}

func (c *Collection) Find(ctx context.Context, query docstore.Query) ([]docstore.Document, error) {
	sqlQuery, err := buildFindQuery(c.qualified(), query)
	if err != nil {
		return nil, err
	}

	var documents []docstore.Document

	err = c.observe(ctx, operationFind, logAttrDocumentCount, func(ctx context.Context, db adapters.Executor) (int64, error) {
		var queryErr error
		documents, queryErr = c.queryDocuments(ctx, db, sqlQuery, operationFind)

		return int64(len(documents)), queryErr
	})
	if err != nil {
		return nil, err
	}

	return documents, nil
}

func (c *Collection) FindOne(ctx context.Context, id string) (docstore.Document, error) {
	if id == "" {
		return docstore.Document{}, docstore.ErrEmptyDocumentID
	}

	sqlQuery, err := buildFindOneQuery(c.qualified(), id)
	if err != nil {
		return docstore.Document{}, err
	}

	var document docstore.Document

	err = c.observe(ctx, operationFindOne, logAttrDocumentCount, func(ctx context.Context, db adapters.Executor) (int64, error) {
		documents, queryErr := c.queryDocuments(ctx, db, sqlQuery, operationFindOne)
		if queryErr != nil {
			return 0, queryErr
		}

		if len(documents) == 0 {
			return 0, docstore.ErrDocumentNotFound
		}

		document = documents[0]

		return 1, nil
	})
	if err != nil {
		return docstore.Document{}, err
	}

	return document, nil
}

func (c *Collection) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	sqlQuery, err := buildCountQuery(c.qualified(), filter)
	if err != nil {
		return 0, err
	}

	var count int64

	err = c.observe(ctx, operationCount, logAttrDocumentCount, func(ctx context.Context, db adapters.Executor) (int64, error) {
		rows, queryErr := c.query(ctx, db, sqlQuery, operationCount)
		if queryErr != nil {
			return 0, queryErr
		}
		defer c.closeRows(ctx, rows)

		for rows.Next() {
			if scanErr := rows.Scan(&count); scanErr != nil {
				return 0, scanErr
			}
		}

		return count, rows.Err()
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

func (c *Collection) InsertOne(ctx context.Context, document docstore.Document) error {
	return c.InsertMany(ctx, []docstore.Document{document})
}

// InsertMany inserts all documents with one statement, so either all or none of them are stored.
func (c *Collection) InsertMany(ctx context.Context, documents []docstore.Document) error {
	if err := validateDocuments(documents...); err != nil {
		return err
	}

	if len(documents) == 0 {
		return nil
	}

	operation := operationInsertMany
	if len(documents) == 1 {
		operation = operationInsertOne
	}

	sqlQuery, err := buildInsertQuery(c.qualified(), documents)
	if err != nil {
		return err
	}

	return c.observe(ctx, operation, logAttrRowsAffected, func(ctx context.Context, db adapters.Executor) (int64, error) {
		return c.exec(ctx, db, sqlQuery, operation)
	})
}

func (c *Collection) ReplaceOne(ctx context.Context, document docstore.Document) (int64, error) {
	if err := validateDocuments(document); err != nil {
		return 0, err
	}

	sqlQuery, err := buildReplaceQuery(c.qualified(), document)
	if err != nil {
		return 0, err
	}

	var replaced int64

	err = c.observe(ctx, operationReplaceOne, logAttrRowsAffected, func(ctx context.Context, db adapters.Executor) (int64, error) {
		var execErr error
		replaced, execErr = c.exec(ctx, db, sqlQuery, operationReplaceOne)

		return replaced, execErr
	})

	return replaced, err
}

func (c *Collection) DeleteOne(ctx context.Context, id string) (int64, error) {
	if id == "" {
		return 0, docstore.ErrEmptyDocumentID
	}

	sqlQuery, err := buildDeleteOneQuery(c.qualified(), id)
	if err != nil {
		return 0, err
	}

	var deleted int64

	err = c.observe(ctx, operationDeleteOne, logAttrRowsAffected, func(ctx context.Context, db adapters.Executor) (int64, error) {
		var execErr error
		deleted, execErr = c.exec(ctx, db, sqlQuery, operationDeleteOne)

		return deleted, execErr
	})

	return deleted, err
}

// DeleteMany removes every document matching filter. An empty filter is rejected.
func (c *Collection) DeleteMany(ctx context.Context, filter docstore.Filter) (int64, error) {
	if filter.IsEmpty() {
		return 0, docstore.ErrEmptyFilter
	}

	sqlQuery, err := buildDeleteManyQuery(c.qualified(), filter)
	if err != nil {
		return 0, err
	}

	var deleted int64

	err = c.observe(ctx, operationDeleteMany, logAttrRowsAffected, func(ctx context.Context, db adapters.Executor) (int64, error) {
		var execErr error
		deleted, execErr = c.exec(ctx, db, sqlQuery, operationDeleteMany)

		return deleted, execErr
	})

	return deleted, err
}

// BulkWrite executes models in order and atomically: inside the session's transaction if ctx carries one,
// in a transaction of its own otherwise.
func (c *Collection) BulkWrite(ctx context.Context, models []docstore.WriteModel) (docstore.BulkWriteResult, error) {
	statements, err := c.bulkStatements(models)
	if err != nil {
		return docstore.BulkWriteResult{}, err
	}

	result := docstore.BulkWriteResult{}
	if len(statements) == 0 {
		return result, nil
	}

	err = c.observe(ctx, operationBulkWrite, logAttrRowsAffected, func(ctx context.Context, db adapters.Executor) (int64, error) {
		result = docstore.BulkWriteResult{}

		return c.inTransaction(ctx, db, func(tx adapters.Executor) (int64, error) {
			var total int64

			for i, statement := range statements {
				affected, execErr := c.exec(ctx, tx, statement, operationBulkWrite)
				if execErr != nil {
					return 0, execErr
				}

				switch models[i].Kind {
				case docstore.WriteInsert:
					result.Inserted += affected
				case docstore.WriteReplace:
					result.Replaced += affected
				case docstore.WriteDelete:
					result.Deleted += affected
				}

				total += affected
			}

			return total, nil
		})
	})
	if err != nil {
		return docstore.BulkWriteResult{}, err
	}

	return result, nil
}

func (c *Collection) bulkStatements(models []docstore.WriteModel) ([]sqlQueryString, error) {
	statements := make([]sqlQueryString, 0, len(models))

	for _, model := range models {
		var (
			statement sqlQueryString
			err       error
		)

		switch model.Kind {
		case docstore.WriteInsert:
			if err = validateDocuments(model.Document); err == nil {
				statement, err = buildInsertQuery(c.qualified(), []docstore.Document{model.Document})
			}
		case docstore.WriteReplace:
			if err = validateDocuments(model.Document); err == nil {
				statement, err = buildReplaceQuery(c.qualified(), model.Document)
			}
		case docstore.WriteDelete:
			if model.Document.ID == "" {
				return nil, docstore.ErrEmptyDocumentID
			}
			statement, err = buildDeleteOneQuery(c.qualified(), model.Document.ID)
		default:
			return nil, fmt.Errorf("%w: write kind %s", docstore.ErrUnsupportedOperation, model.Kind)
		}

		if err != nil {
			return nil, err
		}

		statements = append(statements, statement)
	}

	return statements, nil
}

// Aggregate counts the documents matching the filter per value of the GroupBy field, ordered by key.
func (c *Collection) Aggregate(ctx context.Context, query docstore.AggregateQuery) ([]docstore.AggregateRow, error) {
	if query.GroupBy == "" {
		return nil, docstore.ErrEmptyFieldName
	}

	sqlQuery, err := buildAggregateQuery(c.qualified(), query)
	if err != nil {
		return nil, err
	}

	rows := make([]docstore.AggregateRow, 0)

	err = c.observe(ctx, operationAggregate, logAttrDocumentCount, func(ctx context.Context, db adapters.Executor) (int64, error) {
		dbRows, queryErr := c.query(ctx, db, sqlQuery, operationAggregate)
		if queryErr != nil {
			return 0, queryErr
		}
		defer c.closeRows(ctx, dbRows)

		rows = rows[:0]
		for dbRows.Next() {
			row := docstore.AggregateRow{}
			if scanErr := dbRows.Scan(&row.Key, &row.Count); scanErr != nil {
				return 0, scanErr
			}

			rows = append(rows, row)
		}

		return int64(len(rows)), dbRows.Err()
	})
	if err != nil {
		return nil, err
	}

	// byte order, independent of the database collation
	slices.SortFunc(rows, func(a, b docstore.AggregateRow) int {
		return cmp.Compare(a.Key, b.Key)
	})

	return rows, nil
}

// observe ensures the table, picks the executor for ctx and reports the operation.
func (c *Collection) observe(
	ctx context.Context,
	operation, countAttr string,
	fn func(ctx context.Context, db adapters.Executor) (int64, error),
) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	session, err := transactionOf(ctx, c.client)
	if err != nil {
		return err
	}

	if err := c.client.ensureTable(ctx, c.schema, c.table); err != nil {
		return err
	}

	observer, ctx := c.client.startOperation(ctx, operation, c.table, countAttr, session != nil)

	var count int64

	run := func(db adapters.Executor) error {
		var runErr error
		count, runErr = fn(ctx, db)

		return runErr
	}

	if session != nil {
		err = session.withTx(run)
	} else {
		err = run(c.client.db)
	}

	if err != nil {
		err = mapError(err)
		observer.finishError(err)

		return err
	}

	observer.finishSuccess(count)

	return nil
}

// inTransaction runs fn on db if it already is a transaction, otherwise in a new transaction on the pool.
func (c *Collection) inTransaction(
	ctx context.Context,
	db adapters.Executor,
	fn func(tx adapters.Executor) (int64, error),
) (int64, error) {

	if _, ok := db.(adapters.DBTx); ok {
		return fn(db)
	}

	tx, err := c.client.db.Begin(ctx)
	if err != nil {
		return 0, err
	}

	count, err := fn(tx)
	if err != nil {
		if rollbackErr := tx.Rollback(context.WithoutCancel(ctx)); rollbackErr != nil {
			c.client.logWarn(ctx, logMsgRollbackFailed, logAttrError, rollbackErr.Error())
		}

		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	return count, nil
}

func (c *Collection) query(ctx context.Context, db adapters.Executor, sqlQuery, action string) (adapters.DBRows, error) {
	start := time.Now()
	rows, err := db.Query(ctx, sqlQuery)
	c.client.logQueryWithDuration(ctx, sqlQuery, action, time.Since(start))

	if err != nil {
		return nil, err
	}

	return rows, nil
}

func (c *Collection) exec(ctx context.Context, db adapters.Executor, sqlQuery, action string) (int64, error) {
	start := time.Now()
	result, err := db.Exec(ctx, sqlQuery)
	c.client.logQueryWithDuration(ctx, sqlQuery, action, time.Since(start))

	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func (c *Collection) queryDocuments(
	ctx context.Context,
	db adapters.Executor,
	sqlQuery, action string,
) ([]docstore.Document, error) {

	rows, err := c.query(ctx, db, sqlQuery, action)
	if err != nil {
		return nil, err
	}
	defer c.closeRows(ctx, rows)

	documents := make([]docstore.Document, 0)
	for rows.Next() {
		document := docstore.Document{}
		if scanErr := rows.Scan(&document.ID, &document.Body); scanErr != nil {
			return nil, scanErr
		}

		documents = append(documents, document)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return documents, nil
}

// closeRows closes database rows and logs any errors.
func (c *Collection) closeRows(ctx context.Context, rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		c.client.logWarn(ctx, logMsgCloseRowsFailed, logAttrError, closeErr.Error())
	}
}

func validateDocuments(documents ...docstore.Document) error {
	for _, document := range documents {
		if _, err := docstore.BuildDocument(document.ID, document.Body); err != nil {
			return err
		}
	}

	return nil
}
