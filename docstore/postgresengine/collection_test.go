package postgresengine

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/memengine"
	"github.com/AntonStoeckl/docstore-uow-go/testutil/observability/testdoubles"
)

type fakeEnvironment struct {
	adapter *fakeAdapter
	client  *Client
	books   docstore.Collection
}

func newFakeEnvironment(t *testing.T, options ...Option) fakeEnvironment {
	t.Helper()

	driver, err := NewDriver(options...)
	require.NoError(t, err)

	adapter := newFakeAdapter()
	client := driver.NewClient(adapter)

	database, err := client.Database("Library")
	require.NoError(t, err)

	books, err := database.Collection("books")
	require.NoError(t, err)

	return fakeEnvironment{adapter: adapter, client: client, books: books}
}

func testDocument(id, body string) docstore.Document {
	return docstore.Document{ID: id, Body: []byte(body)}
}

func Test_Client_Database_LowerCasesTheSchema_AndValidates(t *testing.T) {
	// arrange
	env := newFakeEnvironment(t)

	// act
	database, err := env.client.Database("  Library ")
	_, errEmpty := env.client.Database(" ")

	// assert
	require.NoError(t, err)
	assert.Equal(t, "library", database.Name())
	assert.ErrorIs(t, errEmpty, docstore.ErrEmptyDatabaseName)

	_, errCollection := database.Collection("")
	assert.ErrorIs(t, errCollection, docstore.ErrEmptyCollectionName)
}

func Test_Collection_FirstUse_CreatesTheTableOncePerClient(t *testing.T) {
	// arrange
	ctx := context.Background()
	env := newFakeEnvironment(t)
	database, err := env.client.Database("library")
	require.NoError(t, err)
	sameTable, err := database.Collection("books")
	require.NoError(t, err)

	// act
	_, err = env.books.Count(ctx, docstore.BuildFilter().MatchingAnyDocument())
	require.NoError(t, err)
	_, err = sameTable.Count(ctx, docstore.BuildFilter().MatchingAnyDocument())
	require.NoError(t, err)
	err = database.EnsureCollection(ctx, "books")

	// assert
	require.NoError(t, err)
	assert.Equal(t, 3, env.adapter.countPrefix("CREATE "))
}

func Test_Collection_EnsureCollection_ToleratesConcurrentCreation(t *testing.T) {
	// arrange
	env := newFakeEnvironment(t)
	env.adapter.failOn["CREATE TABLE"] = &pgconn.PgError{Code: sqlStateDuplicateTable}
	database, err := env.client.Database("library")
	require.NoError(t, err)

	// act
	err = database.EnsureCollection(context.Background(), "books")

	// assert
	require.NoError(t, err)
}

func Test_Collection_Find_ScansDocuments(t *testing.T) {
	// arrange
	env := newFakeEnvironment(t)
	env.adapter.rows[`SELECT "id", "document"`] = [][]any{
		{"b1", `{"title":"Emma"}`},
		{"b2", `{"title":"Dune"}`},
	}

	// act
	documents, err := env.books.Find(context.Background(), docstore.NewQuery(docstore.BuildFilter().MatchingAnyDocument()))

	// assert
	require.NoError(t, err)
	assert.Equal(t, []docstore.Document{testDocument("b1", `{"title":"Emma"}`), testDocument("b2", `{"title":"Dune"}`)}, documents)
}

func Test_Collection_FindOne_MissingDocument_FailsWithNotFound(t *testing.T) {
	// arrange
	logSpy := testdoubles.NewLogHandlerSpy(false)
	env := newFakeEnvironment(t, WithLogger(slog.New(logSpy)))

	// act
	_, err := env.books.FindOne(context.Background(), "missing")
	_, errEmpty := env.books.FindOne(context.Background(), "")

	// assert
	assert.ErrorIs(t, err, docstore.ErrDocumentNotFound)
	assert.ErrorIs(t, errEmpty, docstore.ErrEmptyDocumentID)
	assert.False(t, logSpy.HasLogWithMessage(slog.LevelError, "docstore operation failed: find_one").Assert())
}

func Test_Collection_Writes_ValidateBeforeAnyStatement(t *testing.T) {
	// arrange
	ctx := context.Background()
	env := newFakeEnvironment(t)

	// act
	errEmptyID := env.books.InsertOne(ctx, testDocument("", `{}`))
	errJSON := env.books.InsertMany(ctx, []docstore.Document{testDocument("b1", `{}`), testDocument("b2", `{nope`)})
	_, errReplace := env.books.ReplaceOne(ctx, testDocument("b1", `[`))
	_, errDelete := env.books.DeleteOne(ctx, "")
	_, errDeleteMany := env.books.DeleteMany(ctx, docstore.BuildFilter().MatchingAnyDocument())
	_, errBulk := env.books.BulkWrite(ctx, []docstore.WriteModel{{Kind: docstore.WriteDelete}})
	_, errKind := env.books.BulkWrite(ctx, []docstore.WriteModel{{Kind: docstore.WriteKind(9), Document: testDocument("b1", `{}`)}})
	_, errGroup := env.books.Aggregate(ctx, docstore.AggregateQuery{})

	// assert
	assert.ErrorIs(t, errEmptyID, docstore.ErrEmptyDocumentID)
	assert.ErrorIs(t, errJSON, docstore.ErrInvalidDocumentJSON)
	assert.ErrorIs(t, errReplace, docstore.ErrInvalidDocumentJSON)
	assert.ErrorIs(t, errDelete, docstore.ErrEmptyDocumentID)
	assert.ErrorIs(t, errDeleteMany, docstore.ErrEmptyFilter)
	assert.ErrorIs(t, errBulk, docstore.ErrEmptyDocumentID)
	assert.ErrorIs(t, errKind, docstore.ErrUnsupportedOperation)
	assert.ErrorIs(t, errGroup, docstore.ErrEmptyFieldName)
	assert.Empty(t, env.adapter.statements)
}

func Test_Collection_InsertOne_UniqueViolation_FailsWithDuplicateDocument(t *testing.T) {
	// arrange
	metrics := testdoubles.NewMetricsCollectorSpy(true)
	env := newFakeEnvironment(t, WithMetrics(metrics))
	env.adapter.failOn["INSERT"] = &pgconn.PgError{Code: sqlStateUniqueViolation}

	// act
	err := env.books.InsertOne(context.Background(), testDocument("b1", `{}`))

	// assert
	assert.ErrorIs(t, err, docstore.ErrDuplicateDocument)
	assert.True(t, metrics.HasCounterRecordForMetric("docstore_query_errors_total").
		WithOperation("insert_one").
		WithLabel("error_type", "duplicate_document").
		Assert())
	assert.True(t, metrics.HasDurationRecordForMetric("docstore_query_duration_seconds").
		WithOperation("insert_one").
		WithStatus(docstore.StatusError).
		Assert())
}

func Test_Collection_InsertMany_Empty_RunsNoStatement(t *testing.T) {
	// arrange
	env := newFakeEnvironment(t)

	// act
	err := env.books.InsertMany(context.Background(), nil)

	// assert
	require.NoError(t, err)
	assert.Empty(t, env.adapter.statements)
}

func Test_Collection_Aggregate_SortsKeysByteWise(t *testing.T) {
	// arrange
	env := newFakeEnvironment(t)
	env.adapter.rows["group_key"] = [][]any{
		{"austen", int64(1)},
		{"Herbert", int64(2)},
		{"", int64(3)},
	}

	// act
	rows, err := env.books.Aggregate(context.Background(), docstore.AggregateQuery{GroupBy: "author"})

	// assert
	require.NoError(t, err)
	assert.Equal(t, []docstore.AggregateRow{{Key: "", Count: 3}, {Key: "Herbert", Count: 2}, {Key: "austen", Count: 1}}, rows)
}

func Test_Collection_BulkWrite_WithoutSession_RunsInItsOwnTransaction(t *testing.T) {
	// arrange
	env := newFakeEnvironment(t)

	// act
	result, err := env.books.BulkWrite(context.Background(), []docstore.WriteModel{
		{Kind: docstore.WriteInsert, Document: testDocument("b1", `{}`)},
		{Kind: docstore.WriteReplace, Document: testDocument("b2", `{}`)},
		{Kind: docstore.WriteDelete, Document: docstore.Document{ID: "b3"}},
	})

	// assert
	require.NoError(t, err)
	assert.Equal(t, docstore.BulkWriteResult{Inserted: 1, Replaced: 1, Deleted: 1}, result)
	assert.Equal(t, 1, env.adapter.begun)
	assert.Equal(t, 1, env.adapter.committed)
	assert.Equal(t, 3, env.adapter.countPrefix("tx: "))
}

func Test_Collection_BulkWrite_Failure_RollsBack(t *testing.T) {
	// arrange
	env := newFakeEnvironment(t)
	env.adapter.failOn["DELETE"] = errors.New("delete exploded")

	// act
	result, err := env.books.BulkWrite(context.Background(), []docstore.WriteModel{
		{Kind: docstore.WriteInsert, Document: testDocument("b1", `{}`)},
		{Kind: docstore.WriteDelete, Document: docstore.Document{ID: "b3"}},
	})

	// assert
	assert.ErrorIs(t, err, docstore.ErrOperationFailed)
	assert.Equal(t, docstore.BulkWriteResult{}, result)
	assert.Equal(t, 1, env.adapter.rolledBack)
	assert.Zero(t, env.adapter.committed)
}

func Test_Collection_Operations_AreObserved(t *testing.T) {
	// arrange
	logSpy := testdoubles.NewLogHandlerSpy(false)
	contextualSpy := testdoubles.NewContextualLoggerSpy(true)
	metrics := testdoubles.NewMetricsCollectorSpy(true)
	tracing := testdoubles.NewTracingCollectorSpy(true)
	env := newFakeEnvironment(t,
		WithLogger(slog.New(logSpy)),
		WithContextualLogger(contextualSpy),
		WithMetrics(metrics),
		WithTracing(tracing),
	)

	// act
	err := env.books.InsertOne(context.Background(), testDocument("b1", `{"title":"Emma"}`))

	// assert
	require.NoError(t, err)
	assert.True(t, logSpy.HasDebugLogWithMessage("executed sql for: insert_one").WithDurationMS().WithAttribute("query").Assert())
	assert.True(t, logSpy.HasInfoLogWithMessage("docstore operation: insert_one").
		WithAttributeValue("collection", "books").
		WithAttributeValue("rows_affected", "1").
		WithDurationMS().
		Assert())
	assert.True(t, contextualSpy.HasRecord("info", "docstore operation: insert_one"))
	assert.True(t, metrics.HasDurationRecordForMetric("docstore_query_duration_seconds").
		WithOperation("insert_one").
		WithStatus(docstore.StatusSuccess).
		Assert())
	assert.True(t, tracing.HasSpanRecordForName("docstore.postgres.insert_one").
		WithStatus(docstore.StatusSuccess).
		WithStartAttribute("collection", "books").
		WithStartAttribute("in_transaction", "false").
		WithEndAttribute("count", "1").
		Assert())
}

func Test_Session_RoutesStatementsThroughItsTransaction(t *testing.T) {
	// arrange
	ctx := context.Background()
	env := newFakeEnvironment(t)
	session, err := env.client.StartSession(ctx)
	require.NoError(t, err)
	require.NoError(t, session.StartTransaction(ctx))
	bound := docstore.WithSession(ctx, session)

	// act
	require.NoError(t, env.books.InsertOne(bound, testDocument("b1", `{}`)))
	_, err = env.books.DeleteOne(bound, "b2")
	require.NoError(t, err)
	require.NoError(t, session.CommitTransaction(ctx))
	require.NoError(t, env.books.InsertOne(bound, testDocument("b3", `{}`)))

	// assert
	statements := env.adapter.recorded()
	require.Len(t, statements, 3)
	assert.Contains(t, statements[0], "tx: INSERT")
	assert.Contains(t, statements[1], "tx: DELETE")
	assert.Contains(t, statements[2], "INSERT")
	assert.NotContains(t, statements[2], "tx: ", "after commit statements run on the pool")
	assert.Equal(t, 1, env.adapter.committed)
	assert.False(t, session.InTransaction())
}

func Test_Session_StateMachine(t *testing.T) {
	// arrange
	ctx := context.Background()
	env := newFakeEnvironment(t)
	session, err := env.client.StartSession(ctx)
	require.NoError(t, err)

	// act
	errCommitWithout := session.CommitTransaction(ctx)
	errAbortWithout := session.AbortTransaction(ctx)
	require.NoError(t, session.StartTransaction(ctx))
	errStartTwice := session.StartTransaction(ctx)
	session.EndSession(ctx)
	errAfterEnd := session.StartTransaction(ctx)
	errOperationAfterEnd := env.books.InsertOne(docstore.WithSession(ctx, session), testDocument("b1", `{}`))

	// assert
	assert.NotEmpty(t, session.ID())
	assert.ErrorIs(t, errCommitWithout, docstore.ErrNoActiveTransaction)
	assert.ErrorIs(t, errAbortWithout, docstore.ErrNoActiveTransaction)
	assert.ErrorIs(t, errStartTwice, docstore.ErrTransactionInProgress)
	assert.ErrorIs(t, errAfterEnd, docstore.ErrSessionEnded)
	assert.ErrorIs(t, errOperationAfterEnd, docstore.ErrSessionEnded)
	assert.Equal(t, 1, env.adapter.rolledBack, "ending the session rolls back the open transaction")
	assert.False(t, session.InTransaction())
}

func Test_Session_FailedCommit_KeepsTheTransactionUntilAborted(t *testing.T) {
	// arrange
	ctx := context.Background()
	env := newFakeEnvironment(t)
	session, err := env.client.StartSession(ctx)
	require.NoError(t, err)
	require.NoError(t, session.StartTransaction(ctx))
	env.adapter.commitErr = &pgconn.PgError{Code: "40001", Message: "could not serialize access"}

	// act
	errCommit := session.CommitTransaction(ctx)
	stillOpen := session.InTransaction()
	errAbort := session.AbortTransaction(ctx)

	// assert
	assert.ErrorIs(t, errCommit, docstore.ErrOperationFailed)
	assert.True(t, stillOpen)
	require.NoError(t, errAbort)
	assert.Equal(t, 1, env.adapter.rolledBack)
	assert.False(t, session.InTransaction())
}

func Test_Session_BeginFailure_LeavesNoTransaction(t *testing.T) {
	// arrange
	ctx := context.Background()
	env := newFakeEnvironment(t)
	env.adapter.failOn["BEGIN"] = errors.New("too many connections")
	session, err := env.client.StartSession(ctx)
	require.NoError(t, err)

	// act
	err = session.StartTransaction(ctx)

	// assert
	assert.ErrorIs(t, err, docstore.ErrOperationFailed)
	assert.False(t, session.InTransaction())
}

func Test_Collection_IgnoresSessionsOfOtherClients(t *testing.T) {
	// arrange
	ctx := context.Background()
	env := newFakeEnvironment(t)
	other := newFakeEnvironment(t)

	foreign, err := other.client.StartSession(ctx)
	require.NoError(t, err)
	require.NoError(t, foreign.StartTransaction(ctx))

	memClient, err := memengine.NewDriver().Connect(ctx, memengine.NewClientConfig("library"))
	require.NoError(t, err)
	memSession, err := memClient.StartSession(ctx)
	require.NoError(t, err)
	require.NoError(t, memSession.StartTransaction(ctx))

	// act
	errForeign := env.books.InsertOne(docstore.WithSession(ctx, foreign), testDocument("b1", `{}`))
	errMem := env.books.InsertOne(docstore.WithSession(ctx, memSession), testDocument("b2", `{}`))

	// assert
	require.NoError(t, errForeign)
	require.NoError(t, errMem)
	assert.Zero(t, env.adapter.countPrefix("tx: "))
}

func Test_Client_Close_ClosesTheAdapter_AndRejectsFurtherWork(t *testing.T) {
	// arrange
	ctx := context.Background()
	env := newFakeEnvironment(t)

	// act
	env.client.Close()
	env.client.Close()
	_, errSession := env.client.StartSession(ctx)
	errInsert := env.books.InsertOne(ctx, testDocument("b1", `{}`))

	// assert
	assert.True(t, env.adapter.closed)
	assert.ErrorIs(t, errSession, docstore.ErrOperationFailed)
	assert.ErrorIs(t, errInsert, docstore.ErrOperationFailed)
}
