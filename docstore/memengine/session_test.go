package memengine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
)

func Test_Session_Commit_AppliesPendingWrites(t *testing.T) {
	// arrange
	ctx := context.Background()
	client, books := openCollection(t, t.Name())
	session, err := client.StartSession(ctx)
	require.NoError(t, err)
	require.NoError(t, session.StartTransaction(ctx))
	txCtx := docstore.WithSession(ctx, session)

	// act
	require.NoError(t, books.InsertOne(txCtx, docstore.Document{ID: "b1", Body: []byte(`{"title":"Dune"}`)}))

	_, outsideErr := books.FindOne(ctx, "b1")
	_, insideErr := books.FindOne(txCtx, "b1")
	commitErr := session.CommitTransaction(ctx)

	// assert
	assert.ErrorIs(t, outsideErr, docstore.ErrDocumentNotFound, "pending writes are invisible outside the transaction")
	assert.NoError(t, insideErr, "pending writes are visible inside the transaction")
	require.NoError(t, commitErr)
	assert.False(t, session.InTransaction())

	_, afterCommitErr := books.FindOne(ctx, "b1")
	assert.NoError(t, afterCommitErr)
}

func Test_Session_Abort_DiscardsPendingWrites(t *testing.T) {
	// arrange
	ctx := context.Background()
	client, books := openCollection(t, t.Name())
	session, err := client.StartSession(ctx)
	require.NoError(t, err)
	require.NoError(t, session.StartTransaction(ctx))
	require.NoError(t, books.InsertOne(docstore.WithSession(ctx, session), docstore.Document{ID: "b1", Body: []byte(`{}`)}))

	// act
	abortErr := session.AbortTransaction(ctx)

	// assert
	require.NoError(t, abortErr)
	count, countErr := books.Count(ctx, docstore.Filter{})
	require.NoError(t, countErr)
	assert.Zero(t, count)
}

func Test_Session_Commit_FailsAtomically_OnConflict(t *testing.T) {
	// arrange
	ctx := context.Background()
	client, books := openCollection(t, t.Name())
	session, err := client.StartSession(ctx)
	require.NoError(t, err)
	require.NoError(t, session.StartTransaction(ctx))
	txCtx := docstore.WithSession(ctx, session)
	require.NoError(t, books.InsertOne(txCtx, docstore.Document{ID: "b1", Body: []byte(`{}`)}))
	require.NoError(t, books.InsertOne(txCtx, docstore.Document{ID: "b2", Body: []byte(`{}`)}))
	require.NoError(t, books.InsertOne(ctx, docstore.Document{ID: "b2", Body: []byte(`{"committed":true}`)}))

	// act
	commitErr := session.CommitTransaction(ctx)

	// assert
	assert.ErrorIs(t, commitErr, docstore.ErrDuplicateDocument)
	assert.True(t, session.InTransaction(), "a failed commit leaves the transaction open for abort")
	_, findErr := books.FindOne(ctx, "b1")
	assert.ErrorIs(t, findErr, docstore.ErrDocumentNotFound)
	assert.NoError(t, session.AbortTransaction(ctx))
}

func Test_Session_StateTransitions(t *testing.T) {
	// arrange
	ctx := context.Background()
	client, books := openCollection(t, t.Name())
	session, err := client.StartSession(ctx)
	require.NoError(t, err)

	// act + assert
	assert.ErrorIs(t, session.CommitTransaction(ctx), docstore.ErrNoActiveTransaction)
	assert.ErrorIs(t, session.AbortTransaction(ctx), docstore.ErrNoActiveTransaction)
	require.NoError(t, session.StartTransaction(ctx))
	assert.ErrorIs(t, session.StartTransaction(ctx), docstore.ErrTransactionInProgress)

	session.EndSession(ctx)

	assert.False(t, session.InTransaction())
	assert.ErrorIs(t, session.StartTransaction(ctx), docstore.ErrSessionEnded)
	assert.ErrorIs(t, books.InsertOne(docstore.WithSession(ctx, session), docstore.Document{ID: "b1", Body: []byte(`{}`)}),
		docstore.ErrSessionEnded)
	assert.NotEmpty(t, session.ID())
}

func Test_Session_WithoutTransaction_WritesDirectly(t *testing.T) {
	// arrange
	ctx := context.Background()
	client, books := openCollection(t, t.Name())
	session, err := client.StartSession(ctx)
	require.NoError(t, err)

	// act
	insertErr := books.InsertOne(docstore.WithSession(ctx, session), docstore.Document{ID: "b1", Body: []byte(`{}`)})

	// assert
	require.NoError(t, insertErr)
	_, findErr := books.FindOne(ctx, "b1")
	assert.NoError(t, findErr)
}
