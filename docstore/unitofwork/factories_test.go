package unitofwork_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/dbcontext"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/unitofwork"
	"github.com/AntonStoeckl/docstore-uow-go/testutil/observability/testdoubles"
)

// MemberDirectory has no registered factory and no implementation.
type MemberDirectory interface {
	Lookup(ctx context.Context, name string) (*LibraryMember, error)
}

type failingCloser struct{}

func (failingCloser) ByAuthor(context.Context, string) ([]*Book, error) {
	return nil, nil
}

func (failingCloser) Close() error {
	return errors.New("close exploded")
}

func Test_CustomRepositoryOf_UsesTheRegisteredFactory_AndCachesIt(t *testing.T) {
	// arrange
	ctx := context.Background()
	factories := unitofwork.NewFactories()
	created := 0
	unitofwork.Register[BookCatalog](factories, func(dbctx *dbcontext.DBContext) BookCatalog {
		created++
		return &bookCatalog{books: unitofwork.NewRepository[*Book](dbctx)}
	})
	uow := newEnvironment(t).unitOfWork(t, "A", false, unitofwork.WithFactories(factories))

	_, err := unitofwork.RepositoryOf[*Book](uow).InsertMany(ctx, []*Book{
		{ID: "b1", Author: "Austen", Year: 1817},
		{ID: "b2", Author: "Austen", Year: 1815},
		{ID: "b3", Author: "Herbert", Year: 1965},
	})
	require.NoError(t, err)

	// act
	first, errFirst := unitofwork.CustomRepositoryOf[BookCatalog](uow)
	second, errSecond := unitofwork.CustomRepositoryOf[BookCatalog](uow)
	austen, errQuery := first.ByAuthor(ctx, "Austen")

	// assert
	require.NoError(t, errFirst)
	require.NoError(t, errSecond)
	require.NoError(t, errQuery)
	assert.Same(t, first, second)
	assert.Equal(t, 1, created)
	require.Len(t, austen, 2)
	assert.Equal(t, "b2", austen[0].ID)
}

func Test_CustomRepositoryOf_FallsBackToScanningImplementations(t *testing.T) {
	// arrange
	factories := unitofwork.NewFactories()
	unitofwork.RegisterImplementation(factories, func(dbctx *dbcontext.DBContext) *bookCatalog {
		return &bookCatalog{books: unitofwork.NewRepository[*Book](dbctx)}
	})
	uow := newEnvironment(t).unitOfWork(t, "A", true, unitofwork.WithFactories(factories))

	// act
	catalog, err := unitofwork.CustomRepositoryOf[BookCatalog](uow)
	concrete, errConcrete := unitofwork.CustomRepositoryOf[*bookCatalog](uow)

	// assert
	require.NoError(t, err)
	require.NoError(t, errConcrete)
	assert.IsType(t, &bookCatalog{}, catalog)
	assert.NotSame(t, catalog, concrete, "interface and concrete type are cached under different keys")
}

func Test_CustomRepositoryOf_WithoutImplementation_FailsWithUnsupportedOperation(t *testing.T) {
	// arrange
	uow := newEnvironment(t).unitOfWork(t, "A", true)

	// act
	_, err := unitofwork.CustomRepositoryOf[MemberDirectory](uow)

	// assert
	assert.ErrorIs(t, err, docstore.ErrRepositoryNotFound)
	assert.ErrorIs(t, err, docstore.ErrUnsupportedOperation)
}

func Test_UnitOfWork_Close_ClosesRepositories_ThenTheContext(t *testing.T) {
	// arrange
	ctx := context.Background()
	factories := unitofwork.NewFactories()
	closed := false
	unitofwork.Register[BookCatalog](factories, func(dbctx *dbcontext.DBContext) BookCatalog {
		return &bookCatalog{books: unitofwork.NewRepository[*Book](dbctx), closed: &closed}
	})
	uow := newEnvironment(t).unitOfWork(t, "A", true, unitofwork.WithFactories(factories))
	_, err := unitofwork.CustomRepositoryOf[BookCatalog](uow)
	require.NoError(t, err)

	// act
	err = uow.Close(ctx)

	// assert
	require.NoError(t, err)
	assert.True(t, closed)
	_, errAfterClose := uow.SaveChanges(ctx)
	assert.ErrorIs(t, errAfterClose, docstore.ErrContextClosed)
}

func Test_UnitOfWork_Close_JoinsRepositoryCloseErrors(t *testing.T) {
	// arrange
	ctx := context.Background()
	factories := unitofwork.NewFactories()
	unitofwork.Register[BookCatalog](factories, func(_ *dbcontext.DBContext) BookCatalog {
		return failingCloser{}
	})
	uow := newEnvironment(t).unitOfWork(t, "A", true, unitofwork.WithFactories(factories))
	_, err := unitofwork.CustomRepositoryOf[BookCatalog](uow)
	require.NoError(t, err)

	// act
	err = uow.Close(ctx)

	// assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close exploded")
	_, errAfterClose := uow.SaveChanges(ctx)
	assert.ErrorIs(t, errAfterClose, docstore.ErrContextClosed)
}

func Test_CustomRepositoryOf_ClosesAndLogsTheLosingCandidate(t *testing.T) {
	// arrange
	logSpy := testdoubles.NewLogHandlerSpy(false)
	factories := unitofwork.NewFactories()
	var uow *unitofwork.UnitOfWork
	calls := 0
	unitofwork.Register[BookCatalog](factories, func(dbctx *dbcontext.DBContext) BookCatalog {
		calls++
		if calls == 1 {
			// a nested lookup stores its instance first, so this one loses
			_, err := unitofwork.CustomRepositoryOf[BookCatalog](uow)
			require.NoError(t, err)

			return failingCloser{}
		}

		return &bookCatalog{books: unitofwork.NewRepository[*Book](dbctx)}
	})
	uow = newEnvironment(t).unitOfWork(t, "A", true,
		unitofwork.WithFactories(factories),
		unitofwork.WithLogger(slog.New(logSpy)),
	)

	// act
	catalog, err := unitofwork.CustomRepositoryOf[BookCatalog](uow)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.IsType(t, &bookCatalog{}, catalog)
	assert.True(t, logSpy.HasWarnLogWithMessage("repository close failed").
		WithAttributeValue("error", "close exploded").
		Assert())
}
