package unitofwork

import (
	"context"
	"errors"
	"io"
	"reflect"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/dbcontext"
)

const (
	logMsgRepositoryCreated = "repository created"
	logMsgRepositoryClose   = "repository close failed"
	logAttrKind             = "kind"
	logAttrType             = "type"
	logAttrError            = "error"
)

type repositoryKind int

const (
	genericRepository repositoryKind = iota
	customRepository
)

func (k repositoryKind) String() string {
	if k == genericRepository {
		return "generic"
	}

	return "custom"
}

type repositoryKey struct {
	kind repositoryKind
	typ  reflect.Type
}

// UnitOfWork owns a DBContext and the repositories created for it.
type UnitOfWork struct {
	dbctx        *dbcontext.DBContext
	factories    *Factories
	repositories *xsync.MapOf[repositoryKey, any]
	logger       docstore.Logger
}

// Option defines a functional option for configuring UnitOfWork.
type Option func(*UnitOfWork) error

// WithFactories sets the Factories used by CustomRepositoryOf.
func WithFactories(factories *Factories) Option {
	return func(u *UnitOfWork) error {
		u.factories = factories
		return nil
	}
}

// WithLogger sets the logger for the UnitOfWork.
// Debug level: repository creation
// Warn level: failures while closing repositories.
func WithLogger(logger docstore.Logger) Option {
	return func(u *UnitOfWork) error {
		u.logger = logger
		return nil
	}
}

// New creates a UnitOfWork over dbctx.
func New(dbctx *dbcontext.DBContext, options ...Option) (*UnitOfWork, error) {
	if dbctx == nil {
		return nil, docstore.ErrNilDatabaseConnection
	}

	u := &UnitOfWork{
		dbctx:        dbctx,
		repositories: xsync.NewMapOf[repositoryKey, any](),
	}

	for _, option := range options {
		if err := option(u); err != nil {
			return nil, err
		}
	}

	if u.factories == nil {
		u.factories = NewFactories()
	}

	return u, nil
}

// RepositoryOf returns the generic repository of T. Every call on the same UnitOfWork returns the same instance.
func RepositoryOf[T Entity](u *UnitOfWork) *Repository[T] {
	key := repositoryKey{kind: genericRepository, typ: reflect.TypeFor[T]()}

	repository, _ := u.repositories.LoadOrCompute(key, func() any {
		u.logRepositoryCreated(key)
		return NewRepository[T](u.dbctx)
	})

	return repository.(*Repository[T])
}

// CustomRepositoryOf returns the custom repository R, resolved from the registered factories
// with a fallback to scanning the registered implementations.
// Returns ErrRepositoryNotFound if neither yields an R.
func CustomRepositoryOf[R any](u *UnitOfWork) (R, error) {
	var zero R
	key := repositoryKey{kind: customRepository, typ: reflect.TypeFor[R]()}

	if cached, ok := u.repositories.Load(key); ok {
		return cached.(R), nil
	}

	// create runs unlocked; a concurrent caller may win the store.
	create, found := u.factories.resolve(key.typ)
	if !found {
		return zero, docstore.ErrRepositoryNotFound
	}

	candidate, ok := create(u.dbctx).(R)
	if !ok {
		return zero, docstore.ErrRepositoryNotFound
	}

	actual, loaded := u.repositories.LoadOrStore(key, candidate)
	if loaded {
		if closer, isCloser := any(candidate).(io.Closer); isCloser {
			if err := closer.Close(); err != nil {
				u.logWarn(logMsgRepositoryClose, logAttrType, key.typ.String(), logAttrError, err.Error())
			}
		}

		return actual.(R), nil
	}

	u.logRepositoryCreated(key)

	return candidate, nil
}

// Context returns the owned DBContext.
func (u *UnitOfWork) Context() *dbcontext.DBContext {
	return u.dbctx
}

func (u *UnitOfWork) SaveChanges(ctx context.Context) ([]any, error) {
	return u.dbctx.SaveChanges(ctx)
}

func (u *UnitOfWork) SaveChangesAsync(ctx context.Context) *docstore.Future[[]any] {
	return u.dbctx.SaveChangesAsync(ctx)
}

func (u *UnitOfWork) StartTransaction(ctx context.Context) error {
	return u.dbctx.StartTransaction(ctx)
}

func (u *UnitOfWork) StartTransactionAsync(ctx context.Context) *docstore.Future[struct{}] {
	return u.dbctx.StartTransactionAsync(ctx)
}

func (u *UnitOfWork) CommitTransaction(ctx context.Context) error {
	return u.dbctx.CommitTransaction(ctx)
}

func (u *UnitOfWork) CommitTransactionAsync(ctx context.Context) *docstore.Future[struct{}] {
	return u.dbctx.CommitTransactionAsync(ctx)
}

func (u *UnitOfWork) AbortTransaction(ctx context.Context) error {
	return u.dbctx.AbortTransaction(ctx)
}

func (u *UnitOfWork) AbortTransactionAsync(ctx context.Context) *docstore.Future[struct{}] {
	return u.dbctx.AbortTransactionAsync(ctx)
}

func (u *UnitOfWork) HasChanges() bool {
	return u.dbctx.HasChanges()
}

func (u *UnitOfWork) DiscardChanges() {
	u.dbctx.DiscardChanges()
}

// Close closes every cached repository that implements io.Closer, then the DBContext.
// All errors are joined.
func (u *UnitOfWork) Close(ctx context.Context) error {
	var errs []error

	u.repositories.Range(func(key repositoryKey, repository any) bool {
		if closer, ok := repository.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				u.logWarn(logMsgRepositoryClose, logAttrType, key.typ.String(), logAttrError, err.Error())
				errs = append(errs, err)
			}
		}

		return true
	})
	u.repositories.Clear()

	if err := u.dbctx.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (u *UnitOfWork) logRepositoryCreated(key repositoryKey) {
	if u.logger != nil {
		u.logger.Debug(logMsgRepositoryCreated, logAttrKind, key.kind.String(), logAttrType, key.typ.String())
	}
}

func (u *UnitOfWork) logWarn(message string, args ...any) {
	if u.logger != nil {
		u.logger.Warn(message, args...)
	}
}
