package unitofwork

import (
	"reflect"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/AntonStoeckl/docstore-uow-go/docstore/dbcontext"
)

type factory func(dbctx *dbcontext.DBContext) any

type implementation struct {
	typ     reflect.Type
	factory factory
}

// Factories resolves custom repositories. Register binds a factory to the exact requested type,
// RegisterImplementation adds a candidate that is found by scanning for types implementing the requested interface.
//
// Factories is safe for concurrent use and is usually built once and shared by all units of work.
type Factories struct {
	registered      *xsync.MapOf[reflect.Type, factory]
	mu              sync.RWMutex
	implementations []implementation
}

// NewFactories creates an empty Factories.
func NewFactories() *Factories {
	return &Factories{registered: xsync.NewMapOf[reflect.Type, factory]()}
}

// Register binds create to the repository type R, typically an interface. A later registration replaces it.
func Register[R any](f *Factories, create func(dbctx *dbcontext.DBContext) R) {
	f.registered.Store(reflect.TypeFor[R](), func(dbctx *dbcontext.DBContext) any {
		return create(dbctx)
	})
}

// RegisterImplementation adds the concrete repository type I to the candidates of type scanning.
// Candidates are scanned in registration order.
func RegisterImplementation[I any](f *Factories, create func(dbctx *dbcontext.DBContext) I) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.implementations = append(f.implementations, implementation{
		typ: reflect.TypeFor[I](),
		factory: func(dbctx *dbcontext.DBContext) any {
			return create(dbctx)
		},
	})
}

// resolve finds the factory for target: a registered one first, then the first scanned implementation.
func (f *Factories) resolve(target reflect.Type) (factory, bool) {
	if create, ok := f.registered.Load(target); ok {
		return create, true
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, candidate := range f.implementations {
		if candidate.typ == target {
			return candidate.factory, true
		}

		if target.Kind() == reflect.Interface && candidate.typ.Implements(target) {
			return candidate.factory, true
		}
	}

	return nil, false
}
