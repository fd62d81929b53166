package registry

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
)

// Registry is a concurrent get-or-create cache keyed by string.
//
// A hit is served lock-free. On a miss the factory runs under the map's bucket lock, so racing callers for the
// same key observe exactly one factory invocation and converge on its result. A failing factory leaves no entry.
// Factories must not access the same Registry.
type Registry[V any] struct {
	entries      *xsync.MapOf[string, V]
	onRegistered func(key string)
}

// NewRegistry creates an empty Registry. onRegistered, if not nil, is called once for every newly created entry.
func NewRegistry[V any](onRegistered func(key string)) *Registry[V] {
	return &Registry[V]{
		entries:      xsync.NewMapOf[string, V](),
		onRegistered: onRegistered,
	}
}

// GetOrCreate returns the value registered for key, creating it with factory on first access.
// Returns ErrEmptyRegistryKey for an empty key and the factory error if creation fails.
func (r *Registry[V]) GetOrCreate(key string, factory func() (V, error)) (V, error) {
	var zero V

	if key == "" {
		return zero, docstore.ErrEmptyRegistryKey
	}

	if value, ok := r.entries.Load(key); ok {
		return value, nil
	}

	var factoryErr error
	created := false

	value, _ := r.entries.Compute(key, func(existing V, loaded bool) (V, bool) {
		if loaded {
			return existing, false
		}

		newValue, err := factory()
		if err != nil {
			factoryErr = err
			return zero, true
		}

		created = true

		return newValue, false
	})

	if factoryErr != nil {
		return zero, factoryErr
	}

	if created && r.onRegistered != nil {
		r.onRegistered(key)
	}

	return value, nil
}

// Get returns the value registered for key, if any.
func (r *Registry[V]) Get(key string) (V, bool) {
	return r.entries.Load(key)
}

// Size returns the number of registered entries.
func (r *Registry[V]) Size() int {
	return r.entries.Size()
}

// Range calls f for every registered entry until f returns false.
func (r *Registry[V]) Range(f func(key string, value V) bool) {
	r.entries.Range(f)
}
