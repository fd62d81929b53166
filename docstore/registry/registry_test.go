package registry_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
	"github.com/AntonStoeckl/docstore-uow-go/docstore/registry"
)

type handle struct {
	name string
}

func Test_Registry_GetOrCreate_ConvergesConcurrentCallers(t *testing.T) {
	// arrange
	var factoryCalls atomic.Int64
	var registered atomic.Int64
	r := registry.NewRegistry[*handle](func(_ string) { registered.Add(1) })

	const callers = 64
	results := make([]*handle, callers)
	start := make(chan struct{})
	var wg sync.WaitGroup

	// act
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			h, err := r.GetOrCreate("key", func() (*handle, error) {
				factoryCalls.Add(1)
				return &handle{name: "key"}, nil
			})
			assert.NoError(t, err)
			results[i] = h
		}()
	}
	close(start)
	wg.Wait()

	// assert
	assert.Equal(t, int64(1), factoryCalls.Load())
	assert.Equal(t, int64(1), registered.Load())
	for _, h := range results {
		assert.Same(t, results[0], h)
	}
	assert.Equal(t, 1, r.Size())
}

func Test_Registry_GetOrCreate_LeavesNoEntry_WhenFactoryFails(t *testing.T) {
	// arrange
	r := registry.NewRegistry[*handle](nil)
	failure := errors.New("connect refused")

	// act
	_, err := r.GetOrCreate("key", func() (*handle, error) { return nil, failure })
	h, retryErr := r.GetOrCreate("key", func() (*handle, error) { return &handle{name: "retry"}, nil })

	// assert
	assert.ErrorIs(t, err, failure)
	require.NoError(t, retryErr)
	assert.Equal(t, "retry", h.name)
	assert.Equal(t, 1, r.Size())
}

func Test_Registry_GetOrCreate_RejectsEmptyKey(t *testing.T) {
	r := registry.NewRegistry[*handle](nil)

	_, err := r.GetOrCreate("", func() (*handle, error) { return &handle{}, nil })

	assert.ErrorIs(t, err, docstore.ErrEmptyRegistryKey)
	assert.ErrorIs(t, err, docstore.ErrInvalidArgument)
	assert.Zero(t, r.Size())
}

func Test_OptionsRegistry_FirstRegistrationWins(t *testing.T) {
	// arrange
	r := registry.NewOptionsRegistry(nil)
	first, _ := docstore.NewContextOptions("Library", docstore.WithMaxConcurrentRequests(2))
	second, _ := docstore.NewContextOptions("library", docstore.WithMaxConcurrentRequests(9))

	// act
	registeredFirst, firstErr := r.GetOrCreate(first)
	registeredSecond, secondErr := r.GetOrCreate(second)

	// assert
	require.NoError(t, firstErr)
	require.NoError(t, secondErr)
	assert.Same(t, first, registeredFirst)
	assert.Same(t, first, registeredSecond)
	assert.Equal(t, 2, registeredSecond.MaxConcurrentRequests())

	found, ok := r.Get("LIBRARY")
	assert.True(t, ok)
	assert.Same(t, first, found)

	_, nilErr := r.GetOrCreate(nil)
	assert.ErrorIs(t, nilErr, docstore.ErrNilContextOptions)
}

func Test_SemaphoreRegistry_SharesSemaphorePerCluster(t *testing.T) {
	// arrange
	r := registry.NewSemaphoreRegistry(nil)

	// act
	first, _ := r.GetOrCreate("db1:5432,db2:5432", 4)
	second, _ := r.GetOrCreate("db1:5432,db2:5432", 16)
	other, _ := r.GetOrCreate("db3:5432", 0)
	_, emptyErr := r.GetOrCreate(" ", 4)

	// assert
	assert.Same(t, first, second)
	assert.Equal(t, 4, second.Limit(), "the bound of the first registration wins")
	assert.NotSame(t, first, other)
	assert.Equal(t, 0, other.Limit())
	assert.ErrorIs(t, emptyErr, docstore.ErrInvalidArgument)
}
