package throttle

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
)

// Semaphore gates concurrent operations.
type Semaphore interface {
	// Acquire blocks until a permit is available or ctx is done.
	// On a ctx error no permit is held and the error is returned.
	Acquire(ctx context.Context) error

	// Release returns a permit acquired with Acquire.
	Release()

	// Limit returns the number of permits, 0 for an unbounded semaphore.
	Limit() int

	// InFlight returns the number of currently held permits.
	InFlight() int
}

// New returns a bounded Semaphore with maxConcurrentRequests permits,
// or the shared no-op Semaphore if maxConcurrentRequests <= 0.
func New(maxConcurrentRequests int) Semaphore {
	if maxConcurrentRequests <= 0 {
		return Noop()
	}

	return &boundedSemaphore{
		weighted: semaphore.NewWeighted(int64(maxConcurrentRequests)),
		limit:    maxConcurrentRequests,
	}
}

type boundedSemaphore struct {
	weighted *semaphore.Weighted
	limit    int
	inFlight atomic.Int64
}

func (s *boundedSemaphore) Acquire(ctx context.Context) error {
	if err := s.weighted.Acquire(ctx, 1); err != nil {
		return err
	}

	s.inFlight.Add(1)

	return nil
}

func (s *boundedSemaphore) Release() {
	s.inFlight.Add(-1)
	s.weighted.Release(1)
}

func (s *boundedSemaphore) Limit() int {
	return s.limit
}

func (s *boundedSemaphore) InFlight() int {
	return int(s.inFlight.Load())
}

var noop = &noopSemaphore{}

// Noop returns the shared unbounded Semaphore. It never blocks.
func Noop() Semaphore {
	return noop
}

type noopSemaphore struct {
	inFlight atomic.Int64
}

func (s *noopSemaphore) Acquire(_ context.Context) error {
	s.inFlight.Add(1)
	return nil
}

func (s *noopSemaphore) Release() {
	s.inFlight.Add(-1)
}

func (s *noopSemaphore) Limit() int {
	return 0
}

func (s *noopSemaphore) InFlight() int {
	return int(s.inFlight.Load())
}

// Do acquires a permit, invokes fn and releases the permit on every exit path.
func Do(ctx context.Context, sem Semaphore, fn func(ctx context.Context) error) error {
	if err := sem.Acquire(ctx); err != nil {
		return err
	}
	defer sem.Release()

	return fn(ctx)
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, sem Semaphore, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := sem.Acquire(ctx); err != nil {
		var zero T
		return zero, err
	}
	defer sem.Release()

	return fn(ctx)
}

// Go is the asynchronous shape of DoValue: acquisition, invocation and release happen on a new goroutine.
func Go[T any](ctx context.Context, sem Semaphore, fn func(ctx context.Context) (T, error)) *docstore.Future[T] {
	return docstore.Go(ctx, func(ctx context.Context) (T, error) {
		return DoValue(ctx, sem, fn)
	})
}
