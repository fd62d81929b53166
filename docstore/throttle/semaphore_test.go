package throttle_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/docstore-uow-go/docstore/throttle"
)

// concurrencyProbe records the highest number of simultaneously running operations.
type concurrencyProbe struct {
	running atomic.Int64
	peak    atomic.Int64
}

func (p *concurrencyProbe) enter() {
	current := p.running.Add(1)
	for {
		peak := p.peak.Load()
		if current <= peak || p.peak.CompareAndSwap(peak, current) {
			return
		}
	}
}

func (p *concurrencyProbe) leave() {
	p.running.Add(-1)
}

func Test_Semaphore_New_ReturnsNoop_ForNonPositiveBound(t *testing.T) {
	assert.Same(t, throttle.Noop(), throttle.New(0))
	assert.Same(t, throttle.Noop(), throttle.New(-1))
	assert.Equal(t, 0, throttle.New(0).Limit())
	assert.Equal(t, 3, throttle.New(3).Limit())
}

func Test_Semaphore_Bound_IsNeverExceeded(t *testing.T) {
	// arrange
	sem := throttle.New(2)
	probe := &concurrencyProbe{}
	var completed atomic.Int64
	var wg sync.WaitGroup

	// act
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := throttle.Do(context.Background(), sem, func(_ context.Context) error {
				probe.enter()
				defer probe.leave()
				time.Sleep(20 * time.Millisecond)
				completed.Add(1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// assert
	assert.LessOrEqual(t, probe.peak.Load(), int64(2), "never more than 2 operations should run at once")
	assert.Equal(t, int64(2), probe.peak.Load(), "the bound should actually be used")
	assert.Equal(t, int64(10), completed.Load(), "all operations should eventually complete")
	assert.Equal(t, 0, sem.InFlight())
}

func Test_Semaphore_Noop_AdmitsUnlimitedConcurrency(t *testing.T) {
	// arrange
	sem := throttle.New(0)
	const operations = 50
	var started sync.WaitGroup
	started.Add(operations)
	release := make(chan struct{})
	var wg sync.WaitGroup

	// act
	for i := 0; i < operations; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = throttle.Do(context.Background(), sem, func(_ context.Context) error {
				started.Done()
				<-release
				return nil
			})
		}()
	}

	// assert: all operations are running at the same time, none is blocked by the semaphore
	waitOrFail(t, &started, time.Second)
	assert.GreaterOrEqual(t, sem.InFlight(), operations)
	close(release)
	wg.Wait()
}

func Test_Semaphore_Do_ReleasesPermit_WhenOperationFails(t *testing.T) {
	// arrange
	sem := throttle.New(1)
	failure := errors.New("driver failure")

	// act
	err := throttle.Do(context.Background(), sem, func(_ context.Context) error {
		return failure
	})

	// assert
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, 0, sem.InFlight())
	assert.NoError(t, throttle.Do(context.Background(), sem, func(_ context.Context) error { return nil }),
		"the permit should be available again")
}

func Test_Semaphore_Do_ReleasesPermit_WhenOperationPanics(t *testing.T) {
	// arrange
	sem := throttle.New(1)

	// act
	assert.Panics(t, func() {
		_ = throttle.Do(context.Background(), sem, func(_ context.Context) error {
			panic("boom")
		})
	})

	// assert
	assert.Equal(t, 0, sem.InFlight())
}

func Test_Semaphore_CanceledAcquire_DoesNotLeakPermit(t *testing.T) {
	// arrange
	sem := throttle.New(1)
	require.NoError(t, sem.Acquire(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	invoked := false

	// act
	err := throttle.Do(ctx, sem, func(_ context.Context) error {
		invoked = true
		return nil
	})

	// assert
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, invoked, "the operation must not run without a permit")
	assert.Equal(t, 1, sem.InFlight())

	sem.Release()
	assert.NoError(t, throttle.Do(context.Background(), sem, func(_ context.Context) error { return nil }))
	assert.Equal(t, 0, sem.InFlight())
}

func Test_Semaphore_CanceledOperation_ReleasesPermit(t *testing.T) {
	// arrange
	sem := throttle.New(1)
	ctx, cancel := context.WithCancel(context.Background())

	// act
	err := throttle.Do(ctx, sem, func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})

	// assert
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, sem.InFlight())
}

func Test_Semaphore_Go_ReturnsValueAsynchronously(t *testing.T) {
	// arrange
	sem := throttle.New(1)
	block := make(chan struct{})

	// act
	future := throttle.Go(context.Background(), sem, func(_ context.Context) (string, error) {
		<-block
		return "done", nil
	})

	// assert
	select {
	case <-future.Done():
		t.Fatal("future should not be completed before the operation returns")
	default:
	}

	close(block)
	value, err := future.Await(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "done", value)
	assert.Equal(t, 0, sem.InFlight())
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for goroutines")
	}
}
