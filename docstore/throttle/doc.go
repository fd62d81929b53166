// Package throttle provides admission control: a bounded-concurrency Semaphore that caps the number of
// in-flight requests against one cluster, and a Collection wrapper that applies it to every operation.
//
// One Semaphore is shared by every context that points at the same cluster (see package registry), so the
// bound holds across otherwise independent units of work.
//
//	sem := throttle.New(8)
//	docs, err := throttle.DoValue(ctx, sem, func(ctx context.Context) ([]docstore.Document, error) {
//		return collection.Find(ctx, query)
//	})
//
// A permit is always released, whether the guarded operation returns, fails, panics or is canceled.
package throttle
