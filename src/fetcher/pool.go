package fetcher

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

const defaultSyncWorkers = 8

var (
	poolMu sync.RWMutex
	pool   = semaphore.NewWeighted(defaultSyncWorkers)
)

// SetSyncWorkers resizes the pool that runs ExtractDataSync. Calls already
// holding a slot keep it.
func SetSyncWorkers(n int) {
	if n <= 0 {
		n = defaultSyncWorkers
	}
	poolMu.Lock()
	pool = semaphore.NewWeighted(int64(n))
	poolMu.Unlock()
}

// -----------------------------------------------------------------------------

// runSync runs fn on a pool slot. A cancelled ctx returns at once; fn keeps
// its slot until it finishes and its result is discarded.
func runSync[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T

	poolMu.RLock()
	sem := pool
	poolMu.RUnlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("fetcher: sync extract panicked: %v", r)}
			}
		}()
		v, err := fn()
		done <- result{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
