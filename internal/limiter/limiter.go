// Package limiter runs a task set with a bounded number of workers in flight.
package limiter

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Hooks lets callers observe the fan-out. All fields are optional.
type Hooks struct {
	// OnStart and OnDone bracket each worker invocation.
	OnStart func()
	OnDone  func()
}

// RunBounded invokes worker once per item with at most limit invocations
// outstanding. Results are returned in completion order, not input order, and
// the slice always has len(items) entries. Workers report failure through
// their return value; nothing a worker does cancels its siblings.
func RunBounded[T, R any](ctx context.Context, items []T, limit int, worker func(context.Context, T) R) []R {
	return RunBoundedWithRecover(ctx, items, limit, worker, nil, Hooks{})
}

// RunBoundedWithRecover is RunBounded with a recovery path: a panicking worker
// yields onPanic(item, recovered) instead of tearing the process down. With a
// nil onPanic nothing is recovered and a worker panic crashes the process.
func RunBoundedWithRecover[T, R any](
	ctx context.Context,
	items []T,
	limit int,
	worker func(context.Context, T) R,
	onPanic func(T, error) R,
	hooks Hooks,
) []R {
	if limit < 1 {
		limit = 1
	}
	var (
		mu      sync.Mutex
		results = make([]R, 0, len(items))
		g       errgroup.Group
	)
	g.SetLimit(limit)

	for _, item := range items {
		g.Go(func() error {
			if hooks.OnStart != nil {
				hooks.OnStart()
			}
			if hooks.OnDone != nil {
				defer hooks.OnDone()
			}
			r := invoke(ctx, item, worker, onPanic)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers never return an error
	return results
}

func invoke[T, R any](ctx context.Context, item T, worker func(context.Context, T) R, onPanic func(T, error) R) (r R) {
	if onPanic == nil {
		return worker(ctx, item)
	}
	defer func() {
		if rec := recover(); rec != nil {
			r = onPanic(item, fmt.Errorf("worker panic: %v", rec))
		}
	}()
	return worker(ctx, item)
}
