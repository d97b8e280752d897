package obscache

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"obscache/core"
)

// TransformAsync projects each value through a potentially slow,
// fallible function with bounded concurrency. At most maxConcurrency
// projections run at once (guarded by a weighted semaphore), and
// per-key ordering is preserved through per-key serial queues: a later
// change for a key never overtakes an earlier one, while different keys
// proceed independently.
//
// Results are emitted as single-change changesets in completion order
// (batching is not preserved across the async boundary). A failing
// projection becomes a dropped change delivered to onError; with a nil
// onError it is logged and dropped. The output closes once the upstream
// closes and all in-flight projections have drained.
func TransformAsync[K comparable, V, R any](
	ctx context.Context,
	in <-chan ChangeSet[K, V],
	project func(context.Context, V) (R, error),
	maxConcurrency int64,
	onError func(*TransformError[K, V]),
) <-chan ChangeSet[K, R] {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	out := make(chan ChangeSet[K, R], cap(in))
	sem := semaphore.NewWeighted(maxConcurrency)

	var (
		mu        sync.Mutex
		projected = make(map[K]R)
		tails     = make(map[K]chan struct{})
		wg        sync.WaitGroup
	)

	emit := func(change Change[K, R]) {
		select {
		case out <- ChangeSet[K, R]{change}:
		case <-ctx.Done():
		}
	}

	fail := func(change Change[K, V], err error) {
		terr := &TransformError[K, V]{Key: change.Key, Value: change.Current, Err: err}
		if onError != nil {
			onError(terr)
			return
		}
		core.Error("async transform failed, change dropped", zap.Any("key", change.Key), zap.Error(err))
	}

	// enqueue chains the job behind the key's previous job so per-key
	// order holds regardless of scheduling.
	enqueue := func(change Change[K, V]) {
		mu.Lock()
		tail := tails[change.Key]
		done := make(chan struct{})
		tails[change.Key] = done
		mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(done)

			if tail != nil {
				select {
				case <-tail:
				case <-ctx.Done():
					return
				}
			}

			switch change.Reason {
			case ReasonAdd, ReasonUpdate:
				if err := sem.Acquire(ctx, 1); err != nil {
					return
				}
				result, err := project(ctx, change.Current)
				sem.Release(1)
				if err != nil {
					fail(change, err)
					return
				}

				mu.Lock()
				previous, had := projected[change.Key]
				projected[change.Key] = result
				mu.Unlock()

				if had {
					emit(NewUpdateChange(change.Key, result, previous))
				} else {
					emit(NewChange(ReasonAdd, change.Key, result))
				}

			case ReasonRemove:
				mu.Lock()
				previous, had := projected[change.Key]
				delete(projected, change.Key)
				mu.Unlock()
				if had {
					emit(NewChange(ReasonRemove, change.Key, previous))
				}

			case ReasonRefresh:
				mu.Lock()
				current, had := projected[change.Key]
				mu.Unlock()
				if had {
					emit(NewChange(ReasonRefresh, change.Key, current))
				}
			}
		}()
	}

	go func() {
		defer func() {
			wg.Wait()
			close(out)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case changes, ok := <-in:
				if !ok {
					return
				}
				for _, change := range changes {
					enqueue(change)
				}
			}
		}
	}()

	return out
}
