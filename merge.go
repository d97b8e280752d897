package obscache

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"obscache/core"
)

// MergeMany subscribes to a per-item stream produced by the selector and
// merges every inner emission into one output. An item's inner
// subscription is torn down when the item is removed and replaced when
// the item is updated.
func MergeMany[K comparable, V any, T any](
	ctx context.Context,
	in <-chan ChangeSet[K, V],
	selector func(K, V) <-chan T,
) <-chan T {
	out := make(chan T, cap(in))

	type innerSub struct {
		cancel context.CancelFunc
	}
	subs := make(map[K]*innerSub)
	var wg sync.WaitGroup

	open := func(key K, value V) {
		innerCtx, cancel := context.WithCancel(ctx)
		subs[key] = &innerSub{cancel: cancel}
		inner := selector(key, value)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-innerCtx.Done():
					return
				case item, ok := <-inner:
					if !ok {
						return
					}
					select {
					case out <- item:
					case <-innerCtx.Done():
						return
					}
				}
			}
		}()
	}

	closeSub := func(key K) {
		if sub, ok := subs[key]; ok {
			sub.cancel()
			delete(subs, key)
		}
	}

	go func() {
		defer func() {
			for key := range subs {
				closeSub(key)
			}
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
					switch change.Reason {
					case ReasonAdd:
						open(change.Key, change.Current)
					case ReasonUpdate:
						closeSub(change.Key)
						open(change.Key, change.Current)
					case ReasonRemove:
						closeSub(change.Key)
					}
				}
			}
		}
	}()

	return out
}

// Switch flattens a stream of changeset streams: each inner stream
// replaces the previous one, removing the state the old stream emitted
// and rebuilding from the new stream's changesets (snapshot-first
// streams re-add what they hold after that removal).
func Switch[K comparable, V any](ctx context.Context, sources <-chan <-chan ChangeSet[K, V]) <-chan ChangeSet[K, V] {
	out := make(chan ChangeSet[K, V], 1)

	go func() {
		defer close(out)

		var inner <-chan ChangeSet[K, V]
		emitted := NewChangeAwareCache[K, V]()

		emit := func(changes ChangeSet[K, V]) bool {
			emitted.Clone(changes)
			batch := emitted.CaptureChanges()
			if len(batch) == 0 {
				return true
			}
			select {
			case out <- batch:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return

			case next, ok := <-sources:
				if !ok {
					return
				}
				inner = next
				stale := make(ChangeSet[K, V], 0)
				for _, kv := range emitted.KeyValues() {
					stale = append(stale, NewChange(ReasonRemove, kv.Key, kv.Value))
				}
				if !emit(stale) {
					return
				}

			case changes, ok := <-inner:
				if !ok {
					inner = nil
					continue
				}
				if !emit(changes) {
					return
				}
			}
		}
	}()

	return out
}

// Shared multicasts one upstream subscription to many subscribers with
// reference counting: the first Connect opens the upstream, the last
// disposal closes it, and a later Connect re-opens a fresh upstream.
type Shared[K comparable, V any] struct {
	factory func(context.Context) <-chan ChangeSet[K, V]

	mu          sync.Mutex
	subscribers map[string]struct{}
	inner       *IntermediateCache[K, V]
	cancel      context.CancelFunc
}

// Share creates a ref-counted multicast over an upstream factory. The
// factory is invoked once per upstream generation; its stream is
// replayed into an internal cache so late subscribers receive the
// accumulated state as their snapshot.
func Share[K comparable, V any](factory func(context.Context) <-chan ChangeSet[K, V]) *Shared[K, V] {
	return &Shared[K, V]{
		factory:     factory,
		subscribers: make(map[string]struct{}),
	}
}

// Connect subscribes, opening the upstream when this is the first live
// subscriber.
func (s *Shared[K, V]) Connect(ctx context.Context) <-chan ChangeSet[K, V] {
	s.mu.Lock()

	token := uuid.NewString()
	s.subscribers[token] = struct{}{}

	if len(s.subscribers) == 1 {
		upstreamCtx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.inner = NewIntermediateCache[K, V]()

		upstream := s.factory(upstreamCtx)
		go func(cache *IntermediateCache[K, V]) {
			for changes := range upstream {
				if err := cache.EditChanges(changes); err != nil {
					core.Warn("shared upstream edit rejected", zap.String("subscriber", token), zap.Error(err))
					return
				}
			}
		}(s.inner)

		core.Debug("shared upstream opened", zap.String("subscriber", token))
	}

	inner := s.inner
	s.mu.Unlock()

	ch := inner.Connect(ctx)

	go func() {
		<-ctx.Done()
		s.release(token)
	}()

	return ch
}

// release drops a subscriber and closes the upstream when none remain.
func (s *Shared[K, V]) release(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscribers[token]; !ok {
		return
	}
	delete(s.subscribers, token)

	if len(s.subscribers) == 0 {
		s.cancel()
		s.inner.Close()
		s.inner = nil
		s.cancel = nil
		core.Debug("shared upstream closed", zap.String("subscriber", token))
	}
}
