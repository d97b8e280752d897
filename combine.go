package obscache

import (
	"context"
	"sync"
)

// CombineOperator selects the set-algebraic rule a Combine stream
// applies across its sources.
type CombineOperator int

const (
	// CombineAnd includes keys present in every source.
	CombineAnd CombineOperator = iota

	// CombineOr includes keys present in any source.
	CombineOr

	// CombineXor includes keys present in exactly one source.
	CombineXor

	// CombineExcept includes keys present in the first source and absent
	// from all others.
	CombineExcept
)

// String implements fmt.Stringer.
func (op CombineOperator) String() string {
	switch op {
	case CombineAnd:
		return "And"
	case CombineOr:
		return "Or"
	case CombineXor:
		return "Xor"
	case CombineExcept:
		return "Except"
	default:
		return "Unknown"
	}
}

// includes applies the rule to a key's membership vector.
func (op CombineOperator) includes(present []bool) bool {
	count := 0
	for _, p := range present {
		if p {
			count++
		}
	}
	switch op {
	case CombineAnd:
		return count == len(present) && count > 0
	case CombineOr:
		return count > 0
	case CombineXor:
		return count == 1
	case CombineExcept:
		if !present[0] {
			return false
		}
		return count == 1
	default:
		return false
	}
}

// sourcedChanges tags a batch with the source it came from.
type sourcedChanges[K comparable, V any] struct {
	source  int
	changes ChangeSet[K, V]
}

// combineState tracks each key's per-source membership and values.
type combineState[K comparable, V any] struct {
	op      CombineOperator
	sources int
	values  map[K][]Optional[V]
	results *ChangeAwareCache[K, V]
}

func newCombineState[K comparable, V any](op CombineOperator, sources int) *combineState[K, V] {
	return &combineState[K, V]{
		op:      op,
		sources: sources,
		values:  make(map[K][]Optional[V]),
		results: NewChangeAwareCache[K, V](),
	}
}

func (c *combineState[K, V]) apply(msg sourcedChanges[K, V]) {
	for _, change := range msg.changes {
		vector, ok := c.values[change.Key]
		if !ok {
			vector = make([]Optional[V], c.sources)
			c.values[change.Key] = vector
		}
		switch change.Reason {
		case ReasonAdd, ReasonUpdate, ReasonRefresh:
			vector[msg.source] = Some(change.Current)
		case ReasonRemove:
			vector[msg.source] = None[V]()
		}
		c.recompute(change.Key, vector)
	}
}

// recompute transitions the key's output membership, carrying the first
// present source's value as the winner.
func (c *combineState[K, V]) recompute(key K, vector []Optional[V]) {
	present := make([]bool, len(vector))
	hasAny := false
	for i, opt := range vector {
		present[i] = opt.Ok
		hasAny = hasAny || opt.Ok
	}

	if !hasAny {
		delete(c.values, key)
	}

	if !c.op.includes(present) {
		c.results.Remove(key)
		return
	}
	for _, opt := range vector {
		if opt.Ok {
			c.results.AddOrUpdate(opt.Value, key)
			return
		}
	}
}

// Combine merges N keyed streams into one by set algebra on the key.
// The emitted value for an included key comes from the first source
// holding it. Each source batch yields at most one output batch with the
// minimal transitions.
func Combine[K comparable, V any](ctx context.Context, op CombineOperator, sources ...<-chan ChangeSet[K, V]) <-chan ChangeSet[K, V] {
	out := make(chan ChangeSet[K, V], 1)

	state := newCombineState[K, V](op, len(sources))
	merged := make(chan sourcedChanges[K, V])

	var wg sync.WaitGroup
	for i, source := range sources {
		wg.Add(1)
		go func(index int, in <-chan ChangeSet[K, V]) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case changes, ok := <-in:
					if !ok {
						return
					}
					select {
					case merged <- sourcedChanges[K, V]{source: index, changes: changes}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(i, source)
	}

	go func() {
		wg.Wait()
		close(merged)
	}()

	go func() {
		defer close(out)
		for msg := range merged {
			state.apply(msg)
			batch := state.results.CaptureChanges()
			if len(batch) == 0 {
				continue
			}
			select {
			case out <- batch:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// And includes keys present in every source.
func And[K comparable, V any](ctx context.Context, sources ...<-chan ChangeSet[K, V]) <-chan ChangeSet[K, V] {
	return Combine(ctx, CombineAnd, sources...)
}

// Or includes keys present in any source.
func Or[K comparable, V any](ctx context.Context, sources ...<-chan ChangeSet[K, V]) <-chan ChangeSet[K, V] {
	return Combine(ctx, CombineOr, sources...)
}

// Xor includes keys present in exactly one source.
func Xor[K comparable, V any](ctx context.Context, sources ...<-chan ChangeSet[K, V]) <-chan ChangeSet[K, V] {
	return Combine(ctx, CombineXor, sources...)
}

// Except includes keys present in the first source and in none of the
// others.
func Except[K comparable, V any](ctx context.Context, sources ...<-chan ChangeSet[K, V]) <-chan ChangeSet[K, V] {
	return Combine(ctx, CombineExcept, sources...)
}

// CombineDynamic is Combine over a live list of sources: each slice
// received on sourceLists replaces the current set, tearing down the old
// subscriptions and rebuilding membership from the new sources. Every key
// the previous set produced is removed as soon as the set is replaced;
// sources that emit an initial snapshot (as Connect does) then re-add the
// keys they hold.
func CombineDynamic[K comparable, V any](
	ctx context.Context,
	op CombineOperator,
	sourceLists <-chan []<-chan ChangeSet[K, V],
) <-chan ChangeSet[K, V] {
	out := make(chan ChangeSet[K, V], 1)

	go func() {
		defer close(out)

		var (
			generation context.CancelFunc
			inner      <-chan ChangeSet[K, V]
			emitted    = NewChangeAwareCache[K, V]()
		)
		defer func() {
			if generation != nil {
				generation()
			}
		}()

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

			case sources, ok := <-sourceLists:
				if !ok {
					return
				}
				if generation != nil {
					generation()
				}
				var genCtx context.Context
				genCtx, generation = context.WithCancel(ctx)
				inner = Combine(genCtx, op, sources...)

				// Drop keys the previous generation emitted; the new
				// sources rebuild from their snapshots.
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
