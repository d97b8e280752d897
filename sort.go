package obscache

import (
	"context"
	"sort"
)

// sorter holds the ordered state of one Sort subscription.
type sorter[K comparable, V any] struct {
	items     []KeyValue[K, V]
	comparer  Comparer[V]
	opts      SortOptions
	firstEmit bool
}

func newSorter[K comparable, V any](comparer Comparer[V], opts SortOptions) *sorter[K, V] {
	if opts.ResetThreshold <= 0 {
		opts.ResetThreshold = defaultResetThreshold
	}
	return &sorter[K, V]{
		comparer:  comparer,
		opts:      opts,
		firstEmit: true,
	}
}

// indexOfKey locates an item by key with a linear scan. Key positions
// cannot be binary-searched because the comparer orders values, not keys.
func (s *sorter[K, V]) indexOfKey(key K) int {
	for i, kv := range s.items {
		if kv.Key == key {
			return i
		}
	}
	return noIndex
}

// insertionIndex finds where a value belongs in the current order. With
// ComparesImmutableValuesOnly the slice is guaranteed sorted under the
// comparer, so binary search applies; otherwise a linear scan tolerates
// items whose comparable state drifted since insertion.
func (s *sorter[K, V]) insertionIndex(value V) int {
	if s.opts.Optimisations.Has(ComparesImmutableValuesOnly) {
		return sort.Search(len(s.items), func(i int) bool {
			return s.comparer(s.items[i].Value, value) > 0
		})
	}
	for i, kv := range s.items {
		if s.comparer(kv.Value, value) > 0 {
			return i
		}
	}
	return len(s.items)
}

func (s *sorter[K, V]) insertAt(index int, kv KeyValue[K, V]) {
	s.items = append(s.items, KeyValue[K, V]{})
	copy(s.items[index+1:], s.items[index:])
	s.items[index] = kv
}

func (s *sorter[K, V]) removeAt(index int) {
	s.items = append(s.items[:index], s.items[index+1:]...)
}

func (s *sorter[K, V]) sortAll() {
	sort.SliceStable(s.items, func(i, j int) bool {
		return s.comparer(s.items[i].Value, s.items[j].Value) < 0
	})
}

// inOrderAt reports whether the item at index respects the order with
// respect to its neighbours.
func (s *sorter[K, V]) inOrderAt(index int) bool {
	if index > 0 && s.comparer(s.items[index-1].Value, s.items[index].Value) > 0 {
		return false
	}
	if index < len(s.items)-1 && s.comparer(s.items[index].Value, s.items[index+1].Value) > 0 {
		return false
	}
	return true
}

// snapshot returns the sorted collection copy accompanying an emission.
func (s *sorter[K, V]) snapshot(reason SortReason) KeyValueCollection[K, V] {
	items := make([]KeyValue[K, V], len(s.items))
	copy(items, s.items)
	return KeyValueCollection[K, V]{
		Items:         items,
		Comparer:      s.comparer,
		Reason:        reason,
		Optimisations: s.opts.Optimisations,
	}
}

// applyReset rebuilds the whole collection from a large batch and emits a
// synthetic reset.
func (s *sorter[K, V]) applyReset(changes ChangeSet[K, V]) SortedChangeSet[K, V] {
	for _, change := range changes {
		switch change.Reason {
		case ReasonAdd:
			s.items = append(s.items, KeyValue[K, V]{Key: change.Key, Value: change.Current})
		case ReasonUpdate:
			if idx := s.indexOfKey(change.Key); idx != noIndex {
				s.items[idx].Value = change.Current
			}
		case ReasonRemove:
			if idx := s.indexOfKey(change.Key); idx != noIndex {
				s.removeAt(idx)
			}
		}
	}
	s.sortAll()
	return SortedChangeSet[K, V]{
		Changes: changes,
		Sorted:  s.snapshot(SortReasonReset),
	}
}

// applyIncremental places each change individually, producing indexed
// changes including Moved entries for refresh-induced repositioning.
func (s *sorter[K, V]) applyIncremental(changes ChangeSet[K, V]) SortedChangeSet[K, V] {
	out := make(ChangeSet[K, V], 0, len(changes))

	insertAtEnd := s.opts.Optimisations.Has(InsertAtEndThenSort)
	pendingSort := false

	for _, change := range changes {
		switch change.Reason {
		case ReasonAdd:
			if insertAtEnd {
				s.items = append(s.items, KeyValue[K, V]{Key: change.Key, Value: change.Current})
				pendingSort = true
				out = append(out, change)
				continue
			}
			idx := s.insertionIndex(change.Current)
			s.insertAt(idx, KeyValue[K, V]{Key: change.Key, Value: change.Current})
			out = append(out, change.WithIndexes(idx, noIndex))

		case ReasonUpdate:
			old := s.indexOfKey(change.Key)
			if old == noIndex {
				// Upstream update for a key this view never saw; treat
				// as an add.
				idx := s.insertionIndex(change.Current)
				s.insertAt(idx, KeyValue[K, V]{Key: change.Key, Value: change.Current})
				out = append(out, NewChange(ReasonAdd, change.Key, change.Current).WithIndexes(idx, noIndex))
				continue
			}
			s.removeAt(old)
			idx := s.insertionIndex(change.Current)
			s.insertAt(idx, KeyValue[K, V]{Key: change.Key, Value: change.Current})
			out = append(out, change.WithIndexes(idx, old))

		case ReasonRemove:
			idx := s.indexOfKey(change.Key)
			if idx == noIndex {
				continue
			}
			s.removeAt(idx)
			out = append(out, change.WithIndexes(idx, noIndex))

		case ReasonRefresh:
			idx := s.indexOfKey(change.Key)
			if idx == noIndex {
				continue
			}
			if s.opts.Optimisations.Has(IgnoreRefreshes) {
				out = append(out, change.WithIndexes(idx, noIndex))
				continue
			}
			if s.inOrderAt(idx) {
				out = append(out, change.WithIndexes(idx, noIndex))
				continue
			}
			// The refreshed item no longer respects the order: move it.
			kv := s.items[idx]
			s.removeAt(idx)
			next := s.insertionIndex(kv.Value)
			s.insertAt(next, kv)
			moved, err := NewIndexedChange(ReasonMoved, change.Key, kv.Value, next, idx)
			if err == nil {
				out = append(out, moved)
			}
			out = append(out, change.WithIndexes(next, noIndex))
		}
	}

	if pendingSort {
		s.sortAll()
		// Stamp the final positions onto the batched adds.
		for i, change := range out {
			if change.Reason == ReasonAdd && change.CurrentIndex == noIndex {
				out[i] = change.WithIndexes(s.indexOfKey(change.Key), noIndex)
			}
		}
	}

	reason := SortReasonDataChanged
	if s.firstEmit {
		reason = SortReasonInitialLoad
	}
	return SortedChangeSet[K, V]{
		Changes: out,
		Sorted:  s.snapshot(reason),
	}
}

func (s *sorter[K, V]) apply(changes ChangeSet[K, V]) SortedChangeSet[K, V] {
	var result SortedChangeSet[K, V]
	if len(changes) > s.opts.ResetThreshold {
		result = s.applyReset(changes)
	} else {
		result = s.applyIncremental(changes)
	}
	s.firstEmit = false
	return result
}

// Sort maintains an ordered view of an unsorted changeset stream and
// emits each batch with positional indices, Moved entries and the full
// sorted snapshot. Batches larger than the reset threshold resort the
// whole collection and emit a Reset.
func Sort[K comparable, V any](ctx context.Context, in <-chan ChangeSet[K, V], comparer Comparer[V], opts ...SortOption) <-chan SortedChangeSet[K, V] {
	return SortDynamic(ctx, in, comparer, nil, nil, opts...)
}

// SortDynamic is Sort with live control inputs: each comparer received on
// comparers replaces the order and emits a ComparerChanged reset, and
// each signal on resort re-sorts under the current comparer and emits a
// Reorder. Either control channel may be nil.
func SortDynamic[K comparable, V any](
	ctx context.Context,
	in <-chan ChangeSet[K, V],
	comparer Comparer[V],
	comparers <-chan Comparer[V],
	resort <-chan struct{},
	opts ...SortOption,
) <-chan SortedChangeSet[K, V] {
	var options SortOptions
	for _, opt := range opts {
		opt(&options)
	}

	out := make(chan SortedChangeSet[K, V], cap(in))
	state := newSorter[K, V](comparer, options)

	emit := func(scs SortedChangeSet[K, V]) bool {
		select {
		case out <- scs:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return

			case changes, ok := <-in:
				if !ok {
					return
				}
				if len(changes) == 0 {
					continue
				}
				if !emit(state.apply(changes)) {
					return
				}

			case next, ok := <-comparers:
				if !ok {
					comparers = nil
					continue
				}
				state.comparer = next
				state.sortAll()
				if !emit(SortedChangeSet[K, V]{Sorted: state.snapshot(SortReasonComparerChanged)}) {
					return
				}

			case _, ok := <-resort:
				if !ok {
					resort = nil
					continue
				}
				state.sortAll()
				if !emit(SortedChangeSet[K, V]{Sorted: state.snapshot(SortReasonReorder)}) {
					return
				}
			}
		}
	}()

	return out
}
