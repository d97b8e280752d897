package obscache

import "context"

// applyFilter pushes one upstream changeset through a predicate,
// maintaining the filtered membership state, and returns the changes the
// filtered view observes. Updates crossing the predicate boundary
// surface as adds and removes; refreshes re-evaluate the predicate.
func applyFilter[K comparable, V any](state *ChangeAwareCache[K, V], predicate func(V) bool, changes ChangeSet[K, V]) ChangeSet[K, V] {
	for _, change := range changes {
		switch change.Reason {
		case ReasonAdd, ReasonUpdate:
			if predicate(change.Current) {
				state.AddOrUpdate(change.Current, change.Key)
			} else {
				state.Remove(change.Key)
			}
		case ReasonRemove:
			state.Remove(change.Key)
		case ReasonRefresh:
			_, included := state.Lookup(change.Key)
			matches := predicate(change.Current)
			switch {
			case matches && included:
				state.RefreshKey(change.Key)
			case matches && !included:
				state.AddOrUpdate(change.Current, change.Key)
			case !matches && included:
				state.Remove(change.Key)
			}
		}
	}
	return state.CaptureChanges()
}

// reapplyFilter re-evaluates every upstream item against a new
// predicate, emitting only the adds and removes needed to reach the new
// filtered set. Items already included that still match are not re-sent.
func reapplyFilter[K comparable, V any](state *ChangeAwareCache[K, V], predicate func(V) bool, upstream []KeyValue[K, V]) ChangeSet[K, V] {
	matching := make(map[K]struct{}, len(upstream))
	for _, kv := range upstream {
		if predicate(kv.Value) {
			matching[kv.Key] = struct{}{}
			if _, included := state.Lookup(kv.Key); !included {
				state.AddOrUpdate(kv.Value, kv.Key)
			}
		}
	}
	for _, key := range state.Keys() {
		if _, ok := matching[key]; !ok {
			state.Remove(key)
		}
	}
	return state.CaptureChanges()
}

// Filter produces a stream containing only items matching the predicate.
// The downstream state always equals the predicate applied to the
// upstream state: updates moving an item across the boundary emit Add or
// Remove, and refreshes re-evaluate membership.
func Filter[K comparable, V any](ctx context.Context, in <-chan ChangeSet[K, V], predicate func(V) bool) <-chan ChangeSet[K, V] {
	out := make(chan ChangeSet[K, V], cap(in))
	state := NewChangeAwareCache[K, V]()

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
				filtered := applyFilter(state, predicate, changes)
				if len(filtered) == 0 {
					continue
				}
				select {
				case out <- filtered:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// FilterDynamic produces a filtered stream whose predicate can change
// over time. Each value received on predicates replaces the active
// predicate and re-evaluates all upstream items; a signal on reapply
// re-evaluates with the current predicate (for predicates over mutable
// state). Either control channel may be nil.
//
// Until a first predicate arrives, everything matches.
func FilterDynamic[K comparable, V any](
	ctx context.Context,
	in <-chan ChangeSet[K, V],
	predicates <-chan func(V) bool,
	reapply <-chan struct{},
) <-chan ChangeSet[K, V] {
	out := make(chan ChangeSet[K, V], cap(in))
	state := NewChangeAwareCache[K, V]()
	mirror := NewChangeAwareCache[K, V]()
	predicate := func(V) bool { return true }

	emit := func(changes ChangeSet[K, V]) bool {
		if len(changes) == 0 {
			return true
		}
		select {
		case out <- changes:
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
				// Keep the unfiltered mirror current, then filter.
				mirror.Clone(changes)
				mirror.CaptureChanges()
				if !emit(applyFilter(state, predicate, changes)) {
					return
				}

			case next, ok := <-predicates:
				if !ok {
					predicates = nil
					continue
				}
				predicate = next
				if !emit(reapplyFilter(state, predicate, mirror.KeyValues())) {
					return
				}

			case _, ok := <-reapply:
				if !ok {
					reapply = nil
					continue
				}
				if !emit(reapplyFilter(state, predicate, mirror.KeyValues())) {
					return
				}
			}
		}
	}()

	return out
}
