package obscache

import "context"

// TransformMany flattens each parent value into a set of children keyed
// by childKey. Child keys must be unique across all parents. A parent
// update re-projects its children and emits the minimal add/update/
// remove diff; a parent removal removes all of its children; a parent
// refresh re-projects as well, since the child set may depend on mutable
// parent state.
func TransformMany[K comparable, V any, CK comparable, C any](
	ctx context.Context,
	in <-chan ChangeSet[K, V],
	project func(V) []C,
	childKey func(C) CK,
) <-chan ChangeSet[CK, C] {
	out := make(chan ChangeSet[CK, C], cap(in))

	// children tracks each parent's child keys; values holds the child
	// values so removals carry the prior value.
	children := make(map[K][]CK)
	values := make(map[CK]C)

	addAll := func(parent K, items []C, sink *ChangeSet[CK, C]) {
		keys := make([]CK, 0, len(items))
		for _, item := range items {
			ck := childKey(item)
			keys = append(keys, ck)
			values[ck] = item
			*sink = append(*sink, NewChange(ReasonAdd, ck, item))
		}
		children[parent] = keys
	}

	removeAll := func(parent K, sink *ChangeSet[CK, C]) {
		for _, ck := range children[parent] {
			if prior, ok := values[ck]; ok {
				delete(values, ck)
				*sink = append(*sink, NewChange(ReasonRemove, ck, prior))
			}
		}
		delete(children, parent)
	}

	diff := func(parent K, items []C, sink *ChangeSet[CK, C]) {
		nextKeys := make([]CK, 0, len(items))
		nextSet := make(map[CK]C, len(items))
		for _, item := range items {
			ck := childKey(item)
			nextKeys = append(nextKeys, ck)
			nextSet[ck] = item
		}

		for _, ck := range children[parent] {
			if _, keep := nextSet[ck]; !keep {
				if prior, ok := values[ck]; ok {
					delete(values, ck)
					*sink = append(*sink, NewChange(ReasonRemove, ck, prior))
				}
			}
		}

		for _, ck := range nextKeys {
			item := nextSet[ck]
			if prior, existed := values[ck]; existed {
				values[ck] = item
				*sink = append(*sink, NewUpdateChange(ck, item, prior))
			} else {
				values[ck] = item
				*sink = append(*sink, NewChange(ReasonAdd, ck, item))
			}
		}
		children[parent] = nextKeys
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
				result := make(ChangeSet[CK, C], 0, len(changes))
				for _, change := range changes {
					switch change.Reason {
					case ReasonAdd:
						addAll(change.Key, project(change.Current), &result)
					case ReasonUpdate, ReasonRefresh:
						diff(change.Key, project(change.Current), &result)
					case ReasonRemove:
						removeAll(change.Key, &result)
					}
				}
				if len(result) == 0 {
					continue
				}
				select {
				case out <- result:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
