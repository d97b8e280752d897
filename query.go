package obscache

import "context"

// Query is the snapshot view QueryWhenChanged emits after each batch.
type Query[K comparable, V any] struct {
	items map[K]V
}

// Count returns the number of items in the snapshot.
func (q Query[K, V]) Count() int {
	return len(q.items)
}

// Lookup returns the value for the given key.
func (q Query[K, V]) Lookup(key K) (V, bool) {
	v, ok := q.items[key]
	return v, ok
}

// Keys returns the keys in undefined order.
func (q Query[K, V]) Keys() []K {
	keys := make([]K, 0, len(q.items))
	for k := range q.items {
		keys = append(keys, k)
	}
	return keys
}

// Items returns the values in undefined order.
func (q Query[K, V]) Items() []V {
	items := make([]V, 0, len(q.items))
	for _, v := range q.items {
		items = append(items, v)
	}
	return items
}

// KeyValues returns the entries in undefined order.
func (q Query[K, V]) KeyValues() []KeyValue[K, V] {
	kvs := make([]KeyValue[K, V], 0, len(q.items))
	for k, v := range q.items {
		kvs = append(kvs, KeyValue[K, V]{Key: k, Value: v})
	}
	return kvs
}

// QueryWhenChanged exposes the accumulated state of a changeset stream
// as a queryable snapshot emitted after every batch. Each emission is an
// independent copy.
func QueryWhenChanged[K comparable, V any](ctx context.Context, in <-chan ChangeSet[K, V]) <-chan Query[K, V] {
	out := make(chan Query[K, V], cap(in))
	state := make(map[K]V)

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
				for _, change := range changes {
					switch change.Reason {
					case ReasonAdd, ReasonUpdate, ReasonRefresh:
						state[change.Key] = change.Current
					case ReasonRemove:
						delete(state, change.Key)
					}
				}
				snapshot := make(map[K]V, len(state))
				for k, v := range state {
					snapshot[k] = v
				}
				select {
				case out <- Query[K, V]{items: snapshot}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// ToCollection reduces each batch to the accumulated values, in
// undefined order. A convenience over QueryWhenChanged for consumers
// that only want the items.
func ToCollection[K comparable, V any](ctx context.Context, in <-chan ChangeSet[K, V]) <-chan []V {
	queries := QueryWhenChanged(ctx, in)
	out := make(chan []V, cap(in))

	go func() {
		defer close(out)
		for query := range queries {
			select {
			case out <- query.Items():
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
