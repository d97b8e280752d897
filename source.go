package obscache

import "context"

// KeySelector extracts the key an item is stored under.
type KeySelector[K comparable, V any] func(V) K

// SourceUpdater is the edit surface of a SourceCache. Keys are derived
// from items through the cache's key selector, so callers deal in items
// only. All mutations performed within one Edit form a single atomic
// batch producing at most one changeset.
type SourceUpdater[K comparable, V any] interface {
	// AddOrUpdate adds the item or replaces the stored value.
	AddOrUpdate(item V)

	// AddOrUpdateMany adds or replaces each of the given items.
	AddOrUpdateMany(items []V)

	// Remove removes the item with the given key. Absent keys no-op.
	Remove(key K)

	// RemoveItem removes the item under its selected key.
	RemoveItem(item V)

	// RemoveMany removes each of the given keys.
	RemoveMany(keys []K)

	// Refresh signals re-evaluation of every item.
	Refresh()

	// RefreshKey signals re-evaluation of one key.
	RefreshKey(key K)

	// RefreshKeys signals re-evaluation of the given keys.
	RefreshKeys(keys []K)

	// Clear removes every item.
	Clear()

	// Load replaces the entire contents with the given items, atomically
	// (a clear followed by adds within the same batch).
	Load(items []V)

	// Count returns the number of items mid-edit.
	Count() int

	// Lookup returns the value for the given key mid-edit.
	Lookup(key K) (V, bool)

	// Keys returns the keys mid-edit, in undefined order.
	Keys() []K

	// Items returns the values mid-edit, in undefined order.
	Items() []V
}

// sourceUpdater adapts a ChangeAwareCache to the SourceUpdater surface.
type sourceUpdater[K comparable, V any] struct {
	cache    *ChangeAwareCache[K, V]
	selector KeySelector[K, V]
}

func (u *sourceUpdater[K, V]) AddOrUpdate(item V) {
	u.cache.AddOrUpdate(item, u.selector(item))
}

func (u *sourceUpdater[K, V]) AddOrUpdateMany(items []V) {
	for _, item := range items {
		u.AddOrUpdate(item)
	}
}

func (u *sourceUpdater[K, V]) Remove(key K)           { u.cache.Remove(key) }
func (u *sourceUpdater[K, V]) RemoveItem(item V)      { u.cache.Remove(u.selector(item)) }
func (u *sourceUpdater[K, V]) RemoveMany(keys []K)    { u.cache.RemoveKeys(keys) }
func (u *sourceUpdater[K, V]) Refresh()               { u.cache.Refresh() }
func (u *sourceUpdater[K, V]) RefreshKey(key K)       { u.cache.RefreshKey(key) }
func (u *sourceUpdater[K, V]) RefreshKeys(keys []K)   { u.cache.RefreshKeys(keys) }
func (u *sourceUpdater[K, V]) Clear()                 { u.cache.Clear() }
func (u *sourceUpdater[K, V]) Count() int             { return u.cache.Count() }
func (u *sourceUpdater[K, V]) Lookup(key K) (V, bool) { return u.cache.Lookup(key) }
func (u *sourceUpdater[K, V]) Keys() []K              { return u.cache.Keys() }
func (u *sourceUpdater[K, V]) Items() []V             { return u.cache.Items() }

func (u *sourceUpdater[K, V]) Load(items []V) {
	u.cache.Clear()
	for _, item := range items {
		u.AddOrUpdate(item)
	}
}

// SourceCache is the external-facing handle of an observable cache whose
// keys derive from the items themselves. It is a thin wrapper around an
// ObservableCache adding the item-oriented edit surface.
//
//	source := obscache.NewSourceCache[string, Person](func(p Person) string { return p.Name })
//	defer source.Close()
//	source.Edit(func(u obscache.SourceUpdater[string, Person]) {
//	    u.AddOrUpdate(Person{Name: "Adult1", Age: 50})
//	})
type SourceCache[K comparable, V any] struct {
	inner    *ObservableCache[K, V]
	selector KeySelector[K, V]
}

// NewSourceCache creates an empty source cache with the given key
// selector.
func NewSourceCache[K comparable, V any](selector KeySelector[K, V]) *SourceCache[K, V] {
	return NewSourceCacheWithOptions[K, V](selector, nil)
}

// NewSourceCacheWithOptions creates an empty source cache with custom
// options.
func NewSourceCacheWithOptions[K comparable, V any](selector KeySelector[K, V], opts *Options) *SourceCache[K, V] {
	return &SourceCache[K, V]{
		inner:    NewObservableCacheWithOptions[K, V](opts),
		selector: selector,
	}
}

// Edit applies an atomic edit batch. One changeset is published per edit
// with a net effect; edits without one publish nothing.
func (s *SourceCache[K, V]) Edit(fn func(SourceUpdater[K, V])) error {
	return s.inner.Edit(func(cache *ChangeAwareCache[K, V]) {
		fn(&sourceUpdater[K, V]{cache: cache, selector: s.selector})
	})
}

// TryEdit is Edit with panic recovery: a panicking edit action is rolled
// back, nothing is published, and the panic value comes back as an error.
func (s *SourceCache[K, V]) TryEdit(fn func(SourceUpdater[K, V])) error {
	return s.inner.TryEdit(func(cache *ChangeAwareCache[K, V]) {
		fn(&sourceUpdater[K, V]{cache: cache, selector: s.selector})
	})
}

// Connect subscribes to the cache; see ObservableCache.Connect.
func (s *SourceCache[K, V]) Connect(ctx context.Context, opts ...ConnectOption[V]) <-chan ChangeSet[K, V] {
	return s.inner.Connect(ctx, opts...)
}

// Preview subscribes without the initial snapshot.
func (s *SourceCache[K, V]) Preview(ctx context.Context, opts ...ConnectOption[V]) <-chan ChangeSet[K, V] {
	return s.inner.Preview(ctx, opts...)
}

// Watch subscribes to all changes for a single key.
func (s *SourceCache[K, V]) Watch(ctx context.Context, key K) <-chan Change[K, V] {
	return s.inner.Watch(ctx, key)
}

// CountChanged subscribes to distinct item counts.
func (s *SourceCache[K, V]) CountChanged(ctx context.Context) <-chan int {
	return s.inner.CountChanged(ctx)
}

// Count returns the number of items currently held.
func (s *SourceCache[K, V]) Count() int { return s.inner.Count() }

// Lookup returns the value for the given key.
func (s *SourceCache[K, V]) Lookup(key K) (V, bool) { return s.inner.Lookup(key) }

// Keys returns a copy of the keys in undefined order.
func (s *SourceCache[K, V]) Keys() []K { return s.inner.Keys() }

// Items returns a copy of the values in undefined order.
func (s *SourceCache[K, V]) Items() []V { return s.inner.Items() }

// KeyValues returns a copy of the entries in undefined order.
func (s *SourceCache[K, V]) KeyValues() []KeyValue[K, V] { return s.inner.KeyValues() }

// Close completes every subscriber and rejects further edits.
func (s *SourceCache[K, V]) Close() { s.inner.Close() }

// Updater is the edit surface of an IntermediateCache, where keys are
// supplied explicitly rather than derived from items.
type Updater[K comparable, V any] interface {
	// AddOrUpdate stores the value under the key.
	AddOrUpdate(value V, key K)

	// Remove removes the given key. Absent keys no-op.
	Remove(key K)

	// RemoveMany removes each of the given keys.
	RemoveMany(keys []K)

	// Refresh signals re-evaluation of every item.
	Refresh()

	// RefreshKey signals re-evaluation of one key.
	RefreshKey(key K)

	// Clear removes every item.
	Clear()

	// Clone replays a foreign changeset into this cache.
	Clone(changes ChangeSet[K, V])

	// Count returns the number of items mid-edit.
	Count() int

	// Lookup returns the value for the given key mid-edit.
	Lookup(key K) (V, bool)

	// Keys returns the keys mid-edit, in undefined order.
	Keys() []K
}

// intermediateUpdater adapts a ChangeAwareCache to the Updater surface.
type intermediateUpdater[K comparable, V any] struct {
	cache *ChangeAwareCache[K, V]
}

func (u *intermediateUpdater[K, V]) AddOrUpdate(value V, key K)      { u.cache.AddOrUpdate(value, key) }
func (u *intermediateUpdater[K, V]) Remove(key K)                    { u.cache.Remove(key) }
func (u *intermediateUpdater[K, V]) RemoveMany(keys []K)             { u.cache.RemoveKeys(keys) }
func (u *intermediateUpdater[K, V]) Refresh()                        { u.cache.Refresh() }
func (u *intermediateUpdater[K, V]) RefreshKey(key K)                { u.cache.RefreshKey(key) }
func (u *intermediateUpdater[K, V]) Clear()                          { u.cache.Clear() }
func (u *intermediateUpdater[K, V]) Clone(changes ChangeSet[K, V])   { u.cache.Clone(changes) }
func (u *intermediateUpdater[K, V]) Count() int                      { return u.cache.Count() }
func (u *intermediateUpdater[K, V]) Lookup(key K) (V, bool)          { return u.cache.Lookup(key) }
func (u *intermediateUpdater[K, V]) Keys() []K                       { return u.cache.Keys() }

// IntermediateCache is the external-facing handle used by operators and
// plumbing that address items by explicit keys.
type IntermediateCache[K comparable, V any] struct {
	inner *ObservableCache[K, V]
}

// NewIntermediateCache creates an empty intermediate cache.
func NewIntermediateCache[K comparable, V any]() *IntermediateCache[K, V] {
	return NewIntermediateCacheWithOptions[K, V](nil)
}

// NewIntermediateCacheWithOptions creates an empty intermediate cache
// with custom options.
func NewIntermediateCacheWithOptions[K comparable, V any](opts *Options) *IntermediateCache[K, V] {
	return &IntermediateCache[K, V]{inner: NewObservableCacheWithOptions[K, V](opts)}
}

// Edit applies an atomic edit batch.
func (s *IntermediateCache[K, V]) Edit(fn func(Updater[K, V])) error {
	return s.inner.Edit(func(cache *ChangeAwareCache[K, V]) {
		fn(&intermediateUpdater[K, V]{cache: cache})
	})
}

// EditChanges replays a foreign changeset as one edit.
func (s *IntermediateCache[K, V]) EditChanges(changes ChangeSet[K, V]) error {
	return s.inner.EditChanges(changes)
}

// Connect subscribes to the cache; see ObservableCache.Connect.
func (s *IntermediateCache[K, V]) Connect(ctx context.Context, opts ...ConnectOption[V]) <-chan ChangeSet[K, V] {
	return s.inner.Connect(ctx, opts...)
}

// Preview subscribes without the initial snapshot.
func (s *IntermediateCache[K, V]) Preview(ctx context.Context, opts ...ConnectOption[V]) <-chan ChangeSet[K, V] {
	return s.inner.Preview(ctx, opts...)
}

// Watch subscribes to all changes for a single key.
func (s *IntermediateCache[K, V]) Watch(ctx context.Context, key K) <-chan Change[K, V] {
	return s.inner.Watch(ctx, key)
}

// CountChanged subscribes to distinct item counts.
func (s *IntermediateCache[K, V]) CountChanged(ctx context.Context) <-chan int {
	return s.inner.CountChanged(ctx)
}

// Count returns the number of items currently held.
func (s *IntermediateCache[K, V]) Count() int { return s.inner.Count() }

// Lookup returns the value for the given key.
func (s *IntermediateCache[K, V]) Lookup(key K) (V, bool) { return s.inner.Lookup(key) }

// Keys returns a copy of the keys in undefined order.
func (s *IntermediateCache[K, V]) Keys() []K { return s.inner.Keys() }

// Items returns a copy of the values in undefined order.
func (s *IntermediateCache[K, V]) Items() []V { return s.inner.Items() }

// KeyValues returns a copy of the entries in undefined order.
func (s *IntermediateCache[K, V]) KeyValues() []KeyValue[K, V] { return s.inner.KeyValues() }

// Close completes every subscriber and rejects further edits.
func (s *IntermediateCache[K, V]) Close() { s.inner.Close() }
