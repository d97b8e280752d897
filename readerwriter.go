package obscache

import "sync"

// ReaderWriter serialises all writes against a ChangeAwareCache and
// produces one changeset per edit. Snapshot accessors take a read lock
// and return stable copies, so no partial state is ever observable
// between two writes.
type ReaderWriter[K comparable, V any] struct {
	mu    sync.RWMutex
	cache *ChangeAwareCache[K, V]
}

// NewReaderWriter creates an empty ReaderWriter.
func NewReaderWriter[K comparable, V any]() *ReaderWriter[K, V] {
	return &ReaderWriter[K, V]{
		cache: NewChangeAwareCache[K, V](),
	}
}

// Write applies the edit action under the write lock and returns the
// captured changeset together with the post-state count. A panicking
// action leaves no pending changes behind: the partial batch is captured
// and discarded before the panic is re-raised, so the cache stays usable.
func (rw *ReaderWriter[K, V]) Write(fn func(*ChangeAwareCache[K, V])) (changes ChangeSet[K, V], count int) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			rw.rollback()
			panic(r)
		}
	}()

	fn(rw.cache)
	return rw.cache.CaptureChanges(), rw.cache.Count()
}

// WriteChanges replays a foreign changeset and returns the resulting
// net changeset and post-state count.
func (rw *ReaderWriter[K, V]) WriteChanges(incoming ChangeSet[K, V]) (ChangeSet[K, V], int) {
	return rw.Write(func(c *ChangeAwareCache[K, V]) {
		c.Clone(incoming)
	})
}

// rollback undoes the uncaptured mutations of a failed edit by replaying
// their inverse, then discards the recorded changes.
func (rw *ReaderWriter[K, V]) rollback() {
	partial := rw.cache.CaptureChanges()
	for i := len(partial) - 1; i >= 0; i-- {
		change := partial[i]
		switch change.Reason {
		case ReasonAdd:
			delete(rw.cache.data, change.Key)
		case ReasonUpdate:
			rw.cache.data[change.Key] = change.Previous
		case ReasonRemove:
			rw.cache.data[change.Key] = change.Current
		}
	}
}

// Count returns the number of items currently held.
func (rw *ReaderWriter[K, V]) Count() int {
	rw.mu.RLock()
	defer rw.mu.RUnlock()
	return rw.cache.Count()
}

// Lookup returns the value for the given key.
func (rw *ReaderWriter[K, V]) Lookup(key K) (V, bool) {
	rw.mu.RLock()
	defer rw.mu.RUnlock()
	return rw.cache.Lookup(key)
}

// Keys returns a copy of the keys in undefined order.
func (rw *ReaderWriter[K, V]) Keys() []K {
	rw.mu.RLock()
	defer rw.mu.RUnlock()
	return rw.cache.Keys()
}

// Items returns a copy of the values in undefined order.
func (rw *ReaderWriter[K, V]) Items() []V {
	rw.mu.RLock()
	defer rw.mu.RUnlock()
	return rw.cache.Items()
}

// KeyValues returns a copy of the entries in undefined order.
func (rw *ReaderWriter[K, V]) KeyValues() []KeyValue[K, V] {
	rw.mu.RLock()
	defer rw.mu.RUnlock()
	return rw.cache.KeyValues()
}
