package obscache

// pendingEntry is a recorded mutation awaiting capture. Entries merged
// away by later mutations in the same batch are marked dropped and
// compacted out on capture.
type pendingEntry[K comparable, V any] struct {
	change  Change[K, V]
	dropped bool
}

// ChangeAwareCache is a mutable keyed store that records every mutation
// into a pending change list. It never publishes; CaptureChanges returns
// the accumulated batch and resets the accumulator, and emission is the
// caller's concern.
//
// Mutations within one batch merge to their net per-key effect:
//   - Add then Update collapses to a single Add carrying the newest value.
//   - Add then Remove cancels out entirely and emits nothing.
//   - Update then Remove emits a single Remove carrying the value the key
//     had when the batch started.
//   - Remove then AddOrUpdate emits an Update from the pre-batch value.
//
// ChangeAwareCache is not safe for concurrent use; ReaderWriter provides
// the locking discipline around it.
type ChangeAwareCache[K comparable, V any] struct {
	data      map[K]V
	pending   []pendingEntry[K, V]
	merged    map[K]int // key -> index of its pending add/update/remove
	refreshed map[K]int // key -> index of its pending refresh
}

// NewChangeAwareCache creates an empty ChangeAwareCache.
func NewChangeAwareCache[K comparable, V any]() *ChangeAwareCache[K, V] {
	return &ChangeAwareCache[K, V]{
		data:      make(map[K]V),
		merged:    make(map[K]int),
		refreshed: make(map[K]int),
	}
}

// Count returns the number of items currently held.
func (c *ChangeAwareCache[K, V]) Count() int {
	return len(c.data)
}

// Lookup returns the value for the given key.
func (c *ChangeAwareCache[K, V]) Lookup(key K) (V, bool) {
	v, ok := c.data[key]
	return v, ok
}

// Keys returns the keys in undefined order.
func (c *ChangeAwareCache[K, V]) Keys() []K {
	keys := make([]K, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	return keys
}

// Items returns the values in undefined order.
func (c *ChangeAwareCache[K, V]) Items() []V {
	items := make([]V, 0, len(c.data))
	for _, v := range c.data {
		items = append(items, v)
	}
	return items
}

// KeyValues returns the entries in undefined order.
func (c *ChangeAwareCache[K, V]) KeyValues() []KeyValue[K, V] {
	kvs := make([]KeyValue[K, V], 0, len(c.data))
	for k, v := range c.data {
		kvs = append(kvs, KeyValue[K, V]{Key: k, Value: v})
	}
	return kvs
}

// AddOrUpdate stores the value under the key, recording an Add when the
// key is new and an Update carrying the previous value otherwise.
func (c *ChangeAwareCache[K, V]) AddOrUpdate(value V, key K) {
	previous, exists := c.data[key]
	c.data[key] = value

	if idx, ok := c.merged[key]; ok {
		entry := &c.pending[idx]
		switch entry.change.Reason {
		case ReasonAdd:
			// Still a net add; carry the newest value.
			entry.change.Current = value
			return
		case ReasonUpdate:
			// Keep the pre-batch previous value.
			entry.change.Current = value
			return
		case ReasonRemove:
			// Removed then re-added within the batch: net update from
			// the pre-batch value.
			entry.change = NewUpdateChange(key, value, entry.change.Current)
			return
		}
	}

	if exists {
		c.record(NewUpdateChange(key, value, previous))
		return
	}
	c.record(NewChange(ReasonAdd, key, value))
}

// Remove deletes the key, recording a Remove carrying the prior value.
// Removing an absent key is a no-op.
func (c *ChangeAwareCache[K, V]) Remove(key K) {
	value, exists := c.data[key]
	if !exists {
		return
	}
	delete(c.data, key)

	// A refresh for a key removed in the same batch is moot.
	if idx, ok := c.refreshed[key]; ok {
		c.pending[idx].dropped = true
		delete(c.refreshed, key)
	}

	if idx, ok := c.merged[key]; ok {
		entry := &c.pending[idx]
		switch entry.change.Reason {
		case ReasonAdd:
			// Added then removed within the batch: net nothing.
			entry.dropped = true
			delete(c.merged, key)
			return
		case ReasonUpdate:
			// Net remove of the pre-batch value.
			entry.change = NewChange(ReasonRemove, key, entry.change.Previous)
			return
		}
	}

	c.record(NewChange(ReasonRemove, key, value))
}

// RemoveKeys deletes each of the given keys.
func (c *ChangeAwareCache[K, V]) RemoveKeys(keys []K) {
	for _, key := range keys {
		c.Remove(key)
	}
}

// Refresh records a Refresh for every item currently held.
func (c *ChangeAwareCache[K, V]) Refresh() {
	for key := range c.data {
		c.RefreshKey(key)
	}
}

// RefreshKey records a Refresh for the given key. Refreshing an absent
// key is a no-op. At most one refresh per key is kept per batch.
func (c *ChangeAwareCache[K, V]) RefreshKey(key K) {
	value, exists := c.data[key]
	if !exists {
		return
	}
	if _, ok := c.refreshed[key]; ok {
		return
	}
	c.refreshed[key] = len(c.pending)
	c.pending = append(c.pending, pendingEntry[K, V]{change: NewChange(ReasonRefresh, key, value)})
}

// RefreshKeys records a Refresh for each of the given keys.
func (c *ChangeAwareCache[K, V]) RefreshKeys(keys []K) {
	for _, key := range keys {
		c.RefreshKey(key)
	}
}

// Clear removes every item, recording a Remove per item.
func (c *ChangeAwareCache[K, V]) Clear() {
	for key := range c.data {
		c.Remove(key)
	}
}

// Clone replays a foreign changeset against this cache, recording
// equivalent changes. Moved changes carry no state and are skipped.
func (c *ChangeAwareCache[K, V]) Clone(changes ChangeSet[K, V]) {
	for _, change := range changes {
		switch change.Reason {
		case ReasonAdd, ReasonUpdate:
			c.AddOrUpdate(change.Current, change.Key)
		case ReasonRemove:
			c.Remove(change.Key)
		case ReasonRefresh:
			c.RefreshKey(change.Key)
		}
	}
}

// CaptureChanges returns the accumulated batch in mutation order and
// resets the accumulator. An edit with no net effect yields an empty set.
func (c *ChangeAwareCache[K, V]) CaptureChanges() ChangeSet[K, V] {
	if len(c.pending) == 0 {
		return nil
	}

	out := make(ChangeSet[K, V], 0, len(c.pending))
	for _, entry := range c.pending {
		if entry.dropped {
			continue
		}
		out = append(out, entry.change)
	}

	c.pending = nil
	c.merged = make(map[K]int)
	c.refreshed = make(map[K]int)

	if len(out) == 0 {
		return nil
	}
	return out
}

func (c *ChangeAwareCache[K, V]) record(change Change[K, V]) {
	c.merged[change.Key] = len(c.pending)
	c.pending = append(c.pending, pendingEntry[K, V]{change: change})
}
