package obscache

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"obscache/core"
)

// subscriber is a single Connect or Preview subscription.
type subscriber[K comparable, V any] struct {
	id     int64
	ch     chan ChangeSet[K, V]
	ctx    context.Context
	cancel context.CancelFunc

	// predicate and filtered are set for predicate subscriptions; the
	// filtered cache mirrors the subset of the cache this subscriber
	// observes so boundary-crossing updates surface as adds and removes.
	predicate func(V) bool
	filtered  *ChangeAwareCache[K, V]
}

// watcher is a single Watch(key) subscription.
type watcher[K comparable, V any] struct {
	id     int64
	key    K
	ch     chan Change[K, V]
	ctx    context.Context
	cancel context.CancelFunc
}

// counter is a single CountChanged subscription.
type counter struct {
	id     int64
	ch     chan int
	ctx    context.Context
	cancel context.CancelFunc
	last   int
}

// ObservableCache is the publishing facade over a ReaderWriter: it owns
// the cache state, serialises edits, and broadcasts one changeset per
// edit to every subscriber in a single total order with no gaps and no
// duplicates. The initial snapshot a new subscriber receives is
// consistent with a point in that order.
//
// All methods are safe for concurrent use. Edits from concurrent
// goroutines are serialised; subscribers never observe a partial edit.
type ObservableCache[K comparable, V any] struct {
	rw   *ReaderWriter[K, V]
	opts *Options

	// pubMu serialises edits, subscription registration and broadcast,
	// which is what makes snapshots gapless with respect to the stream.
	pubMu       sync.Mutex
	nextSubID   int64
	subscribers map[int64]*subscriber[K, V]
	watchers    map[int64]*watcher[K, V]
	counters    map[int64]*counter
	closed      bool
}

// NewObservableCache creates an empty observable cache with default
// options.
func NewObservableCache[K comparable, V any]() *ObservableCache[K, V] {
	return NewObservableCacheWithOptions[K, V](nil)
}

// NewObservableCacheWithOptions creates an empty observable cache with
// the given options.
func NewObservableCacheWithOptions[K comparable, V any](opts *Options) *ObservableCache[K, V] {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = DefaultOptions().SubscriberBuffer
	}
	return &ObservableCache[K, V]{
		rw:          NewReaderWriter[K, V](),
		opts:        opts,
		subscribers: make(map[int64]*subscriber[K, V]),
		watchers:    make(map[int64]*watcher[K, V]),
		counters:    make(map[int64]*counter),
	}
}

// Edit applies an edit action atomically and publishes the resulting
// changeset to every subscriber. An edit with no net effect publishes
// nothing. Returns ErrCacheClosed after Close.
func (c *ObservableCache[K, V]) Edit(fn func(*ChangeAwareCache[K, V])) error {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	if c.closed {
		return ErrCacheClosed
	}

	changes, count := c.rw.Write(fn)
	if len(changes) == 0 {
		return nil
	}

	c.broadcast(changes, count)
	return nil
}

// TryEdit is Edit with panic recovery: a panicking edit action is rolled
// back before publication, the cache stays usable, and the panic value
// comes back as an error. Nothing is published for a failed edit.
func (c *ObservableCache[K, V]) TryEdit(fn func(*ChangeAwareCache[K, V])) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("edit failed: %v", r)
			core.Warn("edit action panicked, state rolled back", zap.Any("panic", r))
		}
	}()
	return c.Edit(fn)
}

// EditChanges replays a foreign changeset as one edit. This is how
// operator-produced streams feed intermediate caches.
func (c *ObservableCache[K, V]) EditChanges(changes ChangeSet[K, V]) error {
	return c.Edit(func(cache *ChangeAwareCache[K, V]) {
		cache.Clone(changes)
	})
}

// broadcast delivers a published changeset to all subscribers. Called
// with pubMu held. Sends block until the subscriber drains its buffer or
// its context is cancelled, preserving the gapless order guarantee.
func (c *ObservableCache[K, V]) broadcast(changes ChangeSet[K, V], count int) {
	for _, sub := range c.subscribers {
		out := changes
		if sub.predicate != nil {
			out = applyFilter(sub.filtered, sub.predicate, changes)
			if len(out) == 0 {
				continue
			}
		}
		select {
		case sub.ch <- out:
		case <-sub.ctx.Done():
			// Subscriber cancelled, cleaned up separately.
		}
	}

	for _, w := range c.watchers {
		for _, change := range changes {
			if change.Key != w.key {
				continue
			}
			select {
			case w.ch <- change:
			case <-w.ctx.Done():
			}
		}
	}

	for _, cnt := range c.counters {
		if cnt.last == count {
			continue
		}
		cnt.last = count
		select {
		case cnt.ch <- count:
		case <-cnt.ctx.Done():
		}
	}
}

// Connect subscribes to the cache. The first changeset is a snapshot of
// the current contents (unless suppressed or the cache is empty), followed by every subsequent
// changeset in publish order. The channel closes when the context is
// cancelled or the cache is closed.
func (c *ObservableCache[K, V]) Connect(ctx context.Context, opts ...ConnectOption[V]) <-chan ChangeSet[K, V] {
	var options ConnectOptions[V]
	for _, opt := range opts {
		opt(&options)
	}

	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	subCtx, subCancel := context.WithCancel(ctx)
	ch := make(chan ChangeSet[K, V], c.opts.SubscriberBuffer)

	if c.closed {
		subCancel()
		close(ch)
		return ch
	}

	sub := &subscriber[K, V]{
		id:        c.nextSubID,
		ch:        ch,
		ctx:       subCtx,
		cancel:    subCancel,
		predicate: options.Predicate,
	}
	c.nextSubID++

	// Build the initial snapshot while holding pubMu so no edit can
	// slip between the snapshot and the registration.
	initial := make(ChangeSet[K, V], 0)
	for _, kv := range c.rw.KeyValues() {
		initial = append(initial, NewChange(ReasonAdd, kv.Key, kv.Value))
	}

	if sub.predicate != nil {
		sub.filtered = NewChangeAwareCache[K, V]()
		initial = applyFilter(sub.filtered, sub.predicate, initial)
	}

	if !options.SuppressInitial && len(initial) > 0 {
		// The channel was just created and buffers at least one
		// changeset, so this send cannot block.
		ch <- initial
	}

	c.subscribers[sub.id] = sub

	go func() {
		<-subCtx.Done()
		c.removeSubscriber(sub.id)
	}()

	return ch
}

// Preview subscribes without the initial snapshot: only changesets
// published after the subscription are delivered.
func (c *ObservableCache[K, V]) Preview(ctx context.Context, opts ...ConnectOption[V]) <-chan ChangeSet[K, V] {
	opts = append(opts, WithoutInitial[V]())
	return c.Connect(ctx, opts...)
}

// Watch subscribes to all changes for a single key. An initial Add is
// delivered when the key is present. The channel closes when the context
// is cancelled or the cache is closed.
func (c *ObservableCache[K, V]) Watch(ctx context.Context, key K) <-chan Change[K, V] {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	subCtx, subCancel := context.WithCancel(ctx)
	ch := make(chan Change[K, V], c.opts.SubscriberBuffer)

	if c.closed {
		subCancel()
		close(ch)
		return ch
	}

	w := &watcher[K, V]{
		id:     c.nextSubID,
		key:    key,
		ch:     ch,
		ctx:    subCtx,
		cancel: subCancel,
	}
	c.nextSubID++

	if value, ok := c.rw.Lookup(key); ok {
		ch <- NewChange(ReasonAdd, key, value)
	}

	c.watchers[w.id] = w

	go func() {
		<-subCtx.Done()
		c.removeWatcher(w.id)
	}()

	return ch
}

// CountChanged subscribes to the item count: the current count on
// subscribe, then every distinct count after a publish.
func (c *ObservableCache[K, V]) CountChanged(ctx context.Context) <-chan int {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	subCtx, subCancel := context.WithCancel(ctx)
	ch := make(chan int, c.opts.SubscriberBuffer)

	if c.closed {
		subCancel()
		close(ch)
		return ch
	}

	cnt := &counter{
		id:     c.nextSubID,
		ch:     ch,
		ctx:    subCtx,
		cancel: subCancel,
		last:   c.rw.Count(),
	}
	c.nextSubID++

	ch <- cnt.last
	c.counters[cnt.id] = cnt

	go func() {
		<-subCtx.Done()
		c.removeCounter(cnt.id)
	}()

	return ch
}

// Count returns the number of items currently held.
func (c *ObservableCache[K, V]) Count() int {
	return c.rw.Count()
}

// Lookup returns the value for the given key.
func (c *ObservableCache[K, V]) Lookup(key K) (V, bool) {
	return c.rw.Lookup(key)
}

// Keys returns a copy of the keys in undefined order.
func (c *ObservableCache[K, V]) Keys() []K {
	return c.rw.Keys()
}

// Items returns a copy of the values in undefined order.
func (c *ObservableCache[K, V]) Items() []V {
	return c.rw.Items()
}

// KeyValues returns a copy of the entries in undefined order.
func (c *ObservableCache[K, V]) KeyValues() []KeyValue[K, V] {
	return c.rw.KeyValues()
}

// Close completes every subscriber channel and rejects further edits.
// Close is idempotent.
func (c *ObservableCache[K, V]) Close() {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	for id, sub := range c.subscribers {
		sub.cancel()
		close(sub.ch)
		delete(c.subscribers, id)
	}
	for id, w := range c.watchers {
		w.cancel()
		close(w.ch)
		delete(c.watchers, id)
	}
	for id, cnt := range c.counters {
		cnt.cancel()
		close(cnt.ch)
		delete(c.counters, id)
	}

	core.Debug("observable cache closed", zap.Int("count", c.rw.Count()))
}

func (c *ObservableCache[K, V]) removeSubscriber(id int64) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	if sub, ok := c.subscribers[id]; ok {
		sub.cancel()
		close(sub.ch)
		delete(c.subscribers, id)
	}
}

func (c *ObservableCache[K, V]) removeWatcher(id int64) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	if w, ok := c.watchers[id]; ok {
		w.cancel()
		close(w.ch)
		delete(c.watchers, id)
	}
}

func (c *ObservableCache[K, V]) removeCounter(id int64) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	if cnt, ok := c.counters[id]; ok {
		cnt.cancel()
		close(cnt.ch)
		delete(c.counters, id)
	}
}
