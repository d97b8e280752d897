package obscache

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestReaderWriterWrite tests basic write and snapshot behavior
func TestReaderWriterWrite(t *testing.T) {
	rw := NewReaderWriter[string, int]()

	// A write returns the changeset and the post-state count
	changes, count := rw.Write(func(c *ChangeAwareCache[string, int]) {
		c.AddOrUpdate(1, "a")
		c.AddOrUpdate(2, "b")
	})
	assert.Equal(t, 2, changes.Adds(), "both adds should be captured")
	assert.Equal(t, 2, count, "count should reflect the post-state")

	// Snapshot accessors return copies
	keys := rw.Keys()
	sort.Strings(keys)
	assert.Equal(t, []string{"a", "b"}, keys)

	value, ok := rw.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, 1, value)
	assert.Len(t, rw.Items(), 2)
	assert.Len(t, rw.KeyValues(), 2)
}

// TestReaderWriterWriteChanges tests replaying a foreign changeset
func TestReaderWriterWriteChanges(t *testing.T) {
	upstream := NewReaderWriter[string, int]()
	batch, _ := upstream.Write(func(c *ChangeAwareCache[string, int]) {
		c.AddOrUpdate(1, "a")
	})

	downstream := NewReaderWriter[string, int]()
	replayed, count := downstream.WriteChanges(batch)
	assert.Equal(t, 1, replayed.Adds(), "replay should add the item")
	assert.Equal(t, 1, count)
}

// TestReaderWriterPanicLeavesStateIntact tests that a failing edit action
// does not corrupt the cache
func TestReaderWriterPanicLeavesStateIntact(t *testing.T) {
	rw := NewReaderWriter[string, int]()
	rw.Write(func(c *ChangeAwareCache[string, int]) {
		c.AddOrUpdate(1, "a")
	})

	// The edit mutates and then panics; the mutation must be rolled back
	require.Panics(t, func() {
		rw.Write(func(c *ChangeAwareCache[string, int]) {
			c.AddOrUpdate(99, "a")
			c.AddOrUpdate(2, "b")
			panic("edit failed")
		})
	}, "the panic should propagate")

	value, ok := rw.Lookup("a")
	require.True(t, ok, "pre-existing key should survive")
	assert.Equal(t, 1, value, "pre-existing value should be untouched")
	_, ok = rw.Lookup("b")
	assert.False(t, ok, "the failed edit's add should be rolled back")
	assert.Equal(t, 1, rw.Count())

	// The cache remains usable afterwards
	changes, count := rw.Write(func(c *ChangeAwareCache[string, int]) {
		c.AddOrUpdate(3, "c")
	})
	assert.Equal(t, 1, changes.Adds(), "a later edit should work normally")
	assert.Equal(t, 2, count)
}

// TestReaderWriterConcurrentWrites tests that concurrent edits serialise
// without losing batches
func TestReaderWriterConcurrentWrites(t *testing.T) {
	rw := NewReaderWriter[int, int]()

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := base*50 + j
				changes, _ := rw.Write(func(c *ChangeAwareCache[int, int]) {
					c.AddOrUpdate(key, key)
				})
				mu.Lock()
				total += changes.Adds()
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 400, rw.Count(), "every write should land")
	assert.Equal(t, 400, total, "every write should capture exactly one add")
}
