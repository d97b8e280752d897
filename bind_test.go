package obscache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBindAppliesChangesets tests the unsorted adaptor end to end
func TestBindAppliesChangesets(t *testing.T) {
	source := NewSourceCache[string, Person](personName)
	defer source.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	target := Bind(ctx, source.Connect(ctx), NewChangeSetAdaptor[string, Person](25))

	require.NoError(t, source.Edit(func(u SourceUpdater[string, Person]) {
		u.AddOrUpdate(Person{Name: "A", Age: 1})
		u.AddOrUpdate(Person{Name: "B", Age: 2})
	}))
	require.Eventually(t, func() bool { return target.Len() == 2 }, 5*time.Second, 10*time.Millisecond)

	// Updates land in place
	require.NoError(t, source.Edit(func(u SourceUpdater[string, Person]) {
		u.AddOrUpdate(Person{Name: "A", Age: 99})
	}))
	require.Eventually(t, func() bool {
		item, ok := target.At(0)
		return ok && item.Age == 99
	}, 5*time.Second, 10*time.Millisecond, "the update should replace in place")

	// Removes shrink the target
	require.NoError(t, source.Edit(func(u SourceUpdater[string, Person]) {
		u.Remove("A")
	}))
	require.Eventually(t, func() bool { return target.Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	item, ok := target.At(0)
	require.True(t, ok)
	assert.Equal(t, "B", item.Name)
}

// TestBindSortedKeepsOrder tests the sorted adaptor's index discipline
func TestBindSortedKeepsOrder(t *testing.T) {
	source := NewSourceCache[string, Person](personName)
	defer source.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sorted := Sort(ctx, source.Connect(ctx), byAge)
	target := BindSorted(ctx, sorted, NewSortedChangeSetAdaptor[string, Person](25))

	require.NoError(t, source.Edit(func(u SourceUpdater[string, Person]) {
		u.AddOrUpdate(Person{Name: "C", Age: 30})
	}))
	require.NoError(t, source.Edit(func(u SourceUpdater[string, Person]) {
		u.AddOrUpdate(Person{Name: "A", Age: 10})
	}))
	require.NoError(t, source.Edit(func(u SourceUpdater[string, Person]) {
		u.AddOrUpdate(Person{Name: "B", Age: 20})
	}))

	require.Eventually(t, func() bool { return target.Len() == 3 }, 5*time.Second, 10*time.Millisecond)
	names := func() []string {
		out := make([]string, 0, target.Len())
		for _, p := range target.Items() {
			out = append(out, p.Name)
		}
		return out
	}
	assert.Equal(t, []string{"A", "B", "C"}, names(), "the target should mirror the sort order")

	// A repositioning update keeps the target ordered
	require.NoError(t, source.Edit(func(u SourceUpdater[string, Person]) {
		u.AddOrUpdate(Person{Name: "A", Age: 40})
	}))
	require.Eventually(t, func() bool {
		n := names()
		return len(n) == 3 && n[2] == "A"
	}, 5*time.Second, 10*time.Millisecond, "the moved item should land at its new position")
	assert.Equal(t, []string{"B", "C", "A"}, names())
}

// TestBindSortedResetThreshold tests the reload strategy for large batches
func TestBindSortedResetThreshold(t *testing.T) {
	source := NewSourceCache[int, int](func(v int) int { return v })
	defer source.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// A tiny sort threshold forces Reset batches; the adaptor reloads
	sorted := Sort(ctx, source.Connect(ctx), func(a, b int) int { return a - b }, WithResetThreshold(2))
	target := BindSorted(ctx, sorted, NewSortedChangeSetAdaptor[int, int](2))

	require.NoError(t, source.Edit(func(u SourceUpdater[int, int]) {
		for i := 10; i >= 1; i-- {
			u.AddOrUpdate(i)
		}
	}))

	require.Eventually(t, func() bool { return target.Len() == 10 }, 5*time.Second, 10*time.Millisecond)
	items := target.Items()
	for i := 1; i < len(items); i++ {
		assert.Less(t, items[i-1], items[i], "the reloaded target should be sorted")
	}
}

// TestObservableSliceOperations tests the slice target primitives
func TestObservableSliceOperations(t *testing.T) {
	s := NewObservableSlice[string]()

	s.Append("b")
	s.InsertAt(0, "a")
	s.InsertAt(2, "d")
	s.InsertAt(2, "c")
	assert.Equal(t, []string{"a", "b", "c", "d"}, s.Items())

	require.True(t, s.Move(3, 0))
	assert.Equal(t, []string{"d", "a", "b", "c"}, s.Items())

	require.True(t, s.SetAt(1, "A"))
	require.True(t, s.RemoveAt(0))
	assert.Equal(t, []string{"A", "b", "c"}, s.Items())

	assert.False(t, s.RemoveAt(9), "out-of-range operations should report failure")
	s.Clear()
	assert.Equal(t, 0, s.Len())
}
