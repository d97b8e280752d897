package obscache

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBatchTimeWindow tests buffering into a time window
func TestBatchTimeWindow(t *testing.T) {
	source := NewSourceCache[int, int](func(v int) int { return v })
	defer source.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewMock()
	batched := Batch(ctx, source.Connect(ctx), 100*time.Millisecond, clk)

	// Three separate edits land within one window
	for i := 1; i <= 3; i++ {
		require.NoError(t, source.Edit(func(u SourceUpdater[int, int]) {
			u.AddOrUpdate(i)
		}))
	}

	// Nothing flows until the window closes
	expectNone(t, batched, 50*time.Millisecond)

	var got ChangeSet[int, int]
	require.Eventually(t, func() bool {
		clk.Add(110 * time.Millisecond)
		select {
		case got = <-batched:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 3, got.Adds(), "the window should concatenate all buffered changesets")
}

// TestBatchIfGate tests pause/resume buffering
func TestBatchIfGate(t *testing.T) {
	source := NewSourceCache[int, int](func(v int) int { return v })
	defer source.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gate := make(chan bool, 1)
	gated := BatchIf(ctx, source.Connect(ctx), gate)

	// The stream starts flowing
	require.NoError(t, source.Edit(func(u SourceUpdater[int, int]) { u.AddOrUpdate(1) }))
	batch := recv(t, gated)
	assert.Equal(t, 1, batch.Adds())

	// Pause: edits buffer
	gate <- true
	time.Sleep(50 * time.Millisecond) // let the gate land before editing
	require.NoError(t, source.Edit(func(u SourceUpdater[int, int]) { u.AddOrUpdate(2) }))
	require.NoError(t, source.Edit(func(u SourceUpdater[int, int]) { u.AddOrUpdate(3) }))
	expectNone(t, gated, 100*time.Millisecond)

	// Resume: the buffer flushes as one concatenated batch
	gate <- false
	batch = recv(t, gated)
	assert.Equal(t, 2, batch.Adds(), "the buffered changesets should flush together")
}

// TestDeferUntilLoaded tests suppression until data arrives
func TestDeferUntilLoaded(t *testing.T) {
	source := NewSourceCache[int, int](func(v int) int { return v })
	defer source.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	upstream := make(chan ChangeSet[int, int], 4)
	deferred := DeferUntilLoaded(ctx, upstream)

	// Batches without adds are discarded before load
	upstream <- ChangeSet[int, int]{NewChange(ReasonRemove, 9, 9)}
	upstream <- ChangeSet[int, int]{NewChange(ReasonAdd, 1, 1)}

	batch := recv(t, deferred)
	assert.Equal(t, 1, batch.Adds(), "the first loaded batch should be the first emission")

	// After loading, everything passes
	upstream <- ChangeSet[int, int]{NewChange(ReasonRemove, 1, 1)}
	batch = recv(t, deferred)
	assert.Equal(t, 1, batch.Removes())
}

// TestSkipInitial tests dropping the snapshot batch
func TestSkipInitial(t *testing.T) {
	source := NewSourceCache[int, int](func(v int) int { return v })
	defer source.Close()

	require.NoError(t, source.Edit(func(u SourceUpdater[int, int]) { u.AddOrUpdate(1) }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := SkipInitial(ctx, source.Connect(ctx))

	require.NoError(t, source.Edit(func(u SourceUpdater[int, int]) { u.AddOrUpdate(2) }))
	batch := recv(t, stream)
	require.Len(t, batch, 1, "the snapshot should have been skipped")
	assert.Equal(t, 2, batch[0].Key)
}
