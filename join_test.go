package obscache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type device struct {
	Name string
}

type meta struct {
	ID     string
	Device string
	Info   string
}

func metaID(m meta) string     { return m.ID }
func metaDevice(m meta) string { return m.Device }

// joinFixture builds a device cache (left) and a metadata cache (right,
// keyed by its own id, joined on the device name).
func joinFixture(t *testing.T) (*SourceCache[string, device], *SourceCache[string, meta]) {
	t.Helper()
	devices := NewSourceCache[string, device](func(d device) string { return d.Name })
	metadata := NewSourceCache[string, meta](metaID)
	t.Cleanup(devices.Close)
	t.Cleanup(metadata.Close)
	return devices, metadata
}

// TestInnerJoin tests that rows appear only when both sides are present
func TestInnerJoin(t *testing.T) {
	devices, metadata := joinFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	joined := InnerJoin(ctx, devices.Connect(ctx), metadata.Connect(ctx), metaDevice)

	// A left-only key produces no row
	require.NoError(t, devices.Edit(func(u SourceUpdater[string, device]) {
		u.AddOrUpdate(device{Name: "d1"})
	}))

	// Completing the pair produces the row
	require.NoError(t, metadata.Edit(func(u SourceUpdater[string, meta]) {
		u.AddOrUpdate(meta{ID: "m1", Device: "d1", Info: "serial"})
	}))

	batch := recv(t, joined)
	require.Len(t, batch, 1)
	assert.Equal(t, ReasonAdd, batch[0].Reason)
	assert.Equal(t, "d1", batch[0].Key)
	require.True(t, batch[0].Current.Left.Ok)
	require.True(t, batch[0].Current.Right.Ok)
	assert.Equal(t, "serial", batch[0].Current.Right.Value.Info)

	// Removing the right side removes the row
	require.NoError(t, metadata.Edit(func(u SourceUpdater[string, meta]) {
		u.Remove("m1")
	}))
	batch = recv(t, joined)
	require.Len(t, batch, 1)
	assert.Equal(t, ReasonRemove, batch[0].Reason, "an inner row dies with either side")
}

// TestLeftJoinOptionalRight tests the optional right side
func TestLeftJoinOptionalRight(t *testing.T) {
	devices, metadata := joinFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	joined := LeftJoin(ctx, devices.Connect(ctx), metadata.Connect(ctx), metaDevice)

	require.NoError(t, devices.Edit(func(u SourceUpdater[string, device]) {
		u.AddOrUpdate(device{Name: "d1"})
	}))
	batch := recv(t, joined)
	require.Len(t, batch, 1)
	assert.True(t, batch[0].Current.Left.Ok)
	assert.False(t, batch[0].Current.Right.Ok, "the missing right side should be None")

	// The right side arriving upgrades the row
	require.NoError(t, metadata.Edit(func(u SourceUpdater[string, meta]) {
		u.AddOrUpdate(meta{ID: "m1", Device: "d1", Info: "serial"})
	}))
	batch = recv(t, joined)
	assert.Equal(t, ReasonUpdate, batch[0].Reason)
	assert.True(t, batch[0].Current.Right.Ok)
}

// TestFullJoinEitherSide tests rows from either side
func TestFullJoinEitherSide(t *testing.T) {
	devices, metadata := joinFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	joined := FullJoin(ctx, devices.Connect(ctx), metadata.Connect(ctx), metaDevice)

	// A right-only key produces a row with no left
	require.NoError(t, metadata.Edit(func(u SourceUpdater[string, meta]) {
		u.AddOrUpdate(meta{ID: "m9", Device: "ghost", Info: "orphan"})
	}))
	batch := recv(t, joined)
	require.Len(t, batch, 1)
	assert.Equal(t, "ghost", batch[0].Key)
	assert.False(t, batch[0].Current.Left.Ok, "the missing left side should be None")
	assert.True(t, batch[0].Current.Right.Ok)
}

// TestLeftJoinManyGroupsRights tests the grouped right side
func TestLeftJoinManyGroupsRights(t *testing.T) {
	devices, metadata := joinFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	joined := LeftJoinMany(ctx, devices.Connect(ctx), metadata.Connect(ctx), metaDevice)

	require.NoError(t, devices.Edit(func(u SourceUpdater[string, device]) {
		u.AddOrUpdate(device{Name: "d1"})
	}))
	recv(t, joined)

	require.NoError(t, metadata.Edit(func(u SourceUpdater[string, meta]) {
		u.AddOrUpdate(meta{ID: "m1", Device: "d1", Info: "one"})
	}))
	recv(t, joined)
	require.NoError(t, metadata.Edit(func(u SourceUpdater[string, meta]) {
		u.AddOrUpdate(meta{ID: "m2", Device: "d1", Info: "two"})
	}))

	batch := recv(t, joined)
	row := batch[0].Current
	require.Len(t, row.Rights, 2, "both right values should be grouped under the key")
	assert.Equal(t, "one", row.Rights[0].Info, "right insertion order should be preserved")
	assert.Equal(t, "two", row.Rights[1].Info)

	// A right value re-homing to another key leaves the group
	require.NoError(t, metadata.Edit(func(u SourceUpdater[string, meta]) {
		u.AddOrUpdate(meta{ID: "m2", Device: "d2", Info: "two"})
	}))
	batch = recv(t, joined)
	d1 := changeOf(t, batch, "d1")
	assert.Len(t, d1.Current.Rights, 1, "the re-homed right should leave the old group")
}

// TestInnerJoinEquivalence tests the relational-equivalence invariant
// after a series of edits
func TestInnerJoinEquivalence(t *testing.T) {
	devices, metadata := joinFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	joined := InnerJoin(ctx, devices.Connect(ctx), metadata.Connect(ctx), metaDevice)

	require.NoError(t, devices.Edit(func(u SourceUpdater[string, device]) {
		u.AddOrUpdate(device{Name: "d1"})
		u.AddOrUpdate(device{Name: "d2"})
		u.AddOrUpdate(device{Name: "d3"})
	}))
	require.NoError(t, metadata.Edit(func(u SourceUpdater[string, meta]) {
		u.AddOrUpdate(meta{ID: "m1", Device: "d1"})
		u.AddOrUpdate(meta{ID: "m2", Device: "d2"})
		u.AddOrUpdate(meta{ID: "m4", Device: "d4"})
	}))
	require.NoError(t, devices.Edit(func(u SourceUpdater[string, device]) {
		u.Remove("d2")
	}))

	state := make(map[string]JoinResult[device, meta])
	for len(state) != 1 || !contains(state, "d1") {
		collectState(state, recv(t, joined))
	}

	// Only d1 has both sides: d2's device left, d3 has no meta, d4 no device
	require.Len(t, state, 1)
	row := state["d1"]
	assert.True(t, row.Left.Ok)
	assert.True(t, row.Right.Ok)
}

func contains[K comparable, V any](m map[K]V, key K) bool {
	_, ok := m[key]
	return ok
}
