package obscache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTransformProjection tests the synchronous keyed projection
func TestTransformProjection(t *testing.T) {
	source := NewSourceCache[string, Person](personName)
	defer source.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	labels := Transform(ctx, source.Connect(ctx), func(p Person) string {
		return fmt.Sprintf("%s:%d", p.Name, p.Age)
	})

	// Adds project
	require.NoError(t, source.Edit(func(u SourceUpdater[string, Person]) {
		u.AddOrUpdate(Person{Name: "A", Age: 1})
	}))
	batch := recv(t, labels)
	require.Len(t, batch, 1)
	assert.Equal(t, "A:1", batch[0].Current)

	// Updates carry the previously projected value
	require.NoError(t, source.Edit(func(u SourceUpdater[string, Person]) {
		u.AddOrUpdate(Person{Name: "A", Age: 2})
	}))
	batch = recv(t, labels)
	require.Len(t, batch, 1)
	assert.Equal(t, ReasonUpdate, batch[0].Reason)
	assert.Equal(t, "A:2", batch[0].Current)
	assert.Equal(t, "A:1", batch[0].Previous, "the previous projection should be forwarded")

	// Removes forward the projected value without re-projection
	require.NoError(t, source.Edit(func(u SourceUpdater[string, Person]) {
		u.Remove("A")
	}))
	batch = recv(t, labels)
	require.Len(t, batch, 1)
	assert.Equal(t, ReasonRemove, batch[0].Reason)
	assert.Equal(t, "A:2", batch[0].Current, "the remove should carry the prior projection")
}

// TestTransformSafeRoutesErrors tests that a failing projection becomes
// a dropped change delivered to the error callback
func TestTransformSafeRoutesErrors(t *testing.T) {
	source := NewSourceCache[string, Person](personName)
	defer source.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var failures []*TransformError[string, Person]
	projected := TransformSafe(ctx, source.Connect(ctx),
		func(p Person) (string, error) {
			if p.Age < 0 {
				return "", errors.New("negative age")
			}
			return strings.ToUpper(p.Name), nil
		},
		func(te *TransformError[string, Person]) {
			failures = append(failures, te)
		},
	)

	require.NoError(t, source.Edit(func(u SourceUpdater[string, Person]) {
		u.AddOrUpdate(Person{Name: "bad", Age: -1})
		u.AddOrUpdate(Person{Name: "good", Age: 1})
	}))

	batch := recv(t, projected)
	require.Len(t, batch, 1, "the failing change should be dropped, the stream alive")
	assert.Equal(t, "GOOD", batch[0].Current)

	require.Len(t, failures, 1, "the failure should reach the callback")
	assert.Equal(t, "bad", failures[0].Key)
	assert.ErrorIs(t, failures[0], ErrTransformFailed, "the error should match the sentinel")
}

// TestTransformForced tests targeted re-projection
func TestTransformForced(t *testing.T) {
	suffix := "v1"
	source := NewSourceCache[string, Person](personName)
	defer source.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	force := make(chan []string, 1)
	projected := TransformForced(ctx, source.Connect(ctx), func(p Person) string {
		return p.Name + ":" + suffix
	}, force)

	require.NoError(t, source.Edit(func(u SourceUpdater[string, Person]) {
		u.AddOrUpdate(Person{Name: "A", Age: 1})
		u.AddOrUpdate(Person{Name: "B", Age: 2})
	}))
	recv(t, projected)

	// Re-project only A against the new environment
	suffix = "v2"
	force <- []string{"A"}
	batch := recv(t, projected)
	require.Len(t, batch, 1, "only the named key should re-project")
	assert.Equal(t, ReasonUpdate, batch[0].Reason)
	assert.Equal(t, "A:v2", batch[0].Current)
	assert.Equal(t, "A:v1", batch[0].Previous)
}

// TestTransformMany tests flattening parents into keyed children
func TestTransformMany(t *testing.T) {
	type team struct {
		Name    string
		Members []string
	}
	source := NewSourceCache[string, team](func(tm team) string { return tm.Name })
	defer source.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	members := TransformMany(ctx, source.Connect(ctx),
		func(tm team) []string {
			out := make([]string, len(tm.Members))
			for i, m := range tm.Members {
				out[i] = tm.Name + "/" + m
			}
			return out
		},
		func(member string) string { return member },
	)

	// A parent add emits all children
	require.NoError(t, source.Edit(func(u SourceUpdater[string, team]) {
		u.AddOrUpdate(team{Name: "red", Members: []string{"a", "b"}})
	}))
	batch := recv(t, members)
	assert.Equal(t, 2, batch.Adds(), "both children should be added")

	// A parent update diffs the child sets
	require.NoError(t, source.Edit(func(u SourceUpdater[string, team]) {
		u.AddOrUpdate(team{Name: "red", Members: []string{"b", "c"}})
	}))
	batch = recv(t, members)
	assert.Equal(t, 1, batch.Adds(), "the new member is added")
	assert.Equal(t, 1, batch.Removes(), "the departed member is removed")
	assert.Equal(t, ReasonRemove, changeOf(t, batch, "red/a").Reason)
	assert.Equal(t, ReasonAdd, changeOf(t, batch, "red/c").Reason)

	// A parent removal removes every child
	require.NoError(t, source.Edit(func(u SourceUpdater[string, team]) {
		u.Remove("red")
	}))
	batch = recv(t, members)
	assert.Equal(t, 2, batch.Removes(), "all remaining children should be removed")
}
