package obscache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestChangeConstructors tests the change invariants
func TestChangeConstructors(t *testing.T) {
	add := NewChange(ReasonAdd, "k", 1)
	assert.False(t, add.HasPrevious, "an add has no previous value")
	assert.Equal(t, -1, add.CurrentIndex, "unindexed changes carry -1")
	assert.Equal(t, -1, add.PreviousIndex)

	update := NewUpdateChange("k", 2, 1)
	assert.True(t, update.HasPrevious, "an update carries the previous value")
	assert.Equal(t, 1, update.Previous)

	// Indexed changes validate their positions
	indexed, err := NewIndexedChange(ReasonAdd, "k", 1, 3, -1)
	require.NoError(t, err)
	assert.Equal(t, 3, indexed.CurrentIndex)

	_, err = NewIndexedChange(ReasonAdd, "k", 1, -2, -1)
	assert.ErrorIs(t, err, ErrInvalidIndex, "a negative current index is illegal")

	_, err = NewIndexedChange(ReasonMoved, "k", 1, 2, -1)
	assert.ErrorIs(t, err, ErrInvalidIndex, "a move requires a previous index")

	moved, err := NewIndexedChange(ReasonMoved, "k", 1, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, moved.PreviousIndex)
}

// TestChangeSetCounts tests the per-reason counters
func TestChangeSetCounts(t *testing.T) {
	cs := ChangeSet[string, int]{
		NewChange(ReasonAdd, "a", 1),
		NewChange(ReasonAdd, "b", 2),
		NewUpdateChange("a", 3, 1),
		NewChange(ReasonRemove, "b", 2),
		NewChange(ReasonRefresh, "a", 3),
	}

	assert.Equal(t, 5, cs.Size())
	assert.Equal(t, 2, cs.Adds())
	assert.Equal(t, 1, cs.Updates())
	assert.Equal(t, 1, cs.Removes())
	assert.Equal(t, 1, cs.Refreshes())
	assert.Equal(t, 0, cs.Moves())
}

// TestChangeReasonString tests reason formatting
func TestChangeReasonString(t *testing.T) {
	assert.Equal(t, "Add", ReasonAdd.String())
	assert.Equal(t, "Update", ReasonUpdate.String())
	assert.Equal(t, "Remove", ReasonRemove.String())
	assert.Equal(t, "Refresh", ReasonRefresh.String())
	assert.Equal(t, "Moved", ReasonMoved.String())
}

// TestMissingKeyError tests the structured error type
func TestMissingKeyError(t *testing.T) {
	err := NewMissingKeyError("lookup", "absent")
	assert.ErrorIs(t, err, ErrMissingKey, "the structured error should match the sentinel")
	assert.Contains(t, err.Error(), "absent")
	assert.Contains(t, err.Error(), "lookup")
}

// TestKeyValueCollection tests the ordered snapshot helpers
func TestKeyValueCollection(t *testing.T) {
	c := KeyValueCollection[string, int]{
		Items: []KeyValue[string, int]{
			{Key: "a", Value: 1},
			{Key: "b", Value: 2},
		},
		Reason: SortReasonInitialLoad,
	}

	assert.Equal(t, 2, c.Size())
	assert.Equal(t, []string{"a", "b"}, c.Keys())
	assert.Equal(t, []int{1, 2}, c.Values())
	assert.Equal(t, 1, c.IndexOfKey("b"))
	assert.Equal(t, -1, c.IndexOfKey("zz"))
	assert.Equal(t, "InitialLoad", c.Reason.String())

	flags := ComparesImmutableValuesOnly | IgnoreRefreshes
	assert.True(t, flags.Has(IgnoreRefreshes))
	assert.False(t, flags.Has(InsertAtEndThenSort))
}
