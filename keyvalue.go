package obscache

// KeyValue is a single keyed entry of an ordered collection.
type KeyValue[K comparable, V any] struct {
	Key   K
	Value V
}

// Comparer orders two values. It returns a negative number when a sorts
// before b, zero when they are equal, and a positive number otherwise.
type Comparer[V any] func(a, b V) int

// SortReason explains why a sorted collection was (re)ordered.
type SortReason int

const (
	// SortReasonInitialLoad is the first sorted emission of a stream.
	SortReasonInitialLoad SortReason = iota

	// SortReasonDataChanged means incremental changes repositioned items.
	SortReasonDataChanged

	// SortReasonComparerChanged means a new comparer resorted everything.
	SortReasonComparerChanged

	// SortReasonReset means the batch exceeded the reset threshold and
	// the collection was rebuilt wholesale.
	SortReasonReset

	// SortReasonReorder means an external resort signal fired.
	SortReasonReorder
)

// String implements fmt.Stringer.
func (r SortReason) String() string {
	switch r {
	case SortReasonInitialLoad:
		return "InitialLoad"
	case SortReasonDataChanged:
		return "DataChanged"
	case SortReasonComparerChanged:
		return "ComparerChanged"
	case SortReasonReset:
		return "Reset"
	case SortReasonReorder:
		return "Reorder"
	default:
		return "Unknown"
	}
}

// SortOptimisation is a set of hints enabling faster incremental sorting.
type SortOptimisation uint8

const (
	// SortOptimisationNone applies no optimisation; item placement uses a
	// linear scan, which tolerates comparers over mutable state.
	SortOptimisationNone SortOptimisation = 0

	// ComparesImmutableValuesOnly promises the comparer depends only on
	// immutable fields, enabling binary-search placement.
	ComparesImmutableValuesOnly SortOptimisation = 1 << iota

	// IgnoreRefreshes suppresses moves caused by Refresh changes. Useful
	// upstream of paging and virtualisation.
	IgnoreRefreshes

	// InsertAtEndThenSort batches inserts at the end and sorts once per
	// changeset instead of placing each insert individually.
	InsertAtEndThenSort
)

// Has reports whether the given flag is set.
func (o SortOptimisation) Has(flag SortOptimisation) bool {
	return o&flag != 0
}

// KeyValueCollection is an ordered snapshot of a sorted stream: the
// entries in comparer order, the comparer that produced the order, and
// the reason the order was (re)computed.
type KeyValueCollection[K comparable, V any] struct {
	// Items holds the entries in sorted order.
	Items []KeyValue[K, V]

	// Comparer is the ordering in effect.
	Comparer Comparer[V]

	// Reason explains the latest (re)ordering.
	Reason SortReason

	// Optimisations are the hints the sorter applied.
	Optimisations SortOptimisation
}

// Size returns the number of entries.
func (c KeyValueCollection[K, V]) Size() int {
	return len(c.Items)
}

// Keys returns the keys in sorted order.
func (c KeyValueCollection[K, V]) Keys() []K {
	keys := make([]K, len(c.Items))
	for i, kv := range c.Items {
		keys[i] = kv.Key
	}
	return keys
}

// Values returns the values in sorted order.
func (c KeyValueCollection[K, V]) Values() []V {
	values := make([]V, len(c.Items))
	for i, kv := range c.Items {
		values[i] = kv.Value
	}
	return values
}

// IndexOfKey returns the position of the given key, or -1.
func (c KeyValueCollection[K, V]) IndexOfKey(key K) int {
	for i, kv := range c.Items {
		if kv.Key == key {
			return i
		}
	}
	return noIndex
}
