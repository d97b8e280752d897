package obscache

import "time"

// Options represents configuration options for an observable cache.
// These options control subscriber buffering and count notification
// behavior. Zero values fall back to the defaults.
//
// The options can be provided when creating a new cache:
//
//	options := &obscache.Options{SubscriberBuffer: 256}
//	cache := obscache.NewObservableCacheWithOptions[string, Person](options)
type Options struct {
	// SubscriberBuffer is the channel buffer size for each Connect,
	// Preview, Watch and CountChanged subscriber. Publication blocks when
	// a buffer fills, preserving the gapless total order every
	// subscriber is guaranteed; a larger buffer decouples slow consumers
	// from the publishing goroutine.
	SubscriberBuffer int
}

// DefaultOptions returns the default cache options
func DefaultOptions() *Options {
	return &Options{
		SubscriberBuffer: 64,
	}
}

// ConnectOptions represents options for a single Connect subscription.
type ConnectOptions[V any] struct {
	// Predicate restricts the subscription to matching items. The
	// subscription keeps its own filtered state so updates crossing the
	// predicate boundary surface as adds and removes.
	Predicate func(V) bool

	// SuppressInitial skips the initial snapshot changeset.
	SuppressInitial bool
}

// ConnectOption is a function that configures ConnectOptions.
type ConnectOption[V any] func(*ConnectOptions[V])

// WithPredicate restricts a subscription to items matching the predicate.
func WithPredicate[V any](predicate func(V) bool) ConnectOption[V] {
	return func(o *ConnectOptions[V]) {
		o.Predicate = predicate
	}
}

// WithoutInitial skips the initial snapshot changeset.
func WithoutInitial[V any]() ConnectOption[V] {
	return func(o *ConnectOptions[V]) {
		o.SuppressInitial = true
	}
}

// SortOptions represents options for the Sort operator.
type SortOptions struct {
	// ResetThreshold is the batch size beyond which the sorter rebuilds
	// the whole collection and emits a Reset instead of incremental
	// moves. Zero means the default of 25.
	ResetThreshold int

	// Optimisations are hints enabling faster incremental sorting.
	Optimisations SortOptimisation
}

// SortOption is a function that configures SortOptions.
type SortOption func(*SortOptions)

// WithResetThreshold overrides the sorter's reset threshold.
func WithResetThreshold(threshold int) SortOption {
	return func(o *SortOptions) {
		o.ResetThreshold = threshold
	}
}

// WithSortOptimisations sets the sorter's optimisation hints.
func WithSortOptimisations(flags SortOptimisation) SortOption {
	return func(o *SortOptions) {
		o.Optimisations = flags
	}
}

// defaultResetThreshold is the sort reset threshold when none is given.
const defaultResetThreshold = 25

// ExpireOptions represents options for the ExpireAfter operator.
type ExpireOptions struct {
	// PollInterval coalesces expiry wakeups: instead of one timer per
	// item, due items are collected each interval. Zero schedules a
	// timer per distinct deadline.
	PollInterval time.Duration
}

// ExpireOption is a function that configures ExpireOptions.
type ExpireOption func(*ExpireOptions)

// WithPollInterval coalesces expiry wakeups to the given interval.
func WithPollInterval(interval time.Duration) ExpireOption {
	return func(o *ExpireOptions) {
		o.PollInterval = interval
	}
}
