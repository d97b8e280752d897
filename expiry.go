package obscache

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"obscache/core"
)

// ExpireAfter attaches time-to-live eviction to a source cache. The ttl
// selector returns each item's lifetime (false means the item never
// expires). Expired items are removed from the source through a normal
// edit, so every subscriber sees the eviction as an ordinary Remove
// changeset; the returned channel additionally reports each eviction
// batch's keys.
//
// With WithPollInterval, wakeups coalesce onto the poll tick; otherwise
// a timer fires at the earliest pending deadline. The clock is
// injectable for tests; pass nil for the wall clock.
func ExpireAfter[K comparable, V any](
	ctx context.Context,
	source *SourceCache[K, V],
	ttl func(V) (time.Duration, bool),
	clk clock.Clock,
	opts ...ExpireOption,
) <-chan []K {
	var options ExpireOptions
	for _, opt := range opts {
		opt(&options)
	}
	if clk == nil {
		clk = clock.New()
	}

	evicted := make(chan []K, 1)
	deadlines := make(map[K]time.Time)
	in := source.Connect(ctx)

	go func() {
		defer close(evicted)

		var timer *clock.Timer
		var timerC <-chan time.Time
		var tickerC <-chan time.Time

		if options.PollInterval > 0 {
			ticker := clk.Ticker(options.PollInterval)
			defer ticker.Stop()
			tickerC = ticker.C
		}

		// rearm points the timer at the earliest pending deadline.
		// Polling mode never arms it.
		rearm := func() {
			if tickerC != nil {
				return
			}
			if timer != nil {
				timer.Stop()
				timer = nil
				timerC = nil
			}
			var earliest time.Time
			for _, due := range deadlines {
				if earliest.IsZero() || due.Before(earliest) {
					earliest = due
				}
			}
			if earliest.IsZero() {
				return
			}
			wait := earliest.Sub(clk.Now())
			if wait < 0 {
				wait = 0
			}
			timer = clk.Timer(wait)
			timerC = timer.C
		}

		evict := func() bool {
			now := clk.Now()
			due := make([]K, 0)
			for key, deadline := range deadlines {
				if !deadline.After(now) {
					due = append(due, key)
					delete(deadlines, key)
				}
			}
			if len(due) == 0 {
				rearm()
				return true
			}

			if err := source.Edit(func(u SourceUpdater[K, V]) {
				u.RemoveMany(due)
			}); err != nil {
				core.Warn("expiry eviction failed", zap.Error(err))
				return false
			}
			rearm()

			select {
			case evicted <- due:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return

			case changes, ok := <-in:
				if !ok {
					return
				}
				for _, change := range changes {
					switch change.Reason {
					case ReasonAdd, ReasonUpdate:
						if lifetime, expires := ttl(change.Current); expires {
							deadlines[change.Key] = clk.Now().Add(lifetime)
						} else {
							delete(deadlines, change.Key)
						}
					case ReasonRemove:
						delete(deadlines, change.Key)
					}
				}
				rearm()

			case <-timerC:
				timerC = nil
				timer = nil
				if !evict() {
					return
				}

			case <-tickerC:
				if !evict() {
					return
				}
			}
		}
	}()

	return evicted
}

// LimitSizeTo attaches size-bounded eviction to a source cache: when the
// cache grows beyond limit, the oldest items by insertion order are
// removed through a normal edit. The returned channel reports each
// eviction batch's keys.
func LimitSizeTo[K comparable, V any](ctx context.Context, source *SourceCache[K, V], limit int) <-chan []K {
	evicted := make(chan []K, 1)
	in := source.Connect(ctx)

	go func() {
		defer close(evicted)

		// order holds keys oldest-first; present mirrors it for O(1)
		// membership checks.
		order := make([]K, 0)
		present := make(map[K]struct{})

		for {
			select {
			case <-ctx.Done():
				return

			case changes, ok := <-in:
				if !ok {
					return
				}
				for _, change := range changes {
					switch change.Reason {
					case ReasonAdd:
						if _, dup := present[change.Key]; !dup {
							present[change.Key] = struct{}{}
							order = append(order, change.Key)
						}
					case ReasonRemove:
						if _, had := present[change.Key]; had {
							delete(present, change.Key)
							for i, key := range order {
								if key == change.Key {
									order = append(order[:i], order[i+1:]...)
									break
								}
							}
						}
					}
				}

				if limit <= 0 || len(order) <= limit {
					continue
				}

				overflow := len(order) - limit
				due := make([]K, overflow)
				copy(due, order[:overflow])

				if err := source.Edit(func(u SourceUpdater[K, V]) {
					u.RemoveMany(due)
				}); err != nil {
					core.Warn("size eviction failed", zap.Error(err))
					return
				}
				// The evicted keys leave the order now; their Remove
				// changes arriving later find nothing to drop.
				for _, key := range due {
					delete(present, key)
				}
				order = order[overflow:]

				select {
				case evicted <- due:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return evicted
}
