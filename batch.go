package obscache

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// concat joins buffered changesets into one batch in arrival order.
func concat[K comparable, V any](buffered []ChangeSet[K, V]) ChangeSet[K, V] {
	total := 0
	for _, cs := range buffered {
		total += len(cs)
	}
	out := make(ChangeSet[K, V], 0, total)
	for _, cs := range buffered {
		out = append(out, cs...)
	}
	return out
}

// Batch buffers changesets into time windows: the first batch after an
// idle period opens a window, and everything arriving within it is
// concatenated and emitted when the window closes. The clock is
// injectable for tests; pass nil for the wall clock.
func Batch[K comparable, V any](ctx context.Context, in <-chan ChangeSet[K, V], window time.Duration, clk clock.Clock) <-chan ChangeSet[K, V] {
	if clk == nil {
		clk = clock.New()
	}
	out := make(chan ChangeSet[K, V], cap(in))

	go func() {
		defer close(out)

		var buffer []ChangeSet[K, V]
		var timer *clock.Timer
		var timerC <-chan time.Time

		flush := func() bool {
			if len(buffer) == 0 {
				return true
			}
			batch := concat(buffer)
			buffer = nil
			select {
			case out <- batch:
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
					flush()
					return
				}
				if len(changes) == 0 {
					continue
				}
				buffer = append(buffer, changes)
				if timerC == nil {
					timer = clk.Timer(window)
					timerC = timer.C
				}

			case <-timerC:
				timer = nil
				timerC = nil
				if !flush() {
					return
				}
			}
		}
	}()

	return out
}

// BatchIf pauses and resumes the stream from a gate: true pauses
// (changesets buffer), false resumes, flushing the buffer as one
// concatenated batch. The stream starts flowing.
func BatchIf[K comparable, V any](ctx context.Context, in <-chan ChangeSet[K, V], gate <-chan bool) <-chan ChangeSet[K, V] {
	out := make(chan ChangeSet[K, V], cap(in))

	go func() {
		defer close(out)

		paused := false
		var buffer []ChangeSet[K, V]

		emit := func(changes ChangeSet[K, V]) bool {
			if len(changes) == 0 {
				return true
			}
			select {
			case out <- changes:
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
					// Release anything still held before completing.
					emit(concat(buffer))
					return
				}
				if paused {
					buffer = append(buffer, changes)
					continue
				}
				if !emit(changes) {
					return
				}

			case pause, ok := <-gate:
				if !ok {
					gate = nil
					continue
				}
				if pause == paused {
					continue
				}
				paused = pause
				if !paused {
					flushed := concat(buffer)
					buffer = nil
					if !emit(flushed) {
						return
					}
				}
			}
		}
	}()

	return out
}

// DeferUntilLoaded suppresses emissions until the stream carries data:
// batches are discarded until the first one containing an Add, after
// which everything passes through.
func DeferUntilLoaded[K comparable, V any](ctx context.Context, in <-chan ChangeSet[K, V]) <-chan ChangeSet[K, V] {
	out := make(chan ChangeSet[K, V], cap(in))

	go func() {
		defer close(out)
		loaded := false
		for {
			select {
			case <-ctx.Done():
				return
			case changes, ok := <-in:
				if !ok {
					return
				}
				if !loaded {
					if changes.Adds() == 0 {
						continue
					}
					loaded = true
				}
				select {
				case out <- changes:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// SkipInitial drops the first changeset, typically the connect snapshot,
// and passes everything after it.
func SkipInitial[K comparable, V any](ctx context.Context, in <-chan ChangeSet[K, V]) <-chan ChangeSet[K, V] {
	out := make(chan ChangeSet[K, V], cap(in))

	go func() {
		defer close(out)
		skipped := false
		for {
			select {
			case <-ctx.Done():
				return
			case changes, ok := <-in:
				if !ok {
					return
				}
				if !skipped {
					skipped = true
					continue
				}
				select {
				case out <- changes:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
