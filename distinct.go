package obscache

import "context"

// DistinctValues projects the stream to the distinct set of values a
// selector produces, reference-counted across items: a value appears
// when the first item produces it and disappears when the last stops.
// The output is keyed by the value itself.
func DistinctValues[K comparable, V any, T comparable](ctx context.Context, in <-chan ChangeSet[K, V], selector func(V) T) <-chan ChangeSet[T, T] {
	out := make(chan ChangeSet[T, T], cap(in))

	counts := make(map[T]int)
	selected := make(map[K]T)
	results := NewChangeAwareCache[T, T]()

	acquire := func(value T) {
		counts[value]++
		if counts[value] == 1 {
			results.AddOrUpdate(value, value)
		}
	}
	release := func(value T) {
		counts[value]--
		if counts[value] <= 0 {
			delete(counts, value)
			results.Remove(value)
		}
	}

	go func() {
		defer close(out)
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
					case ReasonAdd, ReasonUpdate, ReasonRefresh:
						next := selector(change.Current)
						previous, had := selected[change.Key]
						if had && previous == next {
							continue
						}
						selected[change.Key] = next
						acquire(next)
						if had {
							release(previous)
						}
					case ReasonRemove:
						previous, had := selected[change.Key]
						if !had {
							continue
						}
						delete(selected, change.Key)
						release(previous)
					}
				}
				batch := results.CaptureChanges()
				if len(batch) == 0 {
					continue
				}
				select {
				case out <- batch:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
