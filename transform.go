package obscache

import (
	"context"

	"go.uber.org/zap"

	"obscache/core"
)

// transformState applies one upstream changeset through a projection,
// maintaining the projected values so removes and refreshes forward the
// previously projected value without recomputation.
type transformState[K comparable, V, R any] struct {
	projected map[K]R
}

func newTransformState[K comparable, V, R any]() *transformState[K, V, R] {
	return &transformState[K, V, R]{projected: make(map[K]R)}
}

// apply projects one changeset. project returns an error to drop the
// change; onError is invoked with the failure when non-nil.
func (t *transformState[K, V, R]) apply(
	changes ChangeSet[K, V],
	project func(V) (R, error),
	onError func(*TransformError[K, V]),
) ChangeSet[K, R] {
	out := make(ChangeSet[K, R], 0, len(changes))

	fail := func(change Change[K, V], err error) {
		terr := &TransformError[K, V]{Key: change.Key, Value: change.Current, Err: err}
		if onError != nil {
			onError(terr)
			return
		}
		core.Error("transform failed, change dropped", zap.Any("key", change.Key), zap.Error(err))
	}

	for _, change := range changes {
		switch change.Reason {
		case ReasonAdd:
			result, err := project(change.Current)
			if err != nil {
				fail(change, err)
				continue
			}
			t.projected[change.Key] = result
			out = append(out, NewChange(ReasonAdd, change.Key, result))

		case ReasonUpdate:
			previous, had := t.projected[change.Key]
			result, err := project(change.Current)
			if err != nil {
				fail(change, err)
				continue
			}
			t.projected[change.Key] = result
			if had {
				out = append(out, NewUpdateChange(change.Key, result, previous))
			} else {
				out = append(out, NewChange(ReasonAdd, change.Key, result))
			}

		case ReasonRemove:
			previous, had := t.projected[change.Key]
			if !had {
				continue
			}
			delete(t.projected, change.Key)
			out = append(out, NewChange(ReasonRemove, change.Key, previous))

		case ReasonRefresh:
			// A refresh is not a value replacement: forward the existing
			// projection.
			current, had := t.projected[change.Key]
			if !had {
				continue
			}
			out = append(out, NewChange(ReasonRefresh, change.Key, current))
		}
	}

	return out
}

// Transform projects each value through a pure function, preserving
// keys. Removes forward the previously projected value; refreshes
// forward without re-projection.
func Transform[K comparable, V, R any](ctx context.Context, in <-chan ChangeSet[K, V], project func(V) R) <-chan ChangeSet[K, R] {
	wrapped := func(v V) (R, error) { return project(v), nil }
	return TransformSafe(ctx, in, wrapped, nil)
}

// TransformSafe projects each value through a fallible function. A
// failing projection becomes a dropped change delivered to onError,
// keeping the stream alive; with a nil onError the failure is logged and
// the change is dropped.
func TransformSafe[K comparable, V, R any](
	ctx context.Context,
	in <-chan ChangeSet[K, V],
	project func(V) (R, error),
	onError func(*TransformError[K, V]),
) <-chan ChangeSet[K, R] {
	out := make(chan ChangeSet[K, R], cap(in))
	state := newTransformState[K, V, R]()

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
				projected := state.apply(changes, project, onError)
				if len(projected) == 0 {
					continue
				}
				select {
				case out <- projected:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// TransformForced is Transform with a re-projection control: each slice
// of keys received on force re-projects those items from their latest
// upstream values and emits the resulting updates. Useful when the
// projection reads mutable state the upstream value does not replace.
func TransformForced[K comparable, V, R any](
	ctx context.Context,
	in <-chan ChangeSet[K, V],
	project func(V) R,
	force <-chan []K,
) <-chan ChangeSet[K, R] {
	out := make(chan ChangeSet[K, R], cap(in))
	state := newTransformState[K, V, R]()
	upstream := make(map[K]V)
	wrapped := func(v V) (R, error) { return project(v), nil }

	emit := func(changes ChangeSet[K, R]) bool {
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
					case ReasonAdd, ReasonUpdate:
						upstream[change.Key] = change.Current
					case ReasonRemove:
						delete(upstream, change.Key)
					}
				}
				if !emit(state.apply(changes, wrapped, nil)) {
					return
				}

			case keys, ok := <-force:
				if !ok {
					force = nil
					continue
				}
				reproject := make(ChangeSet[K, R], 0, len(keys))
				for _, key := range keys {
					value, present := upstream[key]
					if !present {
						continue
					}
					previous, had := state.projected[key]
					result := project(value)
					state.projected[key] = result
					if had {
						reproject = append(reproject, NewUpdateChange(key, result, previous))
					} else {
						reproject = append(reproject, NewChange(ReasonAdd, key, result))
					}
				}
				if !emit(reproject) {
					return
				}
			}
		}
	}()

	return out
}
