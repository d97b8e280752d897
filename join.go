package obscache

import "context"

// Optional is a value that may be absent, used by the outer joins for
// the missing side.
type Optional[T any] struct {
	Value T
	Ok    bool
}

// Some wraps a present value.
func Some[T any](value T) Optional[T] {
	return Optional[T]{Value: value, Ok: true}
}

// None is the absent value.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// JoinResult is one row of a single-valued join. Absent sides are None
// in the outer variants; inner joins always populate both.
type JoinResult[L, R any] struct {
	Left  Optional[L]
	Right Optional[R]
}

// ManyJoinResult is one row of a grouped join: the left value joined
// with every right value sharing the key, in right insertion order.
type ManyJoinResult[L, R any] struct {
	Left   Optional[L]
	Rights []R
}

// joinKind selects which rows a join emits.
type joinKind int

const (
	joinInner joinKind = iota
	joinLeft
	joinRight
	joinFull
)

// includes reports whether a row with the given side presence belongs in
// the result.
func (k joinKind) includes(hasLeft, hasRight bool) bool {
	switch k {
	case joinInner:
		return hasLeft && hasRight
	case joinLeft:
		return hasLeft
	case joinRight:
		return hasRight
	default:
		return hasLeft || hasRight
	}
}

// rightEntry preserves right-side insertion order within a join key.
type rightEntry[RK comparable, R any] struct {
	key   RK
	value R
}

// joinState indexes both sides by the join key and recomputes affected
// rows per batch.
type joinState[K comparable, L any, RK comparable, R any] struct {
	kind     joinKind
	rightKey func(R) K

	lefts      map[K]L
	rightHomes map[RK]K
	rights     map[K][]rightEntry[RK, R]
}

func newJoinState[K comparable, L any, RK comparable, R any](kind joinKind, rightKey func(R) K) *joinState[K, L, RK, R] {
	return &joinState[K, L, RK, R]{
		kind:       kind,
		rightKey:   rightKey,
		lefts:      make(map[K]L),
		rightHomes: make(map[RK]K),
		rights:     make(map[K][]rightEntry[RK, R]),
	}
}

func (j *joinState[K, L, RK, R]) applyLeft(changes ChangeSet[K, L], affected map[K]struct{}) {
	for _, change := range changes {
		switch change.Reason {
		case ReasonAdd, ReasonUpdate, ReasonRefresh:
			j.lefts[change.Key] = change.Current
		case ReasonRemove:
			delete(j.lefts, change.Key)
		}
		affected[change.Key] = struct{}{}
	}
}

func (j *joinState[K, L, RK, R]) applyRight(changes ChangeSet[RK, R], affected map[K]struct{}) {
	for _, change := range changes {
		switch change.Reason {
		case ReasonAdd, ReasonUpdate, ReasonRefresh:
			home := j.rightKey(change.Current)
			if previous, had := j.rightHomes[change.Key]; had && previous != home {
				j.dropRight(change.Key, previous)
				affected[previous] = struct{}{}
			}
			j.rightHomes[change.Key] = home
			j.upsertRight(change.Key, home, change.Current)
			affected[home] = struct{}{}
		case ReasonRemove:
			home, had := j.rightHomes[change.Key]
			if !had {
				continue
			}
			delete(j.rightHomes, change.Key)
			j.dropRight(change.Key, home)
			affected[home] = struct{}{}
		}
	}
}

func (j *joinState[K, L, RK, R]) upsertRight(rk RK, home K, value R) {
	entries := j.rights[home]
	for i, entry := range entries {
		if entry.key == rk {
			entries[i].value = value
			return
		}
	}
	j.rights[home] = append(entries, rightEntry[RK, R]{key: rk, value: value})
}

func (j *joinState[K, L, RK, R]) dropRight(rk RK, home K) {
	entries := j.rights[home]
	for i, entry := range entries {
		if entry.key == rk {
			j.rights[home] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(j.rights[home]) == 0 {
		delete(j.rights, home)
	}
}

// row computes the current result row for a key, and whether it belongs
// in the output.
func (j *joinState[K, L, RK, R]) row(key K) (Optional[L], []rightEntry[RK, R], bool) {
	left, hasLeft := j.lefts[key]
	rights := j.rights[key]
	included := j.kind.includes(hasLeft, len(rights) > 0)
	if !hasLeft {
		return None[L](), rights, included
	}
	return Some(left), rights, included
}

// join merges a left and a right keyed stream into result rows keyed by
// the join key. Both inputs feed one goroutine; while the left input has
// batches buffered the right side waits until they are drained, which
// makes emission order deterministic.
func join[K comparable, L any, RK comparable, R any, O any](
	ctx context.Context,
	kind joinKind,
	left <-chan ChangeSet[K, L],
	right <-chan ChangeSet[RK, R],
	rightKey func(R) K,
	makeRow func(left Optional[L], rights []rightEntry[RK, R]) O,
) <-chan ChangeSet[K, O] {
	out := make(chan ChangeSet[K, O], cap(left))

	state := newJoinState[K, L, RK, R](kind, rightKey)
	results := NewChangeAwareCache[K, O]()

	recompute := func(affected map[K]struct{}) bool {
		for key := range affected {
			leftOpt, rights, included := state.row(key)
			if !included {
				results.Remove(key)
				continue
			}
			results.AddOrUpdate(makeRow(leftOpt, rights), key)
		}
		batch := results.CaptureChanges()
		if len(batch) == 0 {
			return true
		}
		select {
		case out <- batch:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(out)
		for left != nil || right != nil {
			affected := make(map[K]struct{})

			// Left-first merge discipline: exhaust ready left batches
			// before touching the right side.
			rightCase := right
			if len(left) > 0 {
				rightCase = nil
			}
			select {
			case <-ctx.Done():
				return
			case changes, ok := <-left:
				if !ok {
					left = nil
					continue
				}
				state.applyLeft(changes, affected)
			drainLeft:
				for {
					select {
					case more, ok := <-left:
						if !ok {
							left = nil
							break drainLeft
						}
						state.applyLeft(more, affected)
					default:
						break drainLeft
					}
				}
			case changes, ok := <-rightCase:
				if !ok {
					right = nil
					continue
				}
				state.applyRight(changes, affected)
			}

			if !recompute(affected) {
				return
			}
		}
	}()

	return out
}

// rowSingle reduces the right entries of a key to the first inserted
// value, the deterministic winner for single-valued joins.
func rowSingle[L any, RK comparable, R any](left Optional[L], rights []rightEntry[RK, R]) JoinResult[L, R] {
	row := JoinResult[L, R]{Left: left, Right: None[R]()}
	if len(rights) > 0 {
		row.Right = Some(rights[0].value)
	}
	return row
}

func rowMany[L any, RK comparable, R any](left Optional[L], rights []rightEntry[RK, R]) ManyJoinResult[L, R] {
	row := ManyJoinResult[L, R]{Left: left}
	for _, entry := range rights {
		row.Rights = append(row.Rights, entry.value)
	}
	return row
}

// InnerJoin emits a row per key present on both sides.
func InnerJoin[K comparable, L any, RK comparable, R any](
	ctx context.Context,
	left <-chan ChangeSet[K, L],
	right <-chan ChangeSet[RK, R],
	rightKey func(R) K,
) <-chan ChangeSet[K, JoinResult[L, R]] {
	return join(ctx, joinInner, left, right, rightKey, rowSingle[L, RK, R])
}

// LeftJoin emits a row per left key; the right side is optional.
func LeftJoin[K comparable, L any, RK comparable, R any](
	ctx context.Context,
	left <-chan ChangeSet[K, L],
	right <-chan ChangeSet[RK, R],
	rightKey func(R) K,
) <-chan ChangeSet[K, JoinResult[L, R]] {
	return join(ctx, joinLeft, left, right, rightKey, rowSingle[L, RK, R])
}

// RightJoin emits a row per key with right values; the left side is
// optional.
func RightJoin[K comparable, L any, RK comparable, R any](
	ctx context.Context,
	left <-chan ChangeSet[K, L],
	right <-chan ChangeSet[RK, R],
	rightKey func(R) K,
) <-chan ChangeSet[K, JoinResult[L, R]] {
	return join(ctx, joinRight, left, right, rightKey, rowSingle[L, RK, R])
}

// FullJoin emits a row per key present on either side.
func FullJoin[K comparable, L any, RK comparable, R any](
	ctx context.Context,
	left <-chan ChangeSet[K, L],
	right <-chan ChangeSet[RK, R],
	rightKey func(R) K,
) <-chan ChangeSet[K, JoinResult[L, R]] {
	return join(ctx, joinFull, left, right, rightKey, rowSingle[L, RK, R])
}

// InnerJoinMany is InnerJoin with the right side grouped by the join key.
func InnerJoinMany[K comparable, L any, RK comparable, R any](
	ctx context.Context,
	left <-chan ChangeSet[K, L],
	right <-chan ChangeSet[RK, R],
	rightKey func(R) K,
) <-chan ChangeSet[K, ManyJoinResult[L, R]] {
	return join(ctx, joinInner, left, right, rightKey, rowMany[L, RK, R])
}

// LeftJoinMany is LeftJoin with the right side grouped by the join key.
func LeftJoinMany[K comparable, L any, RK comparable, R any](
	ctx context.Context,
	left <-chan ChangeSet[K, L],
	right <-chan ChangeSet[RK, R],
	rightKey func(R) K,
) <-chan ChangeSet[K, ManyJoinResult[L, R]] {
	return join(ctx, joinLeft, left, right, rightKey, rowMany[L, RK, R])
}

// RightJoinMany is RightJoin with the right side grouped by the join key.
func RightJoinMany[K comparable, L any, RK comparable, R any](
	ctx context.Context,
	left <-chan ChangeSet[K, L],
	right <-chan ChangeSet[RK, R],
	rightKey func(R) K,
) <-chan ChangeSet[K, ManyJoinResult[L, R]] {
	return join(ctx, joinRight, left, right, rightKey, rowMany[L, RK, R])
}

// FullJoinMany is FullJoin with the right side grouped by the join key.
func FullJoinMany[K comparable, L any, RK comparable, R any](
	ctx context.Context,
	left <-chan ChangeSet[K, L],
	right <-chan ChangeSet[RK, R],
	rightKey func(R) K,
) <-chan ChangeSet[K, ManyJoinResult[L, R]] {
	return join(ctx, joinFull, left, right, rightKey, rowMany[L, RK, R])
}
