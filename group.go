package obscache

import "context"

// Group is the live handle GroupOn emits per distinct group key. Its
// Cache is itself an observable cache holding the group's members, so
// groups compose with every operator in the package.
type Group[K comparable, GK comparable, V any] struct {
	// Key is the group key shared by all members.
	Key GK

	// Cache holds the group's members.
	Cache *IntermediateCache[K, V]
}

// grouperState holds one GroupOn subscription's state.
type grouperState[K comparable, GK comparable, V any] struct {
	selector   func(V) GK
	membership map[K]GK
	mirror     map[K]V
	groups     map[GK]*Group[K, GK, V]
	out        *ChangeAwareCache[GK, *Group[K, GK, V]]
}

func (g *grouperState[K, GK, V]) group(key GK) *Group[K, GK, V] {
	grp, ok := g.groups[key]
	if !ok {
		grp = &Group[K, GK, V]{Key: key, Cache: NewIntermediateCache[K, V]()}
		g.groups[key] = grp
		g.out.AddOrUpdate(grp, key)
	}
	return grp
}

func (g *grouperState[K, GK, V]) add(key K, value V) {
	gk := g.selector(value)
	g.membership[key] = gk
	g.mirror[key] = value
	grp := g.group(gk)
	_ = grp.Cache.Edit(func(u Updater[K, V]) {
		u.AddOrUpdate(value, key)
	})
}

func (g *grouperState[K, GK, V]) update(key K, value V) {
	previous, had := g.membership[key]
	if !had {
		g.add(key, value)
		return
	}
	next := g.selector(value)
	g.mirror[key] = value

	if next == previous {
		grp := g.group(next)
		_ = grp.Cache.Edit(func(u Updater[K, V]) {
			u.AddOrUpdate(value, key)
		})
		return
	}

	// The group key changed: move between groups.
	g.removeFromGroup(key, previous)
	g.membership[key] = next
	grp := g.group(next)
	_ = grp.Cache.Edit(func(u Updater[K, V]) {
		u.AddOrUpdate(value, key)
	})
}

func (g *grouperState[K, GK, V]) remove(key K) {
	gk, had := g.membership[key]
	if !had {
		return
	}
	delete(g.membership, key)
	delete(g.mirror, key)
	g.removeFromGroup(key, gk)
}

// removeFromGroup removes the member and retires the group when it
// empties. A retired group's inner cache is closed so its subscribers
// complete.
func (g *grouperState[K, GK, V]) removeFromGroup(key K, gk GK) {
	grp, ok := g.groups[gk]
	if !ok {
		return
	}
	_ = grp.Cache.Edit(func(u Updater[K, V]) {
		u.Remove(key)
	})
	if grp.Cache.Count() == 0 {
		delete(g.groups, gk)
		g.out.Remove(gk)
		grp.Cache.Close()
	}
}

func (g *grouperState[K, GK, V]) refresh(key K) {
	value, had := g.mirror[key]
	if !had {
		return
	}
	// The group key may be computed from mutable state; re-evaluate.
	g.update(key, value)
	if gk, ok := g.membership[key]; ok {
		if grp, present := g.groups[gk]; present {
			_ = grp.Cache.Edit(func(u Updater[K, V]) {
				u.RefreshKey(key)
			})
		}
	}
}

func (g *grouperState[K, GK, V]) regroupAll() {
	for key, value := range g.mirror {
		g.update(key, value)
	}
}

// GroupOn partitions the stream by a group key selector, emitting one
// Group handle per distinct group key. Members move between groups when
// an update or refresh changes their computed group key; emptied groups
// are removed and their inner caches closed. A signal on regroup
// re-evaluates every item's group key. The regroup channel may be nil.
func GroupOn[K comparable, GK comparable, V any](
	ctx context.Context,
	in <-chan ChangeSet[K, V],
	selector func(V) GK,
	regroup <-chan struct{},
) <-chan ChangeSet[GK, *Group[K, GK, V]] {
	out := make(chan ChangeSet[GK, *Group[K, GK, V]], cap(in))

	state := &grouperState[K, GK, V]{
		selector:   selector,
		membership: make(map[K]GK),
		mirror:     make(map[K]V),
		groups:     make(map[GK]*Group[K, GK, V]),
		out:        NewChangeAwareCache[GK, *Group[K, GK, V]](),
	}

	emit := func() bool {
		result := state.out.CaptureChanges()
		if len(result) == 0 {
			return true
		}
		select {
		case out <- result:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(out)
		defer func() {
			for _, grp := range state.groups {
				grp.Cache.Close()
			}
		}()
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
						state.add(change.Key, change.Current)
					case ReasonUpdate:
						state.update(change.Key, change.Current)
					case ReasonRemove:
						state.remove(change.Key)
					case ReasonRefresh:
						state.refresh(change.Key)
					}
				}
				if !emit() {
					return
				}

			case _, ok := <-regroup:
				if !ok {
					regroup = nil
					continue
				}
				state.regroupAll()
				if !emit() {
					return
				}
			}
		}
	}()

	return out
}

// GroupSnapshot is the immutable per-group view emitted by
// GroupOnImmutable: the group key and a copy of its members.
type GroupSnapshot[K comparable, GK comparable, V any] struct {
	// Key is the group key shared by all members.
	Key GK

	// Items maps member keys to their values.
	Items map[K]V
}

// Size returns the number of members.
func (s GroupSnapshot[K, GK, V]) Size() int {
	return len(s.Items)
}

// GroupOnImmutable partitions the stream by a group key selector,
// emitting an immutable snapshot per affected group each batch instead
// of live inner caches. Emptied groups emit Remove.
func GroupOnImmutable[K comparable, GK comparable, V any](
	ctx context.Context,
	in <-chan ChangeSet[K, V],
	selector func(V) GK,
	regroup <-chan struct{},
) <-chan ChangeSet[GK, GroupSnapshot[K, GK, V]] {
	out := make(chan ChangeSet[GK, GroupSnapshot[K, GK, V]], cap(in))

	membership := make(map[K]GK)
	mirror := make(map[K]V)
	members := make(map[GK]map[K]V)
	snapshots := NewChangeAwareCache[GK, GroupSnapshot[K, GK, V]]()

	snap := func(gk GK) GroupSnapshot[K, GK, V] {
		copied := make(map[K]V, len(members[gk]))
		for k, v := range members[gk] {
			copied[k] = v
		}
		return GroupSnapshot[K, GK, V]{Key: gk, Items: copied}
	}

	place := func(key K, value V, affected map[GK]struct{}) {
		next := selector(value)
		if previous, had := membership[key]; had && previous != next {
			delete(members[previous], key)
			affected[previous] = struct{}{}
		}
		membership[key] = next
		mirror[key] = value
		if members[next] == nil {
			members[next] = make(map[K]V)
		}
		members[next][key] = value
		affected[next] = struct{}{}
	}

	drop := func(key K, affected map[GK]struct{}) {
		gk, had := membership[key]
		if !had {
			return
		}
		delete(membership, key)
		delete(mirror, key)
		delete(members[gk], key)
		affected[gk] = struct{}{}
	}

	flush := func(affected map[GK]struct{}) bool {
		for gk := range affected {
			if len(members[gk]) == 0 {
				delete(members, gk)
				snapshots.Remove(gk)
				continue
			}
			snapshots.AddOrUpdate(snap(gk), gk)
		}
		result := snapshots.CaptureChanges()
		if len(result) == 0 {
			return true
		}
		select {
		case out <- result:
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
				affected := make(map[GK]struct{})
				for _, change := range changes {
					switch change.Reason {
					case ReasonAdd, ReasonUpdate, ReasonRefresh:
						place(change.Key, change.Current, affected)
					case ReasonRemove:
						drop(change.Key, affected)
					}
				}
				if !flush(affected) {
					return
				}

			case _, ok := <-regroup:
				if !ok {
					regroup = nil
					continue
				}
				affected := make(map[GK]struct{})
				for key, value := range mirror {
					place(key, value, affected)
				}
				if !flush(affected) {
					return
				}
			}
		}
	}()

	return out
}
