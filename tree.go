package obscache

import "context"

// Node is one element of a tree built by TransformToTree. A node owns
// its children map exclusively; the parent pointer is a relation only,
// so cycles cannot leak ownership.
type Node[K comparable, V any] struct {
	// Key identifies the underlying item.
	Key K

	// Item is the underlying value.
	Item V

	// Parent is the owning node, nil for roots.
	Parent *Node[K, V]

	children map[K]*Node[K, V]
}

// IsRoot reports whether the node has no parent.
func (n *Node[K, V]) IsRoot() bool {
	return n.Parent == nil
}

// Children returns the node's direct children in undefined order.
func (n *Node[K, V]) Children() []*Node[K, V] {
	out := make([]*Node[K, V], 0, len(n.children))
	for _, child := range n.children {
		out = append(out, child)
	}
	return out
}

// Depth returns the distance from the root, zero for roots.
func (n *Node[K, V]) Depth() int {
	depth := 0
	for p := n.Parent; p != nil; p = p.Parent {
		depth++
	}
	return depth
}

// dispose releases the subtree bottom-up: children first, then the node
// itself.
func (n *Node[K, V]) dispose() {
	for key, child := range n.children {
		child.dispose()
		delete(n.children, key)
	}
	n.Parent = nil
}

// TransformToTree assembles items into parent/child trees using a parent
// key selector and emits the stream of root nodes. An item whose parent
// key resolves to a present item hangs beneath it; all others are roots.
// Re-parenting (via update) moves subtrees; removing a node promotes its
// children to roots. Structural changes inside a subtree surface as a
// Refresh of its root.
func TransformToTree[K comparable, V any](
	ctx context.Context,
	in <-chan ChangeSet[K, V],
	parentKey func(V) (K, bool),
) <-chan ChangeSet[K, *Node[K, V]] {
	out := make(chan ChangeSet[K, *Node[K, V]], cap(in))

	nodes := make(map[K]*Node[K, V])
	roots := NewChangeAwareCache[K, *Node[K, V]]()

	// refreshTop signals the root of the subtree containing from. The
	// seen guard keeps a cyclic parent-key relation from looping.
	refreshTop := func(from *Node[K, V]) {
		seen := make(map[K]struct{})
		top := from
		for top.Parent != nil {
			if _, cycled := seen[top.Key]; cycled {
				return
			}
			seen[top.Key] = struct{}{}
			top = top.Parent
		}
		roots.RefreshKey(top.Key)
	}

	// isDescendant reports whether candidate sits in node's subtree.
	var isDescendant func(node, candidate *Node[K, V]) bool
	isDescendant = func(node, candidate *Node[K, V]) bool {
		for _, child := range node.children {
			if child == candidate || isDescendant(child, candidate) {
				return true
			}
		}
		return false
	}

	attach := func(node *Node[K, V]) {
		pk, ok := parentKey(node.Item)
		if ok && pk != node.Key {
			// Refuse an attachment that would close a cycle; the node
			// stays a root instead.
			if parent, present := nodes[pk]; present && parent != node && !isDescendant(node, parent) {
				node.Parent = parent
				parent.children[node.Key] = node
				roots.Remove(node.Key)
				refreshTop(parent)
				return
			}
		}
		node.Parent = nil
		roots.AddOrUpdate(node, node.Key)
	}

	detach := func(node *Node[K, V]) {
		if node.Parent != nil {
			parent := node.Parent
			delete(parent.children, node.Key)
			node.Parent = nil
			refreshTop(parent)
			return
		}
		roots.Remove(node.Key)
	}

	// adoptOrphans re-homes children whose parent key names the new
	// arrival.
	adoptOrphans := func(node *Node[K, V]) {
		for _, other := range nodes {
			if other == node || other.Parent != nil {
				continue
			}
			pk, ok := parentKey(other.Item)
			if ok && pk == node.Key {
				detach(other)
				attach(other)
			}
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
					for _, node := range nodes {
						if node.IsRoot() {
							node.dispose()
						}
					}
					return
				}
				for _, change := range changes {
					switch change.Reason {
					case ReasonAdd:
						node := &Node[K, V]{
							Key:      change.Key,
							Item:     change.Current,
							children: make(map[K]*Node[K, V]),
						}
						nodes[change.Key] = node
						attach(node)
						adoptOrphans(node)

					case ReasonUpdate, ReasonRefresh:
						node, present := nodes[change.Key]
						if !present {
							continue
						}
						if change.Reason == ReasonUpdate {
							node.Item = change.Current
						}
						detach(node)
						attach(node)

					case ReasonRemove:
						node, present := nodes[change.Key]
						if !present {
							continue
						}
						detach(node)
						delete(nodes, change.Key)
						// Children survive as roots.
						for key, child := range node.children {
							delete(node.children, key)
							child.Parent = nil
							attach(child)
						}
					}
				}
				result := roots.CaptureChanges()
				if len(result) == 0 {
					continue
				}
				select {
				case out <- result:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
