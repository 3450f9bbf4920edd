// Package dtree implements the decision-tree arena and the cursor
// that replays a path of moves from the root.
//
// Nodes never hold pointers to each other: parent/children are indices into the
// tree's Nodes slice, which is what lets a Cursor hold mutable game-controller
// state while borrowing the arena only by index.
package dtree

import (
	"iter"
	"sort"

	"github.com/pkg/errors"

	"github.com/patzer/decisiontree/internal/rules"
)

// NodeExtraInfo carries the two terminal/provenance flags a node may hold.
type NodeExtraInfo struct {
	IsEnding  bool
	IsOpening bool
}

// Node is one arena slot.
type Node struct {
	Parent       int // -1 for the root
	Movement     rules.Move
	Depth        int
	PreEval      float32
	ChildrenEval *float32 // nil until children exist and have been refreshed
	Info         NodeExtraInfo
	Children     []int // nil for unvisited leaves
}

// Eval returns a node's own value: its PreEval when it is a book move,
// otherwise its ChildrenEval once children exist, otherwise its PreEval again
// (an unvisited leaf has no better estimate than its own score).
func (n *Node) Eval() float32 {
	if n.Info.IsOpening {
		return n.PreEval
	}
	if n.ChildrenEval != nil {
		return *n.ChildrenEval
	}
	return n.PreEval
}

// Visited reports whether n has been expanded (or is itself terminal).
func (n *Node) Visited() bool {
	return n.Info.IsEnding || n.Children != nil
}

// ChildEntry is one (move, eval, info) tuple as produced by a drained Request's
// Parts, in their original construction order.
type ChildEntry struct {
	Move rules.Move
	Eval float32
	Info NodeExtraInfo
}

// Tree is the decision-tree arena: a start side and a flat node slab.
type Tree struct {
	StartSide rules.Side
	Nodes     []Node
}

// New allocates a tree with a single root node (depth 0, pre_eval 0, unused
// move).
func New(startSide rules.Side) *Tree {
	return &Tree{
		StartSide: startSide,
		Nodes:     []Node{{Parent: -1, Depth: 0, PreEval: 0}},
	}
}

// SideAt returns whose move it is at node i.
func (t *Tree) SideAt(i int) rules.Side {
	depthEven := t.Nodes[i].Depth%2 == 0
	return rules.Side(depthEven == bool(t.StartSide))
}

// IsEndingAt reports whether node i is terminal by rules.
func (t *Tree) IsEndingAt(i int) bool { return t.Nodes[i].Info.IsEnding }

// GetDepthAt returns node i's depth.
func (t *Tree) GetDepthAt(i int) int { return t.Nodes[i].Depth }

// GetContinuationAt returns the index of the best child from side-to-move's
// viewpoint, or ok=false if i has no children.
func (t *Tree) GetContinuationAt(i int) (idx int, ok bool) {
	children := t.Nodes[i].Children
	if children == nil {
		return 0, false
	}
	return t.bestChildOf(i), true
}

func (t *Tree) bestChildOf(i int) int {
	children := t.Nodes[i].Children
	if t.SideAt(i) == rules.White {
		return children[len(children)-1]
	}
	return children[0]
}

// SubmitNodeChildren appends one Node per entry, assigns them as
// children[parentIdx] in order, then walks parentIdx -> root re-sorting
// children and refreshing ChildrenEval in post-order. It returns the
// index of parentIdx's new best child.
//
// Calling this on a node that already has children is a structural error that
// must be prevented by the Producer's in-progress set; it panics rather than
// returning an error.
func (t *Tree) SubmitNodeChildren(parentIdx int, entries []ChildEntry) int {
	parent := &t.Nodes[parentIdx]
	if parent.Children != nil {
		panic(errors.Errorf("dtree: node %d already has children, SubmitNodeChildren is not idempotent", parentIdx))
	}
	childDepth := parent.Depth + 1
	children := make([]int, len(entries))
	for i, e := range entries {
		idx := len(t.Nodes)
		t.Nodes = append(t.Nodes, Node{
			Parent:   parentIdx,
			Movement: e.Move,
			Depth:    childDepth,
			PreEval:  e.Eval,
			Info:     e.Info,
		})
		children[i] = idx
	}
	// Re-fetch: the append above may have grown (and reallocated) t.Nodes.
	t.Nodes[parentIdx].Children = children
	t.refreshAncestors(parentIdx)
	idx, _ := t.GetContinuationAt(parentIdx)
	return idx
}

// refreshAncestors re-sorts and recomputes ChildrenEval from nodeIdx up to the
// root, in that order (post-order: a node's own ChildrenEval is recomputed
// only after its children's own ChildrenEval, if any, are already current).
func (t *Tree) refreshAncestors(nodeIdx int) {
	for nodeIdx != -1 {
		if t.Nodes[nodeIdx].Children != nil {
			t.sortChildren(nodeIdx)
			best := t.bestChildOf(nodeIdx)
			v := t.Nodes[best].Eval()
			t.Nodes[nodeIdx].ChildrenEval = &v
		}
		nodeIdx = t.Nodes[nodeIdx].Parent
	}
}

func (t *Tree) sortChildren(nodeIdx int) {
	children := t.Nodes[nodeIdx].Children
	sort.Slice(children, func(i, j int) bool {
		return t.Nodes[children[i]].Eval() < t.Nodes[children[j]].Eval()
	})
}

// BestPathIter follows the best child for the side-to-move starting at from,
// yielding node indices, terminating when the tip has no children. Generalized
// to an arbitrary starting node rather than the root only, so callers can
// resume walking a principal variation from any node.
func (t *Tree) BestPathIter(from int, yieldRoot bool) iter.Seq[int] {
	return func(yield func(int) bool) {
		idx := from
		if yieldRoot {
			if !yield(idx) {
				return
			}
		}
		for {
			next, ok := t.GetContinuationAt(idx)
			if !ok {
				return
			}
			idx = next
			if !yield(idx) {
				return
			}
		}
	}
}

// TrainableNodes yields every node that has been expanded (has children) and
// is not a terminal position, i.e. every node carrying a minimax-aggregated
// label a supervised trainer could learn from. The training loop itself is out
// of scope; this accessor is kept because the tree is expected to support it.
func (t *Tree) TrainableNodes() iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := range t.Nodes {
			if !t.Nodes[i].Info.IsEnding && t.Nodes[i].Children != nil {
				if !yield(i) {
					return
				}
			}
		}
	}
}

// CreateSubtree returns a fresh tree rooted at nodeIdx (depths and side
// re-derived relative to the new root) and a cursor positioned at its root. It
// is used only by advanced search strategies that want to explore a subtree in
// isolation; the ordinary Builder main loop never calls it.
func (t *Tree) CreateSubtree(cur *Cursor, nodeIdx int) (*Tree, *Cursor, error) {
	if err := cur.GoTo(nodeIdx, t); err != nil {
		return nil, nil, err
	}
	newTree := &Tree{StartSide: t.SideAt(nodeIdx)}

	var copyNode func(oldIdx, newParent, newDepth int) int
	copyNode = func(oldIdx, newParent, newDepth int) int {
		old := t.Nodes[oldIdx]
		newIdx := len(newTree.Nodes)
		newTree.Nodes = append(newTree.Nodes, Node{
			Parent:   newParent,
			Movement: old.Movement,
			Depth:    newDepth,
			PreEval:  old.PreEval,
			Info:     old.Info,
		})
		if old.Children != nil {
			children := make([]int, len(old.Children))
			for i, childOld := range old.Children {
				children[i] = copyNode(childOld, newIdx, newDepth+1)
			}
			newTree.Nodes[newIdx].Children = children
		}
		return newIdx
	}
	copyNode(nodeIdx, -1, 0)
	newTree.refreshAll()

	newCursor := &Cursor{currentNode: 0, controller: cur.controller}
	return newTree, newCursor, nil
}

// refreshAll recomputes ChildrenEval bottom-up across the whole tree; used
// after CreateSubtree copies node data without its pre-existing
// ChildrenEval pointers.
func (t *Tree) refreshAll() {
	maxDepth := 0
	for i := range t.Nodes {
		if t.Nodes[i].Depth > maxDepth {
			maxDepth = t.Nodes[i].Depth
		}
	}
	for d := maxDepth; d >= 0; d-- {
		for i := range t.Nodes {
			if t.Nodes[i].Depth != d || t.Nodes[i].Children == nil {
				continue
			}
			t.sortChildren(i)
			best := t.bestChildOf(i)
			v := t.Nodes[best].Eval()
			t.Nodes[i].ChildrenEval = &v
		}
	}
}
