package dtree

import (
	"github.com/pkg/errors"

	"github.com/patzer/decisiontree/internal/rules"
)

// goToLoopBudget guards GoTo against cyclic or corrupt trees; exceeding
// it indicates tree corruption and is fatal.
const goToLoopBudget = 1_000_000

// Cursor is a stateful replay of a path of moves from the root: a current node
// index plus a cloned GameController whose board stack always equals the
// sequence of boards produced by the moves from the root down to the current
// node.
type Cursor struct {
	currentNode int
	controller  rules.GameController
}

// NewCursor starts a cursor at node 0 (the tree's root) with the given
// controller, which must itself already be at the root position.
func NewCursor(controller rules.GameController) *Cursor {
	return &Cursor{currentNode: 0, controller: controller}
}

// CurrentNode returns the node index the cursor is positioned at.
func (c *Cursor) CurrentNode() int { return c.currentNode }

// Controller returns the cursor's game controller.
func (c *Cursor) Controller() rules.GameController { return c.controller }

// GoTo moves the cursor from its current node to target: it finds the common
// ancestor by equal-depth walking (the deeper side steps up first, then both
// climb together), reverts the current path down to the common ancestor, then
// applies moves from the ancestor down to target in root-to-leaf order.
func (c *Cursor) GoTo(target int, t *Tree) error {
	if target == c.currentNode {
		return nil
	}

	steps := 0
	step := func() error {
		steps++
		if steps > goToLoopBudget {
			panic(errors.New("dtree: Cursor.GoTo exceeded its loop budget, tree is cyclic or corrupt"))
		}
		return nil
	}

	a, b := c.currentNode, target
	for t.Nodes[a].Depth > t.Nodes[b].Depth {
		a = t.Nodes[a].Parent
		_ = step()
	}
	for t.Nodes[b].Depth > t.Nodes[a].Depth {
		b = t.Nodes[b].Parent
		_ = step()
	}
	for a != b {
		a = t.Nodes[a].Parent
		b = t.Nodes[b].Parent
		_ = step()
	}
	commonAncestor := a

	cur := c.currentNode
	for cur != commonAncestor {
		c.controller.Revert()
		cur = t.Nodes[cur].Parent
		_ = step()
	}

	var descend []int
	node := target
	for node != commonAncestor {
		descend = append(descend, node)
		node = t.Nodes[node].Parent
		_ = step()
	}
	for i, j := 0, len(descend)-1; i < j; i, j = i+1, j-1 {
		descend[i], descend[j] = descend[j], descend[i]
	}
	for _, n := range descend {
		if err := c.controller.ApplyMove(t.Nodes[n].Movement); err != nil {
			return errors.Wrapf(err, "cursor.GoTo: applying move for node %d", n)
		}
	}
	c.currentNode = target
	return nil
}
