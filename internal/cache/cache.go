// Package cache implements the per-game activation cache: a mapping
// from node index to an evaluator activation bundle, with a byte budget and a
// policy-driven eviction scheme tied to the active frontier strategy.
package cache

import (
	"sort"

	"github.com/patzer/decisiontree/internal/dtree"
	"github.com/patzer/decisiontree/internal/evaluator"
	"github.com/patzer/decisiontree/internal/rules"
	"github.com/patzer/decisiontree/internal/strategy"

	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
)

// DefaultHintThreshold is the documented-default, not-a-theorem 60% cache-hint
// acceptance threshold below which a batch is evaluated without a hint.
const DefaultHintThreshold = 0.6

// Cache is one game's activation cache. nextSlot tracks the order in which
// children are appended to that game's tree: InsertNext must be called
// exactly once per Part drained from a completed Request, in the same order
// SubmitNodeChildren appended the corresponding children, so cache slots
// align with node indices.
type Cache struct {
	bundles      map[int]evaluator.GenericStorage
	currentBytes int64
	nextSlot     int
}

// New returns an empty cache for a tree that currently has only its root
// (node 0); the first child ever appended will therefore land in slot 1.
func New() *Cache {
	return &Cache{bundles: make(map[int]evaluator.GenericStorage), nextSlot: 1}
}

// InsertNext advances the slot counter and, if bundle is non-nil, stores it
// under that slot and accounts its bytes.
func (c *Cache) InsertNext(bundle evaluator.GenericStorage) int {
	slot := c.nextSlot
	c.nextSlot++
	if bundle != nil {
		c.bundles[slot] = bundle
		c.currentBytes += evaluator.BytesOf(bundle)
	}
	return slot
}

// Get returns the bundle stored for nodeIndex, if any.
func (c *Cache) Get(nodeIndex int) (evaluator.GenericStorage, bool) {
	b, ok := c.bundles[nodeIndex]
	return b, ok
}

// Remove deletes nodeIndex's entry, if present, and decrements the byte count.
func (c *Cache) Remove(nodeIndex int) {
	if b, ok := c.bundles[nodeIndex]; ok {
		c.currentBytes -= evaluator.BytesOf(b)
		delete(c.bundles, nodeIndex)
	}
}

// CurrentBytes is the cache's current byte accounting.
func (c *Cache) CurrentBytes() int64 { return c.currentBytes }

// Len returns the number of cached entries.
func (c *Cache) Len() int { return len(c.bundles) }

// PrepareHint gathers the activation bundle for each owner node index (one per
// Part in a prospective batch, in order) and, if at least DefaultHintThreshold
// of them hit, concatenates the hits along a new leading batch axis (padding
// misses with a zeroed template borrowed from any hit) into a single
// GenericStorage. If fewer than the threshold hit, it returns (nil, false) and
// the caller must invoke the evaluator without a hint.
func (c *Cache) PrepareHint(ownerNodeIndices []int) (evaluator.GenericStorage, bool) {
	hits := make([]evaluator.GenericStorage, len(ownerNodeIndices))
	for i, idx := range ownerNodeIndices {
		if b, ok := c.bundles[idx]; ok {
			hits[i] = b
		}
	}
	return Combine(hits)
}

// Combine implements the batch-level counterpart of PrepareHint: given one
// (possibly nil) bundle per position in a prospective batch -- gathered by the
// caller from however many per-game caches the batch spans -- it concatenates
// the hits along a new leading batch axis if at least DefaultHintThreshold of
// them hit, padding misses with a zeroed template borrowed from any hit.
func Combine(hits []evaluator.GenericStorage) (evaluator.GenericStorage, bool) {
	n := len(hits)
	if n == 0 {
		return nil, false
	}
	hitCount := 0
	for _, b := range hits {
		if b != nil {
			hitCount++
		}
	}
	if float64(hitCount)/float64(n) < DefaultHintThreshold {
		return nil, false
	}

	var template evaluator.GenericStorage
	for _, b := range hits {
		if b != nil {
			template = b
			break
		}
	}

	result := make(evaluator.GenericStorage, len(template))
	for name, sample := range template {
		perSampleDims := append([]int{}, sample.Shape().Dimensions...)
		elemsPerSample := 1
		for _, d := range perSampleDims {
			elemsPerSample *= d
		}
		outDims := append([]int{n}, perSampleDims...)
		out := tensors.FromShape(shapes.Make(dtypes.Float32, outDims...))
		tensors.MutableFlatData(out, func(flat []float32) {
			for i, b := range hits {
				var src []float32
				if b != nil {
					if t, ok := b[name]; ok {
						src = tensors.CopyFlatData[float32](t)
					}
				}
				if src == nil {
					src = make([]float32, elemsPerSample)
				}
				copy(flat[i*elemsPerSample:(i+1)*elemsPerSample], src)
			}
		})
		result[name] = out
	}
	return result, true
}

// RemoveExcess evicts entries until CurrentBytes <= budget, using the eviction
// order of the active strategy, falling back to a linear sweep over
// slot indices to guarantee eventual convergence regardless of tree shape.
func (c *Cache) RemoveExcess(tree *dtree.Tree, opts strategy.Options, budget int64) {
	if c.currentBytes <= budget {
		return
	}
	order := c.evictionOrder(tree, opts)
	for _, nodeIdx := range order {
		if c.currentBytes <= budget {
			return
		}
		c.Remove(nodeIdx)
	}
	// Fallback: a plain ascending sweep over every remaining cached slot, which
	// always converges even if the strategy-specific order above missed
	// entries (e.g. nodes orphaned from the live tree).
	var remaining []int
	for idx := range c.bundles {
		remaining = append(remaining, idx)
	}
	sort.Ints(remaining)
	for _, nodeIdx := range remaining {
		if c.currentBytes <= budget {
			return
		}
		c.Remove(nodeIdx)
	}
}

// evictionOrder returns cached node indices ordered worst-first according to
// the active strategy.
func (c *Cache) evictionOrder(tree *dtree.Tree, opts strategy.Options) []int {
	switch opts.Kind {
	case strategy.Deepest:
		return c.deepestEvictionOrder(tree)
	case strategy.Computed:
		return c.computedEvictionOrder(tree, opts)
	default:
		return c.bestNodeEvictionOrder(tree)
	}
}

// bestNodeEvictionOrder performs a DFS from the root, visiting each node's
// children worst first for that node's side to move (lowest eval first where
// White moves, highest first where Black moves) and only appending a child to the order
// after its own subtree has been fully visited, so an internal node is never
// evicted until every entry beneath it already has been.
func (c *Cache) bestNodeEvictionOrder(tree *dtree.Tree) []int {
	var order []int
	var visit func(nodeIdx int)
	visit = func(nodeIdx int) {
		node := &tree.Nodes[nodeIdx]
		if node.Children == nil {
			return
		}
		children := append([]int{}, node.Children...)
		whiteToMove := tree.SideAt(nodeIdx) == rules.White
		sort.Slice(children, func(i, j int) bool {
			ei, ej := tree.Nodes[children[i]].Eval(), tree.Nodes[children[j]].Eval()
			if whiteToMove {
				return ei < ej
			}
			return ei > ej
		})
		for _, child := range children {
			visit(child)
			if _, cached := c.bundles[child]; cached {
				order = append(order, child)
			}
		}
	}
	visit(0)
	return order
}

// deepestEvictionOrder removes entries whose depth is below the maximum
// visited depth first, then, among entries at that max depth, removes them in
// the reverse of the order children are typically selected (worst eval
// first), mirroring the Deepest strategy's own frontier preference.
func (c *Cache) deepestEvictionOrder(tree *dtree.Tree) []int {
	maxDepth := 0
	for idx := range c.bundles {
		if d := tree.Nodes[idx].Depth; d > maxDepth {
			maxDepth = d
		}
	}
	var shallow, deep []int
	for idx := range c.bundles {
		if tree.Nodes[idx].Depth < maxDepth {
			shallow = append(shallow, idx)
		} else {
			deep = append(deep, idx)
		}
	}
	sort.Slice(shallow, func(i, j int) bool { return tree.Nodes[shallow[i]].Depth < tree.Nodes[shallow[j]].Depth })
	sort.Slice(deep, func(i, j int) bool { return tree.Nodes[deep[i]].Eval() < tree.Nodes[deep[j]].Eval() })
	return append(shallow, deep...)
}

// computedEvictionOrder scores every cached node with the Computed strategy's
// formula and evicts in ascending score.
func (c *Cache) computedEvictionOrder(tree *dtree.Tree, opts strategy.Options) []int {
	deepestDepth := 0
	for i := range tree.Nodes {
		if tree.Nodes[i].Depth > deepestDepth {
			deepestDepth = tree.Nodes[i].Depth
		}
	}
	rootBestEval := tree.Nodes[0].Eval()
	var order []int
	for idx := range c.bundles {
		order = append(order, idx)
	}
	score := func(idx int) float32 {
		n := &tree.Nodes[idx]
		return strategy.ComputedScore(n.PreEval, rootBestEval, n.Depth, deepestDepth, opts)
	}
	sort.Slice(order, func(i, j int) bool { return score(order[i]) < score(order[j]) })
	return order
}
