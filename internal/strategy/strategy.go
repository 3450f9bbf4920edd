// Package strategy defines the next-node frontier policy as a tagged variant,
// shared between internal/producer (frontier selection) and
// internal/cache (eviction uses the same scoring policy). Modeling it as
// a plain tag rather than an interface lets both hot loops switch on Kind
// instead of paying for dynamic dispatch.
package strategy

import "github.com/chewxy/math32"

// Kind tags which frontier policy is active.
type Kind int

const (
	BestNode Kind = iota
	Deepest
	Computed
)

func (k Kind) String() string {
	switch k {
	case BestNode:
		return "best_node"
	case Deepest:
		return "deepest"
	case Computed:
		return "computed"
	default:
		return "unknown"
	}
}

// Options configures the active strategy. EvalDeltaExp/DepthDeltaExp are only
// consulted when Kind == Computed.
type Options struct {
	Kind Kind

	// EvalDeltaExp is alpha in score(node) = (Δeval)^α · (1 − Δdepth)^β.
	EvalDeltaExp float32
	// DepthDeltaExp is beta in the same formula.
	DepthDeltaExp float32

	// RandomNodeChance ∈ [0,1] diverts a fraction of picks to a uniformly
	// random eligible node, orthogonal to Kind.
	RandomNodeChance float32
}

// ComputedScore implements the Computed strategy's blended score:
//
//	score(node) = (Δeval)^α · (1 − Δdepth)^β
//
// where Δeval = |pre_eval − best_sibling_eval_at_root_of_path| (the absolute
// distance between this node's own pre-evaluation and the best value already
// known at the root of the path, i.e. the root's ChildrenEval) and
// Δdepth = (deepestDepth − node.depth) / deepestDepth.
func ComputedScore(nodePreEval, rootBestEval float32, nodeDepth, deepestDepth int, opts Options) float32 {
	deltaEval := nodePreEval - rootBestEval
	if deltaEval < 0 {
		deltaEval = -deltaEval
	}
	var deltaDepth float32
	if deepestDepth > 0 {
		deltaDepth = float32(deepestDepth-nodeDepth) / float32(deepestDepth)
	}
	return math32.Pow(deltaEval, opts.EvalDeltaExp) * math32.Pow(1-deltaDepth, opts.DepthDeltaExp)
}

