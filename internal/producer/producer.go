// Package producer implements the per-game frontier policy: choosing
// the next node to expand, building its Request by enumerating legal children
// and classifying terminals, and respecting an in-progress set so the same
// node is never submitted for expansion twice concurrently.
package producer

import (
	"math/rand/v2"

	"k8s.io/klog/v2"

	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/patzer/decisiontree/internal/dtree"
	"github.com/patzer/decisiontree/internal/generics"
	"github.com/patzer/decisiontree/internal/openings"
	"github.com/patzer/decisiontree/internal/request"
	"github.com/patzer/decisiontree/internal/rules"
	"github.com/patzer/decisiontree/internal/strategy"
)

// openingEpsilon bounds the tiny signed random eval given to opening-book
// continuations: |eval| < openingEpsilon.
const openingEpsilon = 1e-4

// ResultCallback is invoked with every terminal classification, mirroring the
// result-callback configuration option. It is observational only.
type ResultCallback func(result rules.GameResult, gameIndex int)

// Producer is one game's frontier policy: the tree, the cursor, the
// in-progress set, and the strategy/book/callback configuration shared with
// the Builder.
type Producer struct {
	GameIndex int
	Tree      *dtree.Tree
	Cursor    *dtree.Cursor
	Book      openings.Book // optional, nil if this game has no opening book

	Opts     strategy.Options
	OnResult ResultCallback

	InProgress generics.Set[int]
	Finished   bool
}

// New constructs a Producer for one game.
func New(gameIndex int, tree *dtree.Tree, cursor *dtree.Cursor, opts strategy.Options, book openings.Book, onResult ResultCallback) *Producer {
	return &Producer{
		GameIndex:  gameIndex,
		Tree:       tree,
		Cursor:     cursor,
		Book:       book,
		Opts:       opts,
		OnResult:   onResult,
		InProgress: generics.MakeSet[int](),
	}
}

// Work returns a new Request, or (nil, nil) if
// this game has nothing to submit right now. A nil Request does not by itself
// mean the game is Finished: every eligible node may simply be in progress,
// awaiting evaluation. Finished is only set once chooseNext finds no eligible
// node *and* nothing is in progress either, i.e. the tree has been fully
// resolved (root included, since an unvisited root is itself eligible).
func (p *Producer) Work() (*request.Request, error) {
	if p.Finished {
		return nil, nil
	}

	p.validateInProgress()

	nodeIdx, ok := p.chooseNext()
	if !ok {
		if len(p.InProgress) == 0 {
			p.Finished = true
		}
		return nil, nil
	}

	req, err := p.buildRequestFor(nodeIdx)
	if err != nil {
		return nil, err
	}
	if req == nil {
		// buildRequestFor marked the game Finished after a transient
		// rules-engine issue; nothing to submit this call.
		return nil, nil
	}
	p.InProgress.Insert(nodeIdx)
	return req, nil
}

// validateInProgress drops indices that have since been resolved by
// completion (their node is now visited).
func (p *Producer) validateInProgress() {
	for idx := range p.InProgress {
		if p.Tree.Nodes[idx].Visited() {
			delete(p.InProgress, idx)
		}
	}
}

func (p *Producer) eligible(idx int) bool {
	return !p.Tree.Nodes[idx].Visited() && !p.InProgress.Has(idx)
}

// chooseNext applies random_node_chance (orthogonal to the configured
// strategy) and otherwise dispatches to the active frontier strategy.
func (p *Producer) chooseNext() (int, bool) {
	if p.Opts.RandomNodeChance > 0 && rand.Float32() < p.Opts.RandomNodeChance {
		if idx, ok := p.chooseRandom(); ok {
			return idx, true
		}
	}
	switch p.Opts.Kind {
	case strategy.Deepest:
		return p.chooseDeepest()
	case strategy.Computed:
		return p.chooseComputed()
	default:
		return p.chooseBestNode()
	}
}

func (p *Producer) chooseRandom() (int, bool) {
	var eligible []int
	for idx := range p.Tree.Nodes {
		if p.eligible(idx) {
			eligible = append(eligible, idx)
		}
	}
	if len(eligible) == 0 {
		return 0, false
	}
	return eligible[rand.IntN(len(eligible))], true
}

// chooseBestNode implements the BestNode strategy: a recursive minimax-from-leaf
// search that negates the score returned by each child before comparing
// siblings, so the value is always expressed from the current node's own
// side-to-move's perspective.
func (p *Producer) chooseBestNode() (int, bool) {
	idx, _, ok := p.bestNodeRecursive(0)
	return idx, ok
}

func (p *Producer) bestNodeRecursive(nodeIdx int) (bestIdx int, bestScore float32, ok bool) {
	node := &p.Tree.Nodes[nodeIdx]
	if node.Info.IsEnding {
		return 0, 0, false
	}
	if node.Children == nil {
		if p.InProgress.Has(nodeIdx) {
			return 0, 0, false
		}
		sign := float32(1)
		if p.Tree.SideAt(nodeIdx) == rules.Black {
			sign = -1
		}
		return nodeIdx, node.PreEval * sign, true
	}
	found := false
	for _, child := range node.Children {
		idx, score, childOk := p.bestNodeRecursive(child)
		if !childOk {
			continue
		}
		score = -score
		if !found || score > bestScore {
			bestIdx, bestScore, found = idx, score, true
		}
	}
	return bestIdx, bestScore, found
}

// chooseDeepest implements the Deepest strategy.
func (p *Producer) chooseDeepest() (int, bool) {
	bestIdx := -1
	bestDepth := -1
	for idx := range p.Tree.Nodes {
		if !p.eligible(idx) {
			continue
		}
		if d := p.Tree.Nodes[idx].Depth; d > bestDepth {
			bestDepth, bestIdx = d, idx
		}
	}
	if bestIdx == -1 {
		return 0, false
	}
	return bestIdx, true
}

// chooseComputed implements the Computed strategy.
func (p *Producer) chooseComputed() (int, bool) {
	deepestDepth := 0
	for i := range p.Tree.Nodes {
		if p.Tree.Nodes[i].Depth > deepestDepth {
			deepestDepth = p.Tree.Nodes[i].Depth
		}
	}
	rootBestEval := p.Tree.Nodes[0].Eval()

	bestIdx := -1
	var bestScore float32
	for idx := range p.Tree.Nodes {
		if !p.eligible(idx) {
			continue
		}
		n := &p.Tree.Nodes[idx]
		score := strategy.ComputedScore(n.PreEval, rootBestEval, n.Depth, deepestDepth, p.Opts)
		if bestIdx == -1 || score > bestScore {
			bestIdx, bestScore = idx, score
		}
	}
	if bestIdx == -1 {
		return 0, false
	}
	return bestIdx, true
}

// buildRequestFor moves the cursor to nodeIdx and builds its Request: opening
// continuations if the controller is still on the book, otherwise one Part
// per legal move, with its post-move game result classified.
func (p *Producer) buildRequestFor(nodeIdx int) (*request.Request, error) {
	if err := p.Cursor.GoTo(nodeIdx, p.Tree); err != nil {
		return nil, err
	}
	controller := p.Cursor.Controller()
	req := request.New(p.GameIndex, nodeIdx)

	if p.Book != nil {
		if pointer, ok := controller.OpeningPointer(); ok {
			continuations := p.Book.GetOpeningContinuations(pointer)
			if len(continuations) > 0 {
				for _, move := range continuations {
					evalEps := (rand.Float32()*2 - 1) * openingEpsilon
					req.AddCompleted(move, evalEps, dtree.NodeExtraInfo{IsOpening: true})
				}
				return req, nil
			}
		}
	}

	legalMoves := controller.PossibleMoves()
	if len(legalMoves) == 0 {
		// A logic bug elsewhere: a non-terminal frontier node with no legal
		// moves. Surface it but continue by finishing the game.
		klog.Errorf("producer: game %d node %d has no legal moves but was not flagged terminal, finishing game", p.GameIndex, nodeIdx)
		p.Finished = true
		return nil, nil
	}

	for _, move := range legalMoves {
		if err := controller.ApplyMove(move); err != nil {
			return nil, err
		}
		opponentMoves := controller.PossibleMoves()
		result := controller.GetGameResult(opponentMoves)

		switch result.Kind {
		case rules.Undefined:
			board := controller.Board()
			req.AddPending(move, boardToTensor(board))
		case rules.Win:
			eval := float32(1)
			if result.WinningSide == rules.Black {
				eval = -1
			}
			req.AddCompleted(move, eval, dtree.NodeExtraInfo{IsEnding: true})
			if p.OnResult != nil {
				p.OnResult(result, p.GameIndex)
			}
		case rules.Draw:
			req.AddCompleted(move, 0, dtree.NodeExtraInfo{IsEnding: true})
			if p.OnResult != nil {
				p.OnResult(result, p.GameIndex)
			}
		}

		controller.Revert()
	}
	return req, nil
}

func boardToTensor(board rules.Board) *tensors.Tensor {
	channels := board.Channels()
	t := tensors.FromShape(shapes.Make(dtypes.Float32, channels, 8, 8))
	tensors.MutableFlatData(t, func(flat []float32) {
		copy(flat, board.ToArray())
	})
	return t
}
