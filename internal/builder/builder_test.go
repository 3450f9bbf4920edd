package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patzer/decisiontree/internal/cache"
	"github.com/patzer/decisiontree/internal/dtree"
	"github.com/patzer/decisiontree/internal/evaluator/tensorsim"
	"github.com/patzer/decisiontree/internal/producer"
	"github.com/patzer/decisiontree/internal/rules"
	"github.com/patzer/decisiontree/internal/rules/notnilchess"
	"github.com/patzer/decisiontree/internal/strategy"
)

func newGameState(gameIndex int) *GameState {
	controller := notnilchess.NewController()
	tree := dtree.New(rules.White)
	cursor := dtree.NewCursor(controller)
	prod := producer.New(gameIndex, tree, cursor, strategy.Options{Kind: strategy.BestNode}, nil, nil)
	return &GameState{Tree: tree, Cursor: cursor, Cache: cache.New(), Producer: prod}
}

func TestNewPanicsOnNoGames(t *testing.T) {
	assert.Panics(t, func() {
		New(nil, tensorsim.New(), Options{BatchSize: 1})
	})
}

func TestNewPanicsOnInvalidBatchSize(t *testing.T) {
	assert.Panics(t, func() {
		New([]*GameState{newGameState(0)}, tensorsim.New(), Options{BatchSize: 0})
	})
}

func TestLimiterFactorsPermitsExactlyOneIterationWithNoLimitsConfigured(t *testing.T) {
	var l LimiterFactors
	assert.True(t, l.permit(Counters{Iterations: 0}))
	assert.False(t, l.permit(Counters{Iterations: 1}))
}

func TestLimiterFactorsRespectsEachConfiguredLimit(t *testing.T) {
	maxIter := 3
	l := LimiterFactors{MaxIterations: &maxIter}
	assert.True(t, l.permit(Counters{Iterations: 2}))
	assert.False(t, l.permit(Counters{Iterations: 3}))

	maxExplored := 10
	l2 := LimiterFactors{MaxExploredNodes: &maxExplored}
	assert.True(t, l2.permit(Counters{ExploredNodes: 9}))
	assert.False(t, l2.permit(Counters{ExploredNodes: 10}))
}

func TestStepExpandsRootOnFirstCall(t *testing.T) {
	gs := newGameState(0)
	// maxIter=2 so the limit itself isn't what ends Step 1: done must reflect
	// the frontier, not an exhausted iteration budget.
	maxIter := 2
	b := New([]*GameState{gs}, tensorsim.New(), Options{
		BatchSize: 64,
		Limits:    LimiterFactors{MaxIterations: &maxIter},
	})

	done, err := b.Step()
	require.NoError(t, err)
	assert.False(t, done, "one ply of root expansion does not exhaust the frontier")
	assert.True(t, gs.Tree.Nodes[0].Visited(), "root must have children after one full step")
	assert.Len(t, gs.Tree.Nodes[0].Children, 20, "the standard opening position has 20 legal moves")
	assert.Equal(t, 1, b.Counters.Iterations)
	assert.Equal(t, 1, b.Counters.ExploredNodes, "explored_nodes counts completed requests (expanded nodes), not their children")
}

func TestStepWithBatchSizeOneStillProgresses(t *testing.T) {
	gs := newGameState(0)
	maxIter := 1
	b := New([]*GameState{gs}, tensorsim.New(), Options{
		BatchSize: 1,
		Limits:    LimiterFactors{MaxIterations: &maxIter},
	})
	_, err := b.Step()
	require.NoError(t, err)
	// With batch_size=1 a single Step only pulls in the pending parts it has
	// room for; at least the root's Request has been pushed into storage even
	// if not every Part has been drained yet.
	assert.GreaterOrEqual(t, b.Counters.ExploredNodes+b.Storage.PendingCount(), 1)
}

func TestRunTerminatesWithNoLimitsConfigured(t *testing.T) {
	gs := newGameState(0)
	b := New([]*GameState{gs}, tensorsim.New(), Options{BatchSize: 64})
	err := b.Run()
	require.NoError(t, err)
	assert.True(t, b.Storage.Empty())
	assert.Equal(t, 1, b.Counters.Iterations)
}

func TestScaleOutputLeavesSmallValuesUnchanged(t *testing.T) {
	assert.InDelta(t, float32(0.5), scaleOutput(0.5), 1e-6)
	assert.InDelta(t, float32(-1.9), scaleOutput(-1.9), 1e-6)
}

func TestScaleOutputSquashesLargeValues(t *testing.T) {
	got := scaleOutput(10)
	assert.Less(t, got, float32(2.25))
	assert.Greater(t, got, float32(0))
}
