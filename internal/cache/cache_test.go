package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/patzer/decisiontree/internal/dtree"
	"github.com/patzer/decisiontree/internal/evaluator"
	"github.com/patzer/decisiontree/internal/rules"
	"github.com/patzer/decisiontree/internal/strategy"
)

func sampleBundle(values ...float32) evaluator.GenericStorage {
	n := len(values)
	t := tensors.FromShape(shapes.Make(dtypes.Float32, n))
	tensors.MutableFlatData(t, func(flat []float32) { copy(flat, values) })
	return evaluator.GenericStorage{"hidden": t}
}

func TestInsertNextAndGet(t *testing.T) {
	c := New()
	slot := c.InsertNext(sampleBundle(1, 2, 3))
	assert.Equal(t, 1, slot)
	bundle, ok := c.Get(1)
	require.True(t, ok)
	assert.Contains(t, bundle, "hidden")
	assert.Equal(t, 1, c.Len())
	assert.Positive(t, c.CurrentBytes())
}

func TestInsertNextSkipsAccountingForNilBundle(t *testing.T) {
	c := New()
	slot := c.InsertNext(nil)
	assert.Equal(t, 1, slot)
	_, ok := c.Get(1)
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.CurrentBytes())
	// Slot counter still advances even for a nil bundle, preserving alignment
	// with tree node indices.
	next := c.InsertNext(sampleBundle(1))
	assert.Equal(t, 2, next)
}

func TestRemove(t *testing.T) {
	c := New()
	c.InsertNext(sampleBundle(1, 2))
	before := c.CurrentBytes()
	require.Positive(t, before)
	c.Remove(1)
	assert.Equal(t, int64(0), c.CurrentBytes())
	_, ok := c.Get(1)
	assert.False(t, ok)
}

func TestCombineRequiresThreshold(t *testing.T) {
	hits := []evaluator.GenericStorage{sampleBundle(1), nil, nil}
	_, ok := Combine(hits)
	assert.False(t, ok, "1/3 hits is below the 60% threshold")

	hits = []evaluator.GenericStorage{sampleBundle(1), sampleBundle(2), nil}
	combined, ok := Combine(hits)
	require.True(t, ok, "2/3 hits meets the 60% threshold")
	out, found := combined["hidden"]
	require.True(t, found)
	assert.Equal(t, []int{3, 1}, out.Shape().Dimensions)
	flat := tensors.CopyFlatData[float32](out)
	assert.InDeltaSlice(t, []float32{1, 2, 0}, flat, 1e-6)
}

func TestCombineEmptyInput(t *testing.T) {
	_, ok := Combine(nil)
	assert.False(t, ok)
}

func TestRemoveExcessWithZeroBudgetEvictsEverything(t *testing.T) {
	tree := dtree.New(rules.White)
	tree.SubmitNodeChildren(0, []dtree.ChildEntry{
		{Move: rules.Move{From: 0, To: 1}, Eval: 0.1},
		{Move: rules.Move{From: 0, To: 2}, Eval: 0.2},
	})
	c := New()
	c.InsertNext(sampleBundle(1, 2, 3, 4))
	c.InsertNext(sampleBundle(5, 6, 7, 8))
	require.Equal(t, 2, c.Len())

	c.RemoveExcess(tree, strategy.Options{Kind: strategy.BestNode}, 0)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.CurrentBytes())
}

func TestRemoveExcessNoopWithinBudget(t *testing.T) {
	tree := dtree.New(rules.White)
	c := New()
	c.InsertNext(sampleBundle(1))
	before := c.CurrentBytes()
	c.RemoveExcess(tree, strategy.Options{Kind: strategy.Deepest}, before+1000)
	assert.Equal(t, before, c.CurrentBytes())
	assert.Equal(t, 1, c.Len())
}
