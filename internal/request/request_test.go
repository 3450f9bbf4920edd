package request

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patzer/decisiontree/internal/dtree"
	"github.com/patzer/decisiontree/internal/rules"
)

func TestRequestCompletedOnlyWhenEveryPartIsCompleted(t *testing.T) {
	r := New(0, 0)
	assert.True(t, r.Completed(), "an empty Request has no Pending parts")

	r.AddPending(rules.Move{From: 0, To: 1}, nil)
	assert.False(t, r.Completed())

	r.Parts[0].Status = Completed
	r.Parts[0].Eval = 0.5
	assert.True(t, r.Completed())
}

func TestChildEntriesPreservesOrderAndPanicsOnPending(t *testing.T) {
	r := New(0, 0)
	r.AddCompleted(rules.Move{From: 0, To: 1}, 0.1, dtree.NodeExtraInfo{})
	r.AddCompleted(rules.Move{From: 0, To: 2}, -0.2, dtree.NodeExtraInfo{IsEnding: true})

	entries := r.ChildEntries()
	require.Len(t, entries, 2)
	assert.InDelta(t, float32(0.1), entries[0].Eval, 1e-6)
	assert.InDelta(t, float32(-0.2), entries[1].Eval, 1e-6)
	assert.True(t, entries[1].Info.IsEnding)

	r.AddPending(rules.Move{From: 0, To: 3}, nil)
	assert.Panics(t, func() { r.ChildEntries() })
}

func TestStorageCollectPendingAndDrain(t *testing.T) {
	s := NewStorage()
	assert.True(t, s.Empty())

	r1 := New(0, 0)
	r1.AddPending(rules.Move{From: 0, To: 1}, nil)
	r1.AddPending(rules.Move{From: 0, To: 2}, nil)
	r2 := New(0, 5)
	r2.AddCompleted(rules.Move{From: 5, To: 6}, 0, dtree.NodeExtraInfo{})

	s.Push(r1)
	s.Push(r2)
	assert.Equal(t, 2, s.PendingCount())

	refs := s.CollectPending(10)
	require.Len(t, refs, 2)
	assert.Same(t, r1, refs[0].Request)
	assert.Same(t, r1, refs[1].Request)

	// r1 is still Pending, so Drain must not remove anything, even though r2
	// (further back in the queue) is already Completed.
	drained := s.Drain()
	assert.Empty(t, drained)
	assert.Equal(t, 2, s.Len())

	refs[0].Request.Parts[refs[0].Index].Status = Completed
	refs[1].Request.Parts[refs[1].Index].Status = Completed
	drained = s.Drain()
	require.Len(t, drained, 2)
	assert.True(t, s.Empty())
}

func TestCollectPendingRespectsLimit(t *testing.T) {
	s := NewStorage()
	r := New(0, 0)
	for i := 0; i < 5; i++ {
		r.AddPending(rules.Move{From: rules.Square(i), To: rules.Square(i + 1)}, nil)
	}
	s.Push(r)
	refs := s.CollectPending(3)
	assert.Len(t, refs, 3)
}
