// Package request implements the Request/Part lifecycle that shuttles work
// between tree producers and the evaluator.
package request

import (
	"github.com/google/uuid"

	"github.com/patzer/decisiontree/internal/dtree"
	"github.com/patzer/decisiontree/internal/evaluator"
	"github.com/patzer/decisiontree/internal/rules"

	"github.com/gomlx/gomlx/types/tensors"
)

// Status tags which variant a Part currently holds.
type Status int

const (
	Pending Status = iota
	Completed
)

// Part is a tagged variant: Pending awaits the evaluator, Completed is
// ready to become a child. Both carry IndexInOwner so the completed form can
// be written back into the same slot without reordering.
type Part struct {
	Status Status

	Move         rules.Move
	IndexInOwner int

	// Pending fields.
	BoardTensor *tensors.Tensor

	// Completed fields.
	Eval       float32
	Info       dtree.NodeExtraInfo
	CacheSlice evaluator.GenericStorage // optional, nil if this Part carries no activations
}

// Request is one unit of work: one per expanded node, holding one Part per
// legal child.
type Request struct {
	UUID      uuid.UUID
	GameIndex int
	NodeIndex int
	Parts     []Part
}

// New allocates an empty Request for the given game/node, ready to have Parts
// appended in construction order.
func New(gameIndex, nodeIndex int) *Request {
	return &Request{
		UUID:      uuid.New(),
		GameIndex: gameIndex,
		NodeIndex: nodeIndex,
	}
}

// AddPending appends a Pending Part.
func (r *Request) AddPending(move rules.Move, boardTensor *tensors.Tensor) {
	r.Parts = append(r.Parts, Part{
		Status:       Pending,
		Move:         move,
		IndexInOwner: len(r.Parts),
		BoardTensor:  boardTensor,
	})
}

// AddCompleted appends an already-Completed Part (terminal classifications and
// opening-book continuations never touch the evaluator).
func (r *Request) AddCompleted(move rules.Move, eval float32, info dtree.NodeExtraInfo) {
	r.Parts = append(r.Parts, Part{
		Status:       Completed,
		Move:         move,
		IndexInOwner: len(r.Parts),
		Eval:         eval,
		Info:         info,
	})
}

// Completed reports whether every Part of r is Completed.
func (r *Request) Completed() bool {
	for i := range r.Parts {
		if r.Parts[i].Status != Completed {
			return false
		}
	}
	return true
}

// ChildEntries converts r's Parts, in their original construction order, into
// the (move, eval, info) tuples dtree.Tree.SubmitNodeChildren expects. It
// panics if any Part is still Pending, since draining only ever calls this on
// a fully Completed Request.
func (r *Request) ChildEntries() []dtree.ChildEntry {
	entries := make([]dtree.ChildEntry, len(r.Parts))
	for i, p := range r.Parts {
		if p.Status != Completed {
			panic("request: ChildEntries called on a Request with a Pending Part")
		}
		entries[i] = dtree.ChildEntry{Move: p.Move, Eval: p.Eval, Info: p.Info}
	}
	return entries
}

// PartRef points at one Part inside a Request, used to gather a flat batch of
// Pending Parts across many Requests and write results back in place.
type PartRef struct {
	Request *Request
	Index   int
}

// Storage is RequestStorage: a FIFO of uncompleted Requests. Draining only
// ever removes a completed prefix: it stops at the first non-completed
// Request in the queue, preserving submission order.
type Storage struct {
	queue []*Request
}

// NewStorage returns an empty RequestStorage.
func NewStorage() *Storage { return &Storage{} }

// Push enqueues a newly produced Request.
func (s *Storage) Push(r *Request) { s.queue = append(s.queue, r) }

// Len returns the number of Requests still in the storage (completed or not).
func (s *Storage) Len() int { return len(s.queue) }

// Empty reports whether the storage holds no Requests at all.
func (s *Storage) Empty() bool { return len(s.queue) == 0 }

// PendingCount returns the total number of Pending Parts across all Requests.
func (s *Storage) PendingCount() int {
	count := 0
	for _, r := range s.queue {
		for i := range r.Parts {
			if r.Parts[i].Status == Pending {
				count++
			}
		}
	}
	return count
}

// CollectPending gathers up to limit Pending Parts across Requests, in
// insertion order, as PartRefs the caller can later write Completed values
// back through.
func (s *Storage) CollectPending(limit int) []PartRef {
	var refs []PartRef
	for _, r := range s.queue {
		for i := range r.Parts {
			if r.Parts[i].Status != Pending {
				continue
			}
			refs = append(refs, PartRef{Request: r, Index: i})
			if len(refs) >= limit {
				return refs
			}
		}
	}
	return refs
}

// Drain removes and returns the completed prefix of the queue: every Request
// from the front that is fully Completed, stopping at the first one that is
// not.
func (s *Storage) Drain() []*Request {
	i := 0
	for i < len(s.queue) && s.queue[i].Completed() {
		i++
	}
	drained := s.queue[:i]
	s.queue = s.queue[i:]
	return drained
}
