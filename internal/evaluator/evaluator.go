// Package evaluator defines the neural-evaluator contract the Builder
// consumes: a batched forward pass with an optional activation-cache hint. The
// concrete board-scoring network is out of scope; see
// internal/evaluator/tensorsim for a small deterministic stand-in used by
// tests and the example CLI.
package evaluator

import "github.com/gomlx/gomlx/types/tensors"

// GenericStorage is a named bundle of tensors -- the evaluator's per-layer
// activations. Passed to or returned from the evaluator, each tensor's leading
// dimension is the batch size; a Cache entry holds one position's slice of
// such a bundle, without that leading dimension.
type GenericStorage map[string]*tensors.Tensor

// Evaluator is a forward pass over a batch of boards, optionally resumed from
// a previous activation bundle.
//
// batch has shape (N, channels, 8, 8), dtype float32. The returned output has
// shape (N,), ideally in [-1, +1] (the Builder still runs it through the
// output scaler). prevActivations, when non-nil, has a leading dimension of N
// per tensor; newActivations follows the same shape family.
type Evaluator interface {
	EvalWithCache(batch *tensors.Tensor, prevActivations GenericStorage) (output *tensors.Tensor, newActivations GenericStorage, err error)
}

// BytesOf returns the byte accounting used for a cache entry's budget: 4
// bytes per float32 scalar plus an 8-byte fixed overhead per named tensor.
func BytesOf(bundle GenericStorage) int64 {
	var total int64
	for _, t := range bundle {
		total += int64(t.Shape().Size())*4 + 8
	}
	return total
}
