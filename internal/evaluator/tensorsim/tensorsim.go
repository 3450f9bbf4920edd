// Package tensorsim provides a deterministic, weight-free stand-in for a
// trained neural evaluator. It implements evaluator.Evaluator without any of
// gomlx's graph-compilation machinery, so a builder can be exercised (in
// tests and in cmd/buildtree's demo mode) without a real model on disk.
package tensorsim

import (
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/patzer/decisiontree/internal/evaluator"
)

// hiddenWidth is the size of the single synthetic "hidden" activation tensor
// Scorer reports, so callers can exercise the cache-hint path without a real
// model's activation shapes.
const hiddenWidth = 8

// Scorer is a toy evaluator: material balance, computed straight from the
// one-hot piece-plane encoding, scaled into [-1, 1] by a tanh-like squash.
// It never errors.
type Scorer struct{}

// New returns a ready-to-use Scorer.
func New() *Scorer { return &Scorer{} }

var _ evaluator.Evaluator = (*Scorer)(nil)

// EvalWithCache implements evaluator.Evaluator. prevActivations is accepted
// but ignored: the score is recomputed directly from the batch every time,
// since this scorer has no weights to warm-start from a cache hint.
func (s *Scorer) EvalWithCache(batch *tensors.Tensor, prevActivations evaluator.GenericStorage) (*tensors.Tensor, evaluator.GenericStorage, error) {
	dims := batch.Shape().Dimensions
	n := dims[0]
	channels := dims[1]
	planeSize := 1
	for _, d := range dims[2:] {
		planeSize *= d
	}

	flat := tensors.CopyFlatData[float32](batch)
	output := tensors.FromShape(shapes.Make(dtypes.Float32, n))
	hidden := tensors.FromShape(shapes.Make(dtypes.Float32, n, hiddenWidth))

	tensors.MutableFlatData(output, func(outFlat []float32) {
		tensors.MutableFlatData(hidden, func(hiddenFlat []float32) {
			for i := 0; i < n; i++ {
				sampleOffset := i * channels * planeSize
				var score float32
				for c := 0; c < channels; c++ {
					weight := pieceWeight(c, channels)
					var sum float32
					base := sampleOffset + c*planeSize
					for p := 0; p < planeSize; p++ {
						sum += flat[base+p]
					}
					score += weight * sum
				}
				outFlat[i] = squash(score)
				for h := 0; h < hiddenWidth; h++ {
					hiddenFlat[i*hiddenWidth+h] = score
				}
			}
		})
	})

	return output, evaluator.GenericStorage{"hidden": hidden}, nil
}

// pieceWeight assigns a standard material value per channel, alternating sign
// between the white half (channels [0, channels/2)) and the black half,
// mirroring the king/queen/rook/bishop/knight/pawn channel order the board
// encoder uses per side.
func pieceWeight(channel, channels int) float32 {
	values := [6]float32{0, 9, 5, 3, 3, 1} // king, queen, rook, bishop, knight, pawn
	half := channels / 2
	idx := channel % half
	w := values[idx%len(values)]
	if channel >= half {
		return -w
	}
	return w
}

// squash bounds raw material counts into (-1, 1) without needing math32's
// exp: a simple rational squash, x / (1 + |x|).
func squash(x float32) float32 {
	abs := x
	if abs < 0 {
		abs = -abs
	}
	return x / (1 + abs)
}
