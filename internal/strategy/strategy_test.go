package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputedScore(t *testing.T) {
	opts := Options{EvalDeltaExp: 1, DepthDeltaExp: 1}
	for _, tc := range []struct {
		name                            string
		preEval, rootBestEval           float32
		depth, deepestDepth             int
		want                            float32
	}{
		{"zero delta eval at max depth", 0.5, 0.5, 4, 4, 0},
		{"large delta eval fully discounted at root depth", 1, -1, 0, 4, 0},
		{"no nodes visited yet", 0.3, 0, 0, 0, 0.3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputedScore(tc.preEval, tc.rootBestEval, tc.depth, tc.deepestDepth, opts)
			assert.InDelta(t, tc.want, got, 1e-5)
		})
	}
}

func TestComputedScoreExponentsShapeTheBlend(t *testing.T) {
	// With DepthDeltaExp = 0, depth never influences the score.
	opts := Options{EvalDeltaExp: 1, DepthDeltaExp: 0}
	shallow := ComputedScore(1, 0, 0, 10, opts)
	deep := ComputedScore(1, 0, 10, 10, opts)
	assert.InDelta(t, shallow, deep, 1e-5)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "best_node", BestNode.String())
	assert.Equal(t, "deepest", Deepest.String())
	assert.Equal(t, "computed", Computed.String())
}
