package buildercfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patzer/decisiontree/internal/parameters"
	"github.com/patzer/decisiontree/internal/strategy"
)

func TestFromParamsDefaults(t *testing.T) {
	opts, err := FromParams(parameters.Params{})
	require.NoError(t, err)
	assert.Equal(t, 64, opts.BatchSize)
	assert.Equal(t, int64(64<<20), opts.MaxCacheBytes)
	assert.Equal(t, strategy.BestNode, opts.Strategy.Kind)
	assert.Equal(t, float32(1.0), opts.Strategy.EvalDeltaExp)
	assert.Equal(t, float32(1.0), opts.Strategy.DepthDeltaExp)
	assert.Equal(t, float32(0), opts.Strategy.RandomNodeChance)
	assert.Nil(t, opts.Limits.MaxExploredNodes)
	assert.Nil(t, opts.Limits.MaxIterations)
	assert.Nil(t, opts.Limits.MaxFullPathsExplored)
}

func TestFromParamsOverridesAndConsumesKnownKeys(t *testing.T) {
	params := parameters.Params{
		"batch_size":         "128",
		"max_cache_bytes":    "1000",
		"next_node_strategy": "deepest",
		"eval_delta_exp":     "2.5",
		"depth_delta_exp":    "0.5",
		"random_node_chance": "0.1",
	}
	opts, err := FromParams(params)
	require.NoError(t, err)
	assert.Equal(t, 128, opts.BatchSize)
	assert.Equal(t, int64(1000), opts.MaxCacheBytes)
	assert.Equal(t, strategy.Deepest, opts.Strategy.Kind)
	assert.InDelta(t, float32(2.5), opts.Strategy.EvalDeltaExp, 1e-6)
	assert.InDelta(t, float32(0.5), opts.Strategy.DepthDeltaExp, 1e-6)
	assert.InDelta(t, float32(0.1), opts.Strategy.RandomNodeChance, 1e-6)
	assert.Empty(t, params, "every recognized key must be popped")
}

func TestFromParamsComputedStrategy(t *testing.T) {
	opts, err := FromParams(parameters.Params{"next_node_strategy": "computed"})
	require.NoError(t, err)
	assert.Equal(t, strategy.Computed, opts.Strategy.Kind)
}

func TestFromParamsRejectsUnknownStrategy(t *testing.T) {
	_, err := FromParams(parameters.Params{"next_node_strategy": "bogus"})
	assert.Error(t, err)
}

func TestFromParamsLeavesLimitsUnsetWhenAbsent(t *testing.T) {
	opts, err := FromParams(parameters.Params{})
	require.NoError(t, err)
	assert.Nil(t, opts.Limits.MaxIterations)
}

func TestFromParamsSetsConfiguredLimits(t *testing.T) {
	params := parameters.Params{
		"max_explored_nodes":      "1000",
		"max_iterations":          "50",
		"max_full_paths_explored": "7",
	}
	opts, err := FromParams(params)
	require.NoError(t, err)
	require.NotNil(t, opts.Limits.MaxExploredNodes)
	require.NotNil(t, opts.Limits.MaxIterations)
	require.NotNil(t, opts.Limits.MaxFullPathsExplored)
	assert.Equal(t, 1000, *opts.Limits.MaxExploredNodes)
	assert.Equal(t, 50, *opts.Limits.MaxIterations)
	assert.Equal(t, 7, *opts.Limits.MaxFullPathsExplored)
	assert.Empty(t, params)
}

func TestFromParamsRejectsMalformedNumericValue(t *testing.T) {
	_, err := FromParams(parameters.Params{"batch_size": "not-a-number"})
	assert.Error(t, err)
}
