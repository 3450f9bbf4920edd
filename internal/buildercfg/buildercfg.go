// Package buildercfg parses builder.Options out of the generic
// parameters.Params configuration map, the same way player/model
// configuration elsewhere is popped out of a flat string map.
package buildercfg

import (
	"github.com/pkg/errors"

	"github.com/patzer/decisiontree/internal/builder"
	"github.com/patzer/decisiontree/internal/parameters"
	"github.com/patzer/decisiontree/internal/strategy"
)

// FromParams builds builder.Options from params, popping every key it
// recognizes so callers can detect leftover unrecognized parameters the usual
// way (len(params) > 0 after every consumer has had a turn).
func FromParams(params parameters.Params) (builder.Options, error) {
	var opts builder.Options
	var err error

	if opts.BatchSize, err = parameters.PopParamOr(params, "batch_size", 64); err != nil {
		return opts, err
	}
	maxCacheBytesInt, err := parameters.PopParamOr(params, "max_cache_bytes", 64<<20)
	if err != nil {
		return opts, err
	}
	opts.MaxCacheBytes = int64(maxCacheBytesInt)

	strategyName, err := parameters.PopParamOr(params, "next_node_strategy", "best_node")
	if err != nil {
		return opts, err
	}
	switch strategyName {
	case "best_node":
		opts.Strategy.Kind = strategy.BestNode
	case "deepest":
		opts.Strategy.Kind = strategy.Deepest
	case "computed":
		opts.Strategy.Kind = strategy.Computed
	default:
		return opts, errors.Errorf("next_node_strategy: unknown value %q", strategyName)
	}
	if opts.Strategy.EvalDeltaExp, err = parameters.PopParamOr(params, "eval_delta_exp", float32(1.0)); err != nil {
		return opts, err
	}
	if opts.Strategy.DepthDeltaExp, err = parameters.PopParamOr(params, "depth_delta_exp", float32(1.0)); err != nil {
		return opts, err
	}
	if opts.Strategy.RandomNodeChance, err = parameters.PopParamOr(params, "random_node_chance", float32(0)); err != nil {
		return opts, err
	}

	if _, present := params["max_explored_nodes"]; present {
		v, perr := parameters.PopParamOr(params, "max_explored_nodes", 0)
		if perr != nil {
			return opts, perr
		}
		opts.Limits.MaxExploredNodes = &v
	}
	if _, present := params["max_iterations"]; present {
		v, perr := parameters.PopParamOr(params, "max_iterations", 0)
		if perr != nil {
			return opts, perr
		}
		opts.Limits.MaxIterations = &v
	}
	if _, present := params["max_full_paths_explored"]; present {
		v, perr := parameters.PopParamOr(params, "max_full_paths_explored", 0)
		if perr != nil {
			return opts, perr
		}
		opts.Limits.MaxFullPathsExplored = &v
	}

	return opts, nil
}
