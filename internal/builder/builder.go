// Package builder implements the main tree-growth loop: orchestrating
// producers, filling a batch of pending parts, invoking the evaluator,
// writing results back, attaching child nodes, refreshing ancestor
// aggregates, and updating limits.
package builder

import (
	"github.com/chewxy/math32"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/patzer/decisiontree/internal/cache"
	"github.com/patzer/decisiontree/internal/dtree"
	"github.com/patzer/decisiontree/internal/evaluator"
	"github.com/patzer/decisiontree/internal/producer"
	"github.com/patzer/decisiontree/internal/request"
	"github.com/patzer/decisiontree/internal/strategy"
)

// LimiterFactors is any subset of the three optional limits. A nil field
// means that limit is not configured.
type LimiterFactors struct {
	MaxExploredNodes     *int
	MaxIterations        *int
	MaxFullPathsExplored *int
}

// Counters tracks the state LimiterFactors is evaluated against.
type Counters struct {
	ExploredNodes     int
	Iterations        int
	FullPathsExplored int
}

// permit reports whether another iteration's new-work step may run. With no
// limit configured the loop is permitted to run its very first iteration only
// (Iterations < 1), which is equivalent to modeling the unconfigured case as
// an implicit max_iterations=1 -- the same "continuation allowed while every
// set limit is strictly less than its counter" rule applies uniformly either
// way.
func (l LimiterFactors) permit(c Counters) bool {
	anySet := l.MaxIterations != nil || l.MaxExploredNodes != nil || l.MaxFullPathsExplored != nil
	if !anySet {
		return c.Iterations < 1
	}
	if l.MaxIterations != nil && !(c.Iterations < *l.MaxIterations) {
		return false
	}
	if l.MaxExploredNodes != nil && !(c.ExploredNodes < *l.MaxExploredNodes) {
		return false
	}
	if l.MaxFullPathsExplored != nil && !(c.FullPathsExplored < *l.MaxFullPathsExplored) {
		return false
	}
	return true
}

// Options is the recognized builder configuration.
type Options struct {
	BatchSize     int
	MaxCacheBytes int64
	Strategy      strategy.Options
	Limits        LimiterFactors
	OnGameResult  producer.ResultCallback
}

// GameState bundles one game's tree, cursor, cache and producer -- the
// per-game state the Builder carries across iterations.
type GameState struct {
	Tree     *dtree.Tree
	Cursor   *dtree.Cursor
	Cache    *cache.Cache
	Producer *producer.Producer
}

// Builder is the main loop's state: one GameState per game, a single
// RequestStorage shared across them, and the rotating limit counters.
type Builder struct {
	Games     []*GameState
	Storage   *request.Storage
	Evaluator evaluator.Evaluator
	Opts      Options
	Counters  Counters
}

// New constructs a Builder. An empty games slice is a configuration error
// and panics fast.
func New(games []*GameState, eval evaluator.Evaluator, opts Options) *Builder {
	if len(games) == 0 {
		panic(errors.New("builder: at least one game is required"))
	}
	if opts.BatchSize < 1 {
		panic(errors.New("builder: batch_size must be at least 1"))
	}
	return &Builder{
		Games:     games,
		Storage:   request.NewStorage(),
		Evaluator: eval,
		Opts:      opts,
	}
}

// Run drives Step to completion, returning the first evaluator (or other
// non-recoverable) error encountered.
func (b *Builder) Run() error {
	for {
		done, err := b.Step()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Step runs one iteration of the builder's main loop. It returns done=true
// once the builder should stop: limits reached (or every producer signalled
// exhaustion) and RequestStorage is empty.
func (b *Builder) Step() (done bool, err error) {
	limitsPermit := b.Opts.Limits.permit(b.Counters)
	if limitsPermit {
		if pollErr := b.pollProducers(); pollErr != nil {
			// Transient rules-engine issues are a logic bug, not fatal:
			// surface them but continue.
			klog.Errorf("builder: producer poll errors this iteration: %v", pollErr)
		}
	}

	refs := b.Storage.CollectPending(b.Opts.BatchSize)
	if len(refs) > 0 {
		stacked := stackBoards(refs)
		hint, hintOK := b.prepareHint(refs)
		var usedHint evaluator.GenericStorage
		if hintOK {
			usedHint = hint
		}
		output, newActivations, evalErr := b.Evaluator.EvalWithCache(stacked, usedHint)
		if evalErr != nil {
			// The in-flight Requests are left untouched (still Pending), so
			// the next Step retries them.
			return false, errors.Wrap(evalErr, "builder: evaluator call failed")
		}
		b.writeBack(refs, output, newActivations)
		klog.V(2).Infof("builder: evaluated batch of %d parts (cache hint used: %v)", len(refs), hintOK)
	}

	drained := b.Storage.Drain()
	for _, req := range drained {
		game := b.Games[req.GameIndex]
		entries := req.ChildEntries()
		game.Tree.SubmitNodeChildren(req.NodeIndex, entries)
		for i := range req.Parts {
			game.Cache.InsertNext(req.Parts[i].CacheSlice)
		}
	}
	b.Counters.ExploredNodes += len(drained)
	b.Counters.Iterations++
	klog.V(1).Infof("builder: iteration %d, explored_nodes=%d, drained=%d requests", b.Counters.Iterations, b.Counters.ExploredNodes, len(drained))

	if b.Counters.Iterations%3 == 0 {
		b.recountFullPaths()
		b.evictCaches()
	}

	allFinished := true
	for _, g := range b.Games {
		if !g.Producer.Finished {
			allFinished = false
			break
		}
	}
	limitsReached := !b.Opts.Limits.permit(b.Counters)
	done = (limitsReached || allFinished) && b.Storage.Empty()
	return done, nil
}

// pollProducers round-robins across games, pushing new
// Requests until the total number of Pending Parts reaches batch_size or every
// producer yields none in a full pass. One game's error does not stop the
// scan of the others; all of them are accumulated.
func (b *Builder) pollProducers() error {
	var merr *multierror.Error
	for b.Storage.PendingCount() < b.Opts.BatchSize {
		progressed := false
		for _, g := range b.Games {
			if g.Producer.Finished {
				continue
			}
			if b.Storage.PendingCount() >= b.Opts.BatchSize {
				break
			}
			req, err := g.Producer.Work()
			if err != nil {
				merr = multierror.Append(merr, errors.Wrapf(err, "game %d producer", g.Producer.GameIndex))
				continue
			}
			if req != nil {
				b.Storage.Push(req)
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return merr.ErrorOrNil()
}

func (b *Builder) prepareHint(refs []request.PartRef) (evaluator.GenericStorage, bool) {
	hits := make([]evaluator.GenericStorage, len(refs))
	for i, ref := range refs {
		game := b.Games[ref.Request.GameIndex]
		if bundle, ok := game.Cache.Get(ref.Request.NodeIndex); ok {
			hits[i] = bundle
		}
	}
	return cache.Combine(hits)
}

func (b *Builder) writeBack(refs []request.PartRef, output *tensors.Tensor, newActivations evaluator.GenericStorage) {
	flat := tensors.CopyFlatData[float32](output)
	for i, ref := range refs {
		scaled := scaleOutput(flat[i])
		var slice evaluator.GenericStorage
		if newActivations != nil {
			slice = sliceSample(newActivations, i)
		}
		part := &ref.Request.Parts[ref.Index]
		part.Status = request.Completed
		part.Eval = scaled
		part.Info = dtree.NodeExtraInfo{}
		part.CacheSlice = slice
		part.BoardTensor = nil
	}
}

func (b *Builder) recountFullPaths() {
	count := 0
	for _, g := range b.Games {
		for i := range g.Tree.Nodes {
			if g.Tree.Nodes[i].Info.IsEnding {
				count++
			}
		}
	}
	b.Counters.FullPathsExplored = count
}

func (b *Builder) evictCaches() {
	if len(b.Games) == 0 {
		return
	}
	perGameBudget := b.Opts.MaxCacheBytes / int64(len(b.Games))
	for _, g := range b.Games {
		g.Cache.RemoveExcess(g.Tree, b.Opts.Strategy, perGameBudget)
	}
}

// scaleOutput is the builder's output scaler: unchanged when |x| < 2, else a
// sigmoid-shaped squash that bounds extreme values while preserving small
// linear behaviour.
func scaleOutput(x float32) float32 {
	if math32.Abs(x) < 2 {
		return x
	}
	return 4.5/(1+math32.Exp(-1.4*x)) - 2.25
}

// stackBoards stitches the board tensors of refs, in order, along a new
// leading batch axis.
func stackBoards(refs []request.PartRef) *tensors.Tensor {
	first := refs[0].Request.Parts[refs[0].Index].BoardTensor
	dims := append([]int{}, first.Shape().Dimensions...)
	elemsPerSample := 1
	for _, d := range dims {
		elemsPerSample *= d
	}
	outDims := append([]int{len(refs)}, dims...)
	out := tensors.FromShape(shapes.Make(dtypes.Float32, outDims...))
	tensors.MutableFlatData(out, func(flat []float32) {
		for i, ref := range refs {
			src := tensors.CopyFlatData[float32](ref.Request.Parts[ref.Index].BoardTensor)
			copy(flat[i*elemsPerSample:(i+1)*elemsPerSample], src)
		}
	})
	return out
}

// sliceSample extracts row i (dropping the leading batch dimension) from every
// tensor in bundle.
func sliceSample(bundle evaluator.GenericStorage, i int) evaluator.GenericStorage {
	out := make(evaluator.GenericStorage, len(bundle))
	for name, t := range bundle {
		dims := append([]int{}, t.Shape().Dimensions...)
		sampleDims := dims[1:]
		elemsPerSample := 1
		for _, d := range sampleDims {
			elemsPerSample *= d
		}
		full := tensors.CopyFlatData[float32](t)
		sample := tensors.FromShape(shapes.Make(dtypes.Float32, sampleDims...))
		tensors.MutableFlatData(sample, func(flat []float32) {
			copy(flat, full[i*elemsPerSample:(i+1)*elemsPerSample])
		})
		out[name] = sample
	}
	return out
}
