package main

import (
	"flag"
	"fmt"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/patzer/decisiontree/internal/builder"
	"github.com/patzer/decisiontree/internal/buildercfg"
	"github.com/patzer/decisiontree/internal/cache"
	"github.com/patzer/decisiontree/internal/dtree"
	"github.com/patzer/decisiontree/internal/evaluator/tensorsim"
	"github.com/patzer/decisiontree/internal/openings"
	"github.com/patzer/decisiontree/internal/parameters"
	"github.com/patzer/decisiontree/internal/producer"
	"github.com/patzer/decisiontree/internal/rules"
	"github.com/patzer/decisiontree/internal/rules/notnilchess"
)

var (
	flagNumGames      = flag.Int("games", 1, "Number of games to grow trees for, concurrently within one batch.")
	flagBuilderParams = flag.String("builder_params", "", "Comma-separated key=value builder configuration, see internal/buildercfg.")
	flagOpeningsBook  = flag.String("openings_book", "", "Path to an openings book file, optional.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *flagNumGames < 1 {
		klog.Fatal("-games must be at least 1")
	}

	opts, err := buildercfg.FromParams(parameters.NewFromConfigString(*flagBuilderParams))
	if err != nil {
		klog.Fatalf("failed to parse -builder_params: %v", err)
	}

	var book openings.Book
	if *flagOpeningsBook != "" {
		fileBook, err := openings.LoadFile(*flagOpeningsBook)
		if err != nil {
			klog.Fatalf("failed to load -openings_book %q: %v", *flagOpeningsBook, err)
		}
		book = fileBook
	}

	games, err := setupGames(*flagNumGames, book, opts)
	if err != nil {
		klog.Fatalf("failed to set up games: %v", err)
	}

	b := builder.New(games, tensorsim.New(), opts)
	if err := b.Run(); err != nil {
		klog.Fatalf("builder.Run failed: %v", err)
	}

	for i, g := range games {
		fmt.Printf("Game %d: %d nodes in tree, best path:\n", i, len(g.Tree.Nodes))
		for idx := range g.Tree.BestPathIter(0, true) {
			node := &g.Tree.Nodes[idx]
			fmt.Printf("  node %d (depth %d, move %s, eval %.3f)\n", idx, node.Depth, node.Movement, node.Eval())
		}
	}
}

func setupGames(n int, book openings.Book, opts builder.Options) ([]*builder.GameState, error) {
	games := make([]*builder.GameState, n)
	for i := range games {
		var controllerOpts []notnilchess.Option
		var bookForProducer openings.Book
		if book != nil {
			controllerOpts = append(controllerOpts, notnilchess.WithOpeningsBook(book))
			bookForProducer = book
		}
		controller := notnilchess.NewController(controllerOpts...)
		tree := dtree.New(rules.White)
		cursor := dtree.NewCursor(controller)
		onResult := opts.OnGameResult
		gameIndex := i
		prod := producer.New(gameIndex, tree, cursor, opts.Strategy, bookForProducer, func(result rules.GameResult, gi int) {
			klog.V(1).Infof("game %d finished: %+v", gi, result)
			if onResult != nil {
				onResult(result, gi)
			}
		})
		games[i] = &builder.GameState{
			Tree:     tree,
			Cursor:   cursor,
			Cache:    cache.New(),
			Producer: prod,
		}
	}
	if len(games) == 0 {
		return nil, errors.New("no games configured")
	}
	return games, nil
}
