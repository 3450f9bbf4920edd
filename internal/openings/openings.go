// Package openings implements the openings-book contract: a tree of
// pre-scored move sequences looked up by position pointer, loadable from a
// line-based text file.
package openings

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/patzer/decisiontree/internal/rules"
)

// Book is the full openings-book contract consumed by the Producer.
type Book interface {
	rules.OpeningsBook

	// GetOpeningContinuations returns the moves leading to pointer's children,
	// in child order.
	GetOpeningContinuations(pointer int) []rules.Move
	// GetOpeningName returns the human-readable name recorded for pointer.
	GetOpeningName(pointer int) string
}

type bookNode struct {
	name     string
	move     rules.Move // move that produced this node from its parent; unused at the root
	children []int
}

// FileBook is a Book loaded from a line-based text file: each line is
// `name|from_to_notation|comma_separated_child_indices`, where indices refer to
// other lines (0-based); the first line is the root.
type FileBook struct {
	nodes []bookNode
}

// LoadFile opens path and parses it with Load.
func LoadFile(path string) (*FileBook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening openings book %q", path)
	}
	defer f.Close()
	return Load(f)
}

// Load parses the line-based openings-book format from r.
func Load(r io.Reader) (*FileBook, error) {
	var nodes []bookNode
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineNum++
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "|", 3)
		if len(fields) != 3 {
			return nil, errors.Errorf("openings book line %d: expected 3 '|'-separated fields, got %d", lineNum, len(fields))
		}
		name, moveNotation, childrenCSV := fields[0], fields[1], fields[2]

		var move rules.Move
		if moveNotation != "" {
			parsed, err := parseMove(moveNotation)
			if err != nil {
				return nil, errors.Wrapf(err, "openings book line %d", lineNum)
			}
			move = parsed
		}

		var children []int
		if childrenCSV != "" {
			for _, tok := range strings.Split(childrenCSV, ",") {
				idx, err := strconv.Atoi(strings.TrimSpace(tok))
				if err != nil {
					return nil, errors.Wrapf(err, "openings book line %d: child index %q", lineNum, tok)
				}
				children = append(children, idx)
			}
		}

		nodes = append(nodes, bookNode{name: name, move: move, children: children})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading openings book")
	}
	if len(nodes) == 0 {
		return nil, errors.New("openings book is empty, expected at least a root line")
	}
	return &FileBook{nodes: nodes}, nil
}

// promoLetters maps a promotion suffix letter to the notnil/chess PieceType
// ordinal the only shipped adapter (internal/rules/notnilchess) stamps onto
// rules.Move.Promo, so a book move compares equal to the moves the adapter
// itself enumerates.
var promoLetters = map[byte]int8{
	'q': 2, // chess.Queen
	'r': 3, // chess.Rook
	'b': 4, // chess.Bishop
	'n': 5, // chess.Knight
}

// parseMove parses a "from_to" notation like "e2e4" or "e7e8q" (with an
// optional single-letter promotion suffix) into a rules.Move.
func parseMove(notation string) (rules.Move, error) {
	if len(notation) != 4 && len(notation) != 5 {
		return rules.Move{}, errors.Errorf("malformed move notation %q", notation)
	}
	from, err := parseSquare(notation[0:2])
	if err != nil {
		return rules.Move{}, err
	}
	to, err := parseSquare(notation[2:4])
	if err != nil {
		return rules.Move{}, err
	}
	var promo int8
	if len(notation) == 5 {
		letter := strings.ToLower(notation)[4]
		code, ok := promoLetters[letter]
		if !ok {
			return rules.Move{}, errors.Errorf("malformed move notation %q: unknown promotion letter %q", notation, letter)
		}
		promo = code
	}
	return rules.Move{From: from, To: to, Promo: promo}, nil
}

func parseSquare(s string) (rules.Square, error) {
	if len(s) != 2 {
		return 0, errors.Errorf("malformed square %q", s)
	}
	file := s[0] - 'a'
	rank := s[1] - '1'
	if file > 7 || rank > 7 {
		return 0, errors.Errorf("malformed square %q", s)
	}
	return rules.Square(int(rank)*8 + int(file)), nil
}

func (b *FileBook) GetOpeningContinuations(pointer int) []rules.Move {
	if pointer < 0 || pointer >= len(b.nodes) {
		return nil
	}
	node := b.nodes[pointer]
	moves := make([]rules.Move, len(node.children))
	for i, childIdx := range node.children {
		moves[i] = b.nodes[childIdx].move
	}
	return moves
}

func (b *FileBook) FindOpeningMove(pointer int, m rules.Move) (int, bool) {
	if pointer < 0 || pointer >= len(b.nodes) {
		return 0, false
	}
	for _, childIdx := range b.nodes[pointer].children {
		if b.nodes[childIdx].move == m {
			return childIdx, true
		}
	}
	return 0, false
}

func (b *FileBook) GetOpeningName(pointer int) string {
	if pointer < 0 || pointer >= len(b.nodes) {
		return ""
	}
	return b.nodes[pointer].name
}

var _ Book = (*FileBook)(nil)
