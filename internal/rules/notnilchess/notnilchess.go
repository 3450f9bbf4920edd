// Package notnilchess implements internal/rules.GameController and
// internal/rules.Board on top of github.com/notnil/chess, a vetted
// legal-move generator. It owns only the things the rules-engine contract asks
// for beyond move generation: the apply/revert stack, position hashing for
// repetition, the half-move clock, and a set of insufficient-material and
// draw-classification thresholds that are independent of whatever the
// underlying chess library considers a "draw".
package notnilchess

import (
	"github.com/notnil/chess"
	"github.com/pkg/errors"

	"github.com/patzer/decisiontree/internal/rules"
)

// boardSnapshot adapts a *chess.Board into rules.Board.
type boardSnapshot struct {
	cb *chess.Board
}

const numChannels = 12

var pieceTypeOrder = [...]chess.PieceType{
	chess.King, chess.Queen, chess.Rook, chess.Bishop, chess.Knight, chess.Pawn,
}

func pieceChannel(p chess.Piece) int {
	if p.Type() == chess.NoPieceType {
		return -1
	}
	base := 0
	if p.Color() == chess.Black {
		base = 6
	}
	for i, pt := range pieceTypeOrder {
		if pt == p.Type() {
			return base + i
		}
	}
	return -1
}

// ToArray implements rules.Board. The layout is (channel, rank, file),
// flattened row-major; it has no contractual bit-for-bit meaning beyond being a
// deterministic function of piece placement.
func (b *boardSnapshot) ToArray() []float32 {
	out := make([]float32, numChannels*8*8)
	for sq := chess.A1; sq <= chess.H8; sq++ {
		piece := b.cb.Piece(sq)
		channel := pieceChannel(piece)
		if channel < 0 {
			continue
		}
		rank := int(sq) / 8
		file := int(sq) % 8
		out[(channel*8+rank)*8+file] = 1
	}
	return out
}

func (b *boardSnapshot) Channels() int { return numChannels }

// Option configures a Controller at construction time.
type Option func(*Controller)

// WithOpeningsBook attaches an openings book the controller consults on every
// ApplyMove to advance (or drop) its book pointer.
func WithOpeningsBook(book rules.OpeningsBook) Option {
	return func(c *Controller) { c.book = book }
}

// Controller implements rules.GameController. Revert is modeled as decrementing
// a history pointer rather than undoing moves in place, the same inverse-stack
// idiom used for state replay elsewhere in the pack: apply clones the current
// game, plays the move on the clone, and either appends it (fresh ground) or
// overwrites the slot ahead of the pointer (re-treading after a revert).
type Controller struct {
	history         []*chess.Game
	hashes          [][16]byte
	halfMoveClocks  []int
	histPtr         int
	book            rules.OpeningsBook
	bookPtr         int
	bookOK          bool
}

// NewController starts a controller at the standard initial position.
func NewController(opts ...Option) *Controller {
	g := chess.NewGame(chess.UseNotation(chess.UCINotation{}))
	c := &Controller{
		history:        []*chess.Game{g},
		hashes:         [][16]byte{g.Position().Hash()},
		halfMoveClocks: []int{0},
		histPtr:        0,
		bookOK:         true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) game() *chess.Game { return c.history[c.histPtr] }

func (c *Controller) Board() rules.Board {
	return &boardSnapshot{cb: c.game().Position().Board()}
}

func (c *Controller) SideToMove() rules.Side {
	if c.game().Position().Turn() == chess.White {
		return rules.White
	}
	return rules.Black
}

func (c *Controller) PossibleMoves() []rules.Move {
	valid := c.game().ValidMoves()
	out := make([]rules.Move, len(valid))
	for i, m := range valid {
		out[i] = rules.Move{
			From:  rules.Square(m.S1()),
			To:    rules.Square(m.S2()),
			Promo: int8(m.Promo()),
		}
	}
	return out
}

// findMove resolves a rules.Move back into the library's *chess.Move among the
// current position's valid moves (rules.Move itself carries only coordinates).
func (c *Controller) findMove(m rules.Move) (*chess.Move, error) {
	for _, candidate := range c.game().ValidMoves() {
		if chess.Square(m.From) == candidate.S1() &&
			chess.Square(m.To) == candidate.S2() &&
			chess.PieceType(m.Promo) == candidate.Promo() {
			return candidate, nil
		}
	}
	return nil, errors.Errorf("move %s is not legal in the current position", m)
}

func (c *Controller) ApplyMove(m rules.Move) error {
	libMove, err := c.findMove(m)
	if err != nil {
		return err
	}
	board := c.game().Position().Board()
	movingPiece := board.Piece(libMove.S1())
	irreversible := movingPiece.Type() == chess.Pawn || board.Piece(libMove.S2()) != chess.NoPiece

	next := c.game().Clone()
	if err := next.Move(libMove); err != nil {
		return errors.Wrapf(err, "applying move %s", m)
	}

	nextClock := c.halfMoveClocks[c.histPtr] + 1
	if irreversible {
		nextClock = 0
	}

	c.histPtr++
	if c.histPtr == len(c.history) {
		c.history = append(c.history, next)
		c.hashes = append(c.hashes, next.Position().Hash())
		c.halfMoveClocks = append(c.halfMoveClocks, nextClock)
	} else {
		c.history[c.histPtr] = next
		c.hashes[c.histPtr] = next.Position().Hash()
		c.halfMoveClocks[c.histPtr] = nextClock
	}

	if c.book != nil && c.bookOK {
		if next, ok := c.book.FindOpeningMove(c.bookPtr, m); ok {
			c.bookPtr = next
		} else {
			c.bookOK = false
		}
	}
	return nil
}

func (c *Controller) Revert() {
	if c.histPtr == 0 {
		return
	}
	c.histPtr--
	// The opening pointer is recomputed by replaying the now-current line's
	// moves through the book from its root.
	if c.book == nil {
		return
	}
	c.bookPtr, c.bookOK = 0, true
	for _, lm := range c.game().Moves() {
		m := rules.Move{From: rules.Square(lm.S1()), To: rules.Square(lm.S2()), Promo: int8(lm.Promo())}
		next, ok := c.book.FindOpeningMove(c.bookPtr, m)
		if !ok {
			c.bookOK = false
			return
		}
		c.bookPtr = next
	}
}

func (c *Controller) GetGameResult(legalMoves []rules.Move) rules.GameResult {
	if c.Depth() > 400 {
		return rules.DrawResult(rules.Aborted)
	}
	if c.PositionOccurrences() >= 3 {
		return rules.DrawResult(rules.Repetition)
	}
	if c.HalfMoveClock() >= 100 {
		return rules.DrawResult(rules.FiftyMoveRule)
	}
	if c.isInsufficientMaterial() {
		return rules.DrawResult(rules.InsufficientMaterial)
	}
	if len(legalMoves) == 0 {
		if c.game().Method() == chess.Checkmate {
			winner := rules.Black
			if c.SideToMove() == rules.Black {
				winner = rules.White
			}
			return rules.WinResult(winner, rules.Checkmate)
		}
		return rules.DrawResult(rules.Stalemate)
	}
	return rules.UndefinedResult()
}

func (c *Controller) HalfMoveClock() int { return c.halfMoveClocks[c.histPtr] }

func (c *Controller) PositionOccurrences() int {
	current := c.hashes[c.histPtr]
	count := 0
	for i := 0; i <= c.histPtr; i++ {
		if c.hashes[i] == current {
			count++
		}
	}
	return count
}

func (c *Controller) Depth() int { return c.histPtr }

func (c *Controller) OpeningPointer() (int, bool) {
	if !c.bookOK || c.book == nil {
		return 0, false
	}
	return c.bookPtr, true
}

// isInsufficientMaterial classifies a position as drawn by insufficient
// material: both sides must pass independently. Neither side may have a pawn,
// queen or rook; a side lacking a bishop must have fewer than three knights, a
// side lacking a knight must have fewer than two bishops, and otherwise (both
// present) the combined minor-piece count must be under two.
func (c *Controller) isInsufficientMaterial() bool {
	var whiteBishops, whiteKnights, blackBishops, blackKnights int
	board := c.game().Position().Board()
	for sq := chess.A1; sq <= chess.H8; sq++ {
		piece := board.Piece(sq)
		switch piece.Type() {
		case chess.Pawn, chess.Queen, chess.Rook:
			return false
		case chess.Bishop:
			if piece.Color() == chess.White {
				whiteBishops++
			} else {
				blackBishops++
			}
		case chess.Knight:
			if piece.Color() == chess.White {
				whiteKnights++
			} else {
				blackKnights++
			}
		}
	}
	return sidePasses(whiteBishops, whiteKnights) && sidePasses(blackBishops, blackKnights)
}

func sidePasses(bishops, knights int) bool {
	if bishops == 0 {
		return knights < 3
	}
	if knights == 0 {
		return bishops < 2
	}
	return bishops+knights < 2
}

var _ rules.GameController = (*Controller)(nil)
var _ rules.Board = (*boardSnapshot)(nil)
