package history

import (
	"fmt"
	"strings"

	chess "github.com/corentings/chess/v2"

	"github.com/park285/Cheese-match-client/pkg/matchdto"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var (
	ErrBadFEN      = errf("invalid FEN")
	ErrIllegalMove = errf("illegal move")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

func gameFromFEN(fen string) (*chess.Game, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return chess.NewGame(), nil
	}
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFEN, err)
	}
	return chess.NewGame(opt), nil
}

// SideToMove reads the active color of a FEN.
func SideToMove(fen string) (matchdto.Color, error) {
	g, err := gameFromFEN(fen)
	if err != nil {
		return "", err
	}
	if g.Position().Turn() == chess.White {
		return matchdto.White, nil
	}
	return matchdto.Black, nil
}

// SquareName maps board widget coordinates (row 0 is rank 8) to "e4" form.
func SquareName(row, col int) (string, error) {
	if row < 0 || row > 7 || col < 0 || col > 7 {
		return "", fmt.Errorf("square out of range: row=%d col=%d", row, col)
	}
	return string(rune('a'+col)) + string(rune('1'+(7-row))), nil
}

func coordsOf(sq chess.Square) (row, col int) {
	return 7 - int(sq.Rank()), int(sq.File())
}

// SANFromCoords computes the algebraic notation of a widget move.
func SANFromCoords(fenBefore string, fromRow, fromCol, toRow, toCol int) (string, error) {
	from, err := SquareName(fromRow, fromCol)
	if err != nil {
		return "", err
	}
	to, err := SquareName(toRow, toCol)
	if err != nil {
		return "", err
	}
	md, err := BuildMove(fenBefore, from+to)
	if err != nil {
		return "", err
	}
	return md.MoveNotation, nil
}

// BuildMove turns a UCI move ("e2e4", "e7e8q") played from fenBefore into
// the board widget payload: coordinates, pieces, flags and both FENs.
func BuildMove(fenBefore, uci string) (matchdto.MoveData, error) {
	g, err := gameFromFEN(fenBefore)
	if err != nil {
		return matchdto.MoveData{}, err
	}
	pos := g.Position()
	uci = strings.ToLower(strings.TrimSpace(uci))
	mv, err := chess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return matchdto.MoveData{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	san := chess.AlgebraicNotation{}.Encode(pos, mv)
	board := pos.Board()
	mover := board.Piece(mv.S1())
	if mover == chess.NoPiece {
		return matchdto.MoveData{}, fmt.Errorf("%w: no piece on %s", ErrIllegalMove, mv.S1().String())
	}

	captured := board.Piece(mv.S2())
	if mv.HasTag(chess.EnPassant) {
		rank := mv.S2().Rank()
		if pos.Turn() == chess.White {
			rank--
		} else {
			rank++
		}
		captured = board.Piece(chess.NewSquare(mv.S2().File(), rank))
	}

	before := g.FEN()
	whiteMoved := pos.Turn() == chess.White
	if err := g.Move(mv, nil); err != nil {
		return matchdto.MoveData{}, fmt.Errorf("%w: %s: %v", ErrIllegalMove, uci, err)
	}

	fromRow, fromCol := coordsOf(mv.S1())
	toRow, toCol := coordsOf(mv.S2())
	md := matchdto.MoveData{
		FromRow:      fromRow,
		FromCol:      fromCol,
		ToRow:        toRow,
		ToCol:        toCol,
		Piece:        pieceLetter(mover),
		Castled:      mv.HasTag(chess.KingSideCastle) || mv.HasTag(chess.QueenSideCastle),
		EnPassant:    mv.HasTag(chess.EnPassant),
		Promotion:    mv.Promo() != chess.NoPieceType,
		FENBefore:    before,
		FENAfter:     g.FEN(),
		MoveNotation: san,
		IsWhiteTurn:  &whiteMoved,
	}
	if captured != chess.NoPiece {
		md.CapturedPiece = pieceLetter(captured)
	}
	return md, nil
}

// pieceLetter uses FEN letters: uppercase for white.
func pieceLetter(p chess.Piece) string {
	var l string
	switch p.Type() {
	case chess.King:
		l = "k"
	case chess.Queen:
		l = "q"
	case chess.Rook:
		l = "r"
	case chess.Bishop:
		l = "b"
	case chess.Knight:
		l = "n"
	case chess.Pawn:
		l = "p"
	default:
		return ""
	}
	if p.Color() == chess.White {
		return strings.ToUpper(l)
	}
	return l
}
