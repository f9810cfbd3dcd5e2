package history

import (
	"errors"
	"strings"
	"testing"

	"github.com/park285/Cheese-match-client/pkg/matchdto"
)

func TestBuildMovePawnPush(t *testing.T) {
	md, err := BuildMove(StartFEN, "e2e4")
	if err != nil {
		t.Fatalf("BuildMove: %v", err)
	}
	if md.FromRow != 6 || md.FromCol != 4 || md.ToRow != 4 || md.ToCol != 4 {
		t.Fatalf("coords = %+v", md)
	}
	if md.Piece != "P" || md.MoveNotation != "e4" || md.CapturedPiece != "" {
		t.Fatalf("move data = %+v", md)
	}
	if !strings.HasPrefix(md.FENAfter, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b") {
		t.Fatalf("FENAfter = %q", md.FENAfter)
	}
	side, err := SideToMove(md.FENAfter)
	if err != nil || side != matchdto.Black {
		t.Fatalf("SideToMove = %v %v", side, err)
	}
	if md.IsWhiteTurn == nil || !*md.IsWhiteTurn {
		t.Fatalf("white move isWhiteTurn = %v", md.IsWhiteTurn)
	}

	reply, err := BuildMove(md.FENAfter, "e7e5")
	if err != nil {
		t.Fatalf("BuildMove reply: %v", err)
	}
	if reply.IsWhiteTurn == nil || *reply.IsWhiteTurn {
		t.Fatalf("black move isWhiteTurn = %v", reply.IsWhiteTurn)
	}
}

func TestBuildMoveCaptureAndCastle(t *testing.T) {
	md, err := BuildMove("4k3/8/8/3p4/4P3/8/8/4K3 w - - 0 1", "e4d5")
	if err != nil {
		t.Fatalf("BuildMove capture: %v", err)
	}
	if md.MoveNotation != "exd5" || md.CapturedPiece != "p" {
		t.Fatalf("capture = %+v", md)
	}

	md, err = BuildMove("r3k2r/8/8/8/8/8/8/R3K2R w KQkq - 0 1", "e1g1")
	if err != nil {
		t.Fatalf("BuildMove castle: %v", err)
	}
	if !md.Castled || md.MoveNotation != "O-O" || md.Piece != "K" {
		t.Fatalf("castle = %+v", md)
	}
}

func TestBuildMoveRejectsIllegal(t *testing.T) {
	if _, err := BuildMove(StartFEN, "e2e5"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("err = %v, want ErrIllegalMove", err)
	}
	if _, err := BuildMove("not a fen", "e2e4"); !errors.Is(err, ErrBadFEN) {
		t.Fatalf("err = %v, want ErrBadFEN", err)
	}
}

func TestSquareName(t *testing.T) {
	if s, _ := SquareName(6, 4); s != "e2" {
		t.Fatalf("SquareName(6,4) = %q", s)
	}
	if s, _ := SquareName(0, 0); s != "a8" {
		t.Fatalf("SquareName(0,0) = %q", s)
	}
	if _, err := SquareName(8, 0); err == nil {
		t.Fatalf("out of range accepted")
	}
}
