// Package history folds ply-by-ply moves into numbered move-pair rows and
// reconciles a fetched snapshot with live move events.
package history

import (
	"strings"

	"github.com/park285/Cheese-match-client/pkg/matchdto"
)

// Move is one recorded ply.
type Move struct {
	Ply  int
	Side matchdto.Color
	SAN  string
	FEN  string // position after the move
	TC   string
	TR   string
}

// Row is one white move and the black reply in the same slot.
type Row struct {
	No    int
	White string
	Black string
	FEN   string // position after the latest half in the row

	WhiteTC, WhiteTR string
	BlackTC, BlackTR string
}

// Fold builds rows from an ordered move sequence.
func Fold(moves []Move) []Row {
	rows := make([]Row, 0, (len(moves)+1)/2)
	for _, m := range moves {
		rows = foldOne(rows, m)
	}
	return rows
}

// foldOne applies the pairing rule: white opens a row, black closes the
// latest open row, and a black move with no open row opens one with an
// empty white half.
func foldOne(rows []Row, m Move) []Row {
	if m.Side == matchdto.Black {
		if n := len(rows); n > 0 && rows[n-1].Black == "" {
			last := &rows[n-1]
			last.Black = m.SAN
			last.BlackTC, last.BlackTR = m.TC, m.TR
			if m.FEN != "" {
				last.FEN = m.FEN
			}
			return rows
		}
		return append(rows, Row{No: len(rows) + 1, Black: m.SAN, FEN: m.FEN, BlackTC: m.TC, BlackTR: m.TR})
	}
	return append(rows, Row{No: len(rows) + 1, White: m.SAN, FEN: m.FEN, WhiteTC: m.TC, WhiteTR: m.TR})
}

// FromHistory converts a REST history row. Unknown colors yield ok=false.
func FromHistory(h matchdto.HistoryMove) (Move, bool) {
	side, ok := matchdto.ParseColor(h.Color)
	if !ok {
		return Move{}, false
	}
	return Move{
		Ply:  h.Ply,
		Side: side,
		SAN:  strings.TrimSpace(h.SAN),
		FEN:  strings.TrimSpace(h.FENAfter),
	}, true
}

// FromEvent extracts the move carried by a live move event, if any.
// Missing notation is derived from the board coordinates when the
// position before the move is known.
func FromEvent(e *matchdto.MoveEvent) (Move, bool) {
	if e == nil {
		return Move{}, false
	}
	side, ok := e.Mover()
	if !ok {
		return Move{}, false
	}
	m := Move{Side: side}
	if rec := e.Move; rec != nil {
		m.SAN = firstNonEmpty(rec.SAN, rec.MoveTo)
		m.FEN = strings.TrimSpace(rec.FEN)
		m.TC, m.TR = rec.TC, rec.TR
	}
	if m.SAN == "" {
		m.SAN = strings.TrimSpace(e.MoveNotation)
	}
	if m.FEN == "" {
		m.FEN = strings.TrimSpace(e.FENAfter)
	}
	if m.SAN == "" && e.FENBefore != "" && e.FromRow != nil && e.FromCol != nil && e.ToRow != nil && e.ToCol != nil {
		if san, err := SANFromCoords(e.FENBefore, *e.FromRow, *e.FromCol, *e.ToRow, *e.ToCol); err == nil {
			m.SAN = san
		}
	}
	if m.SAN == "" && m.FEN == "" {
		return Move{}, false
	}
	return m, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
