package matchdto

import "strings"

// HistoryMove is one ply of GET /matches/{id}/moves.
type HistoryMove struct {
	Ply        int    `json:"ply"`
	MoveNumber int    `json:"moveNumber,omitempty"`
	Color      string `json:"color"`
	SAN        string `json:"san"`
	FENBefore  string `json:"fenBefore,omitempty"`
	FENAfter   string `json:"fenAfter"`
	CreatedAt  string `json:"createdAt,omitempty"`
}

// MoveRecord is the optional nested move of a move event.
// Piece letter case encodes the side: uppercase is white.
type MoveRecord struct {
	Piece  string `json:"piece,omitempty"`
	MoveTo string `json:"moveTo,omitempty"`
	SAN    string `json:"san,omitempty"`
	FEN    string `json:"fen,omitempty"`
	TC     string `json:"tc,omitempty"`
	TR     string `json:"tr,omitempty"`
}

// MoveEvent arrives on topic/moves/{id}. Older servers flatten the board
// widget fields onto the event instead of nesting a move record.
type MoveEvent struct {
	IsWhiteTurn *bool       `json:"isWhiteTurn,omitempty"`
	Move        *MoveRecord `json:"move,omitempty"`

	PlayerColor  string  `json:"playerColor,omitempty"`
	MatchID      MatchID `json:"matchId,omitempty"`
	Piece        string  `json:"piece,omitempty"`
	FromRow      *int    `json:"fromRow,omitempty"`
	FromCol      *int    `json:"fromCol,omitempty"`
	ToRow        *int    `json:"toRow,omitempty"`
	ToCol        *int    `json:"toCol,omitempty"`
	FENBefore    string  `json:"fenBefore,omitempty"`
	FENAfter     string  `json:"fenAfter,omitempty"`
	MoveNotation string  `json:"moveNotation,omitempty"`
	Timestamp    string  `json:"timestamp,omitempty"`
}

// Mover returns the side that just moved, if it can be told.
func (e *MoveEvent) Mover() (Color, bool) {
	if e == nil {
		return "", false
	}
	if c, ok := ParseColor(e.PlayerColor); ok {
		return c, true
	}
	piece := e.Piece
	if e.Move != nil && e.Move.Piece != "" {
		piece = e.Move.Piece
	}
	if piece != "" {
		if strings.ToUpper(piece) == piece {
			return White, true
		}
		return Black, true
	}
	if e.IsWhiteTurn != nil {
		if *e.IsWhiteTurn {
			return Black, true
		}
		return White, true
	}
	return "", false
}

// Turn returns the side to move after this event.
func (e *MoveEvent) Turn() (Color, bool) {
	if e == nil {
		return "", false
	}
	if e.IsWhiteTurn != nil {
		if *e.IsWhiteTurn {
			return White, true
		}
		return Black, true
	}
	if m, ok := e.Mover(); ok {
		return m.Opposite(), true
	}
	return "", false
}

// Event types carried by game-state and draw payloads.
const (
	TypeDrawOffer    = "DRAW_OFFER"
	TypeDrawAccepted = "DRAW_ACCEPTED"
	TypeMoveRejected = "MOVE_REJECTED"
	TypePlayerJoined = "PLAYER_JOINED"
)

// GameStateEvent arrives on topic/game-state/{id} and as the join reply on
// topic/game/{id}. Absent result means undecided.
type GameStateEvent struct {
	Type     string   `json:"type,omitempty"`
	MatchID  MatchID  `json:"matchId,omitempty"`
	IsMyTurn *bool    `json:"isMyTurn,omitempty"`
	Status   string   `json:"status,omitempty"`
	Result   string   `json:"result,omitempty"`
	GameType GameType `json:"gameType,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Player   string   `json:"playerColor,omitempty"`
}

// DrawOfferEvent arrives on topic/draw-offers/{id}.
type DrawOfferEvent struct {
	Type        string `json:"type"`
	PlayerColor string `json:"playerColor,omitempty"`
	Result      string `json:"result,omitempty"`
}

// ChatMessage is both the live chat payload and a chat history row.
type ChatMessage struct {
	ID        int64   `json:"id,omitempty"`
	MatchID   MatchID `json:"matchId,omitempty"`
	From      string  `json:"from"`
	Message   string  `json:"message"`
	Timestamp string  `json:"timestamp,omitempty"`
}
