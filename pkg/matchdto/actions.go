package matchdto

// ActionMessage is the common body of resign, draw and draw/accept.
type ActionMessage struct {
	PlayerColor Color   `json:"playerColor"`
	Timestamp   string  `json:"timestamp"`
	MatchID     MatchID `json:"matchId"`
}

// JoinMessage announces a player on app/game/{id}/join.
type JoinMessage struct {
	Type        string  `json:"type"`
	PlayerColor Color   `json:"playerColor"`
	Timestamp   string  `json:"timestamp"`
	MatchID     MatchID `json:"matchId"`
}

// MoveData is what the board widget hands over for one move.
// IsWhiteTurn is true when white made the move; the server flips it for
// the echo on topic/moves/{id}.
type MoveData struct {
	FromRow       int    `json:"fromRow"`
	FromCol       int    `json:"fromCol"`
	ToRow         int    `json:"toRow"`
	ToCol         int    `json:"toCol"`
	Piece         string `json:"piece"`
	CapturedPiece string `json:"capturedPiece,omitempty"`
	Castled       bool   `json:"castled,omitempty"`
	EnPassant     bool   `json:"isEnPassant,omitempty"`
	Promotion     bool   `json:"isPromotion,omitempty"`
	FENBefore     string `json:"fenBefore,omitempty"`
	FENAfter      string `json:"fenAfter,omitempty"`
	MoveNotation  string `json:"moveNotation,omitempty"`
	IsWhiteTurn   *bool  `json:"isWhiteTurn"`
}

// MoveMessage is published on app/game/{id}/move. RemainingSec is a
// display hint from the local clock and never authoritative.
type MoveMessage struct {
	MoveData
	PlayerColor  Color   `json:"playerColor"`
	Timestamp    string  `json:"timestamp"`
	MatchID      MatchID `json:"matchId"`
	RemainingSec *int    `json:"remainingSec,omitempty"`
}

// ChatSend is published on app/game/{id}/chat.
type ChatSend struct {
	From      string  `json:"from"`
	Message   string  `json:"message"`
	Timestamp string  `json:"timestamp"`
	MatchID   MatchID `json:"matchId"`
}
