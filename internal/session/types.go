package session

import (
	"context"
	"fmt"

	"github.com/park285/Cheese-match-client/internal/archive"
	"github.com/park285/Cheese-match-client/internal/channel"
	"github.com/park285/Cheese-match-client/internal/clock"
	"github.com/park285/Cheese-match-client/internal/history"
	"github.com/park285/Cheese-match-client/pkg/matchdto"
)

type Phase string

const (
	PhaseAwaitingOpponent Phase = "awaitingOpponent"
	PhaseActive           Phase = "active"
	PhaseFinished         Phase = "finished"
)

const defaultDrawResult = "Draw agreed"

var (
	ErrNotConnected = errf("not connected")
	ErrMatchOver    = errf("match is over")
	ErrNotYourTurn  = errf("not your turn")
	ErrClosed       = errf("session closed")
	ErrNoMatch      = errf("no match id")
	ErrInvalidSeat  = errf("seat must be white or black")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// ActionRejected is returned synchronously when an outbound action fails a
// local precondition. Nothing is published.
type ActionRejected struct {
	Action string
	Err    error
}

func (e *ActionRejected) Error() string {
	return fmt.Sprintf("%s rejected: %v", e.Action, e.Err)
}

func (e *ActionRejected) Unwrap() error { return e.Err }

func reject(action string, err error) error {
	return &ActionRejected{Action: action, Err: err}
}

// Config describes the match a session is bound to.
type Config struct {
	MatchID    matchdto.MatchID
	Seat       matchdto.Color
	GameType   matchdto.GameType
	Identity   string
	WhiteEmail string
	BlackEmail string
	// Started marks a match whose second seat is already filled.
	Started  bool
	ClockSec int
}

// API is the part of the match REST client a session needs.
type API interface {
	Moves(ctx context.Context, id matchdto.MatchID) ([]matchdto.HistoryMove, error)
	ChatHistory(ctx context.Context, id matchdto.MatchID) ([]matchdto.ChatMessage, error)
}

// Prompter asks the local player to decide on an opponent's draw offer.
// ConfirmDraw must return once ctx is done.
type Prompter interface {
	ConfirmDraw(ctx context.Context, from matchdto.Color) bool
}

type Archiver interface {
	SaveResult(ctx context.Context, rec archive.Record) error
}

// Notice is an informational line keyed by message catalog key.
type Notice struct {
	Key  string
	Data map[string]any
}

// Hooks run outside the session lock. Any of them may be nil.
type Hooks struct {
	OnChange   func(v View)
	OnMove     func(m history.Move)
	OnFinished func(v View)
	OnNotice   func(n Notice)
	OnChat     func(msg matchdto.ChatMessage)
	OnClock    func(st clock.State)
}

// View is a point-in-time copy of session state for rendering.
type View struct {
	MatchID  matchdto.MatchID
	Seat     matchdto.Color
	GameType matchdto.GameType
	Phase    Phase
	MyTurn   bool
	Turn     matchdto.Color
	Result   string
	Reason   string
	Conn     channel.State
	Clock    clock.State
	Rows     []history.Row
	FEN      string
}
