package matchmaking

import (
	"context"

	"github.com/park285/Cheese-match-client/pkg/matchdto"
)

// State of one search.
type State string

const (
	StateIdle      State = "idle"
	StateSearching State = "searching"
	StateMatched   State = "matched"
	StateCancelled State = "cancelled"
	StateTimedOut  State = "timedOut"
)

// API is the part of the match REST client the poller needs.
type API interface {
	CreateMatch(ctx context.Context, kind matchdto.GameType) (*matchdto.Match, error)
	GetMatch(ctx context.Context, id matchdto.MatchID) (*matchdto.Match, error)
	CancelMatch(ctx context.Context, id matchdto.MatchID) error
}

// PendingStore remembers match shells that are waiting for an opponent so
// a restarted client can withdraw them.
type PendingStore interface {
	SavePending(ctx context.Context, identity string, kind matchdto.GameType, id matchdto.MatchID) error
	ClearPending(ctx context.Context, identity string, kind matchdto.GameType) error
}

// Result is a successful search.
type Result struct {
	MatchID  matchdto.MatchID
	GameType matchdto.GameType
	Seat     matchdto.Color
	Match    *matchdto.Match
}

// Hooks are invoked outside the poller lock. Any of them may be nil.
type Hooks struct {
	OnProgress func(kind matchdto.GameType, attempts, max int)
	OnMatched  func(res Result)
	// OnTimeout is the "no opponent found" signal; it is not an error.
	OnTimeout func(kind matchdto.GameType, pending matchdto.MatchID)
	OnError   func(kind matchdto.GameType, err error)
}

var (
	ErrSearchTimeout    = errf("no opponent found")
	ErrIdentityMismatch = errf("local identity matches neither creator nor opponent")
	ErrNoIdentity       = errf("local identity is empty")
	ErrMatchGone        = errf("match was closed before an opponent joined")
	ErrUnexpectedStatus = errf("unexpected match status")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// SeatFor assigns the local seat by exact identity match: the creator
// plays white and the opponent black.
func SeatFor(m *matchdto.Match, identity string) (matchdto.Color, error) {
	if identity == "" {
		return "", ErrNoIdentity
	}
	if m == nil {
		return "", ErrIdentityMismatch
	}
	switch identity {
	case m.CreatedByEmail:
		return matchdto.White, nil
	case m.OpponentEmail:
		return matchdto.Black, nil
	default:
		return "", ErrIdentityMismatch
	}
}
