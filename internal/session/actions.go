package session

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/Cheese-match-client/internal/channel"
	"github.com/park285/Cheese-match-client/internal/history"
	"github.com/park285/Cheese-match-client/pkg/matchdto"
)

// guardLocked checks the local preconditions of an outbound action.
func (s *Session) guardLocked(action string, needTurn bool) error {
	switch {
	case s.closed:
		return reject(action, ErrClosed)
	case s.conn != channel.StateConnected:
		return reject(action, ErrNotConnected)
	case s.phase == PhaseFinished:
		return reject(action, ErrMatchOver)
	case needTurn && (s.phase != PhaseActive || !s.myTurn):
		return reject(action, ErrNotYourTurn)
	}
	return nil
}

// SendMove publishes a move and optimistically hands the turn over. The
// turn comes back only through an inbound event.
func (s *Session) SendMove(ctx context.Context, mv matchdto.MoveData) error {
	s.mu.Lock()
	if err := s.guardLocked("move", true); err != nil {
		s.mu.Unlock()
		return err
	}
	seat := s.cfg.Seat
	s.setTurnLocked(seat.Opposite())
	s.mu.Unlock()

	msg := matchdto.MoveMessage{
		MoveData:    mv,
		PlayerColor: seat,
		Timestamp:   s.stamp(),
		MatchID:     s.cfg.MatchID,
	}
	// the server broadcasts the flipped flag as the next turn
	whiteMoved := seat == matchdto.White
	msg.IsWhiteTurn = &whiteMoved
	if st := s.timer.Snapshot(); st.Timed {
		left := st.Remaining(seat)
		msg.RemainingSec = &left
	}

	if err := s.ch.Publish(ctx, channel.ActionDestination(s.cfg.MatchID, "move"), msg); err != nil {
		// nothing left the client; give the turn back unless an event moved on
		s.mu.Lock()
		if s.phase == PhaseActive && !s.closed && s.turn == seat.Opposite() {
			s.setTurnLocked(seat)
		}
		s.mu.Unlock()
		if errors.Is(err, channel.ErrNotConnected) {
			return reject("move", ErrNotConnected)
		}
		return err
	}
	s.log.Debug("session_move_sent", zap.String("san", mv.MoveNotation))
	s.emitChange()
	return nil
}

// MoveUCI builds move data from the latest known position and sends it.
func (s *Session) MoveUCI(ctx context.Context, uci string) error {
	s.mu.Lock()
	if err := s.guardLocked("move", true); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	fen := s.hist.LatestFEN()
	if fen == "" {
		fen = history.StartFEN
	}
	mv, err := history.BuildMove(fen, strings.TrimSpace(uci))
	if err != nil {
		return err
	}
	return s.SendMove(ctx, mv)
}

// Resign, OfferDraw and AcceptDraw change nothing locally; the outcome
// arrives as an inbound event.
func (s *Session) Resign(ctx context.Context) error { return s.sendAction(ctx, "resign") }

func (s *Session) OfferDraw(ctx context.Context) error { return s.sendAction(ctx, "draw") }

func (s *Session) AcceptDraw(ctx context.Context) error { return s.sendAction(ctx, "draw/accept") }

func (s *Session) sendAction(ctx context.Context, action string) error {
	s.mu.Lock()
	if err := s.guardLocked(action, false); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	msg := matchdto.ActionMessage{
		PlayerColor: s.cfg.Seat,
		Timestamp:   s.stamp(),
		MatchID:     s.cfg.MatchID,
	}
	if err := s.ch.Publish(ctx, channel.ActionDestination(s.cfg.MatchID, action), msg); err != nil {
		if errors.Is(err, channel.ErrNotConnected) {
			return reject(action, ErrNotConnected)
		}
		return err
	}
	s.log.Info("session_action", zap.String("action", action))
	return nil
}

// SendChat is allowed after the match is over.
func (s *Session) SendChat(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return reject("chat", ErrClosed)
	case s.conn != channel.StateConnected:
		s.mu.Unlock()
		return reject("chat", ErrNotConnected)
	}
	s.mu.Unlock()

	from := s.cfg.Identity
	if from == "" {
		from = string(s.cfg.Seat)
	}
	msg := matchdto.ChatSend{From: from, Message: text, Timestamp: s.stamp(), MatchID: s.cfg.MatchID}
	if err := s.ch.Publish(ctx, channel.ActionDestination(s.cfg.MatchID, "chat"), msg); err != nil {
		if errors.Is(err, channel.ErrNotConnected) {
			return reject("chat", ErrNotConnected)
		}
		return err
	}
	return nil
}
