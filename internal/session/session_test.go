package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/park285/Cheese-match-client/internal/archive"
	"github.com/park285/Cheese-match-client/internal/channel"
	"github.com/park285/Cheese-match-client/internal/clock"
	"github.com/park285/Cheese-match-client/pkg/matchdto"
)

const (
	fenAfterE4   = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
	fenAfterE4E5 = "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq e6 0 2"
)

func openSession(t *testing.T, ch *fakeChannel, api API, cfg Config, opts ...Option) *Session {
	t.Helper()
	if cfg.MatchID == "" {
		cfg.MatchID = "42"
	}
	s := New(ch, api, cfg, opts...)
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func whiteMove(san, fen string) matchdto.MoveEvent {
	return matchdto.MoveEvent{
		IsWhiteTurn: boolp(false),
		PlayerColor: "white",
		Move:        &matchdto.MoveRecord{Piece: "P", SAN: san, FEN: fen},
	}
}

func blackMove(san, fen string) matchdto.MoveEvent {
	return matchdto.MoveEvent{
		IsWhiteTurn: boolp(true),
		PlayerColor: "black",
		Move:        &matchdto.MoveRecord{Piece: "p", SAN: san, FEN: fen},
	}
}

func TestMoveEventFlipsTurnIdempotently(t *testing.T) {
	ch := newFakeChannel(channel.StateConnected)
	s := openSession(t, ch, &fakeAPI{}, Config{Seat: matchdto.White, Started: true})

	if v := s.View(); !v.MyTurn || v.Phase != PhaseActive {
		t.Fatalf("initial view: %+v", v)
	}
	ev := whiteMove("e4", fenAfterE4)
	ch.deliver(t, channel.MovesTopic("42"), ev)
	ch.deliver(t, channel.MovesTopic("42"), ev)

	v := s.View()
	if v.MyTurn || v.Turn != matchdto.Black {
		t.Fatalf("after white move: myTurn=%v turn=%s", v.MyTurn, v.Turn)
	}
	if len(v.Rows) != 1 || v.Rows[0].White != "e4" || v.Rows[0].Black != "" {
		t.Fatalf("rows after duplicate delivery: %+v", v.Rows)
	}

	ch.deliver(t, channel.MovesTopic("42"), blackMove("e5", fenAfterE4E5))
	v = s.View()
	if !v.MyTurn || len(v.Rows) != 1 || v.Rows[0].Black != "e5" {
		t.Fatalf("after black reply: %+v", v)
	}
}

// relayMove echoes the last move published on from to every seat the way
// the match server does: the mover's isWhiteTurn comes back flipped.
func relayMove(t *testing.T, from *fakeChannel, mover matchdto.Color, seats ...*fakeChannel) {
	t.Helper()
	body := from.lastSent("app/game/42/move")
	if body == nil {
		t.Fatalf("no move published")
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		t.Fatalf("decode move: %v", err)
	}
	whiteMoved, ok := raw["isWhiteTurn"].(bool)
	if !ok {
		t.Fatalf("published move has no isWhiteTurn: %s", body)
	}
	if whiteMoved != (mover == matchdto.White) {
		t.Fatalf("isWhiteTurn = %v for %s move", whiteMoved, mover)
	}
	raw["isWhiteTurn"] = !whiteMoved
	for _, ch := range seats {
		ch.deliver(t, channel.MovesTopic("42"), raw)
	}
}

func TestTurnPassesBothWaysThroughServerEcho(t *testing.T) {
	wch := newFakeChannel(channel.StateConnected)
	bch := newFakeChannel(channel.StateConnected)
	white := openSession(t, wch, &fakeAPI{}, Config{Seat: matchdto.White, Started: true})
	black := openSession(t, bch, &fakeAPI{}, Config{Seat: matchdto.Black, Started: true})
	ctx := context.Background()

	if err := white.MoveUCI(ctx, "e2e4"); err != nil {
		t.Fatalf("white e4: %v", err)
	}
	relayMove(t, wch, matchdto.White, wch, bch)
	if v := black.View(); !v.MyTurn || v.Turn != matchdto.Black {
		t.Fatalf("black after e4: myTurn=%v turn=%s", v.MyTurn, v.Turn)
	}

	if err := black.MoveUCI(ctx, "e7e5"); err != nil {
		t.Fatalf("black e5: %v", err)
	}
	relayMove(t, bch, matchdto.Black, wch, bch)
	if v := white.View(); !v.MyTurn || v.Turn != matchdto.White {
		t.Fatalf("white after e5: myTurn=%v turn=%s", v.MyTurn, v.Turn)
	}
	if v := black.View(); v.MyTurn {
		t.Fatalf("black still holds the turn")
	}

	if err := white.MoveUCI(ctx, "g1f3"); err != nil {
		t.Fatalf("white Nf3: %v", err)
	}
	if v := white.View(); len(v.Rows) != 1 || v.Rows[0].White != "e4" || v.Rows[0].Black != "e5" {
		t.Fatalf("rows = %+v", v.Rows)
	}
}

func TestMoveForOtherMatchIgnored(t *testing.T) {
	ch := newFakeChannel(channel.StateConnected)
	s := openSession(t, ch, &fakeAPI{}, Config{Seat: matchdto.White, Started: true})

	ev := whiteMove("e4", fenAfterE4)
	ev.MatchID = "99"
	ch.deliver(t, channel.MovesTopic("42"), ev)
	if v := s.View(); !v.MyTurn || len(v.Rows) != 0 {
		t.Fatalf("foreign move applied: %+v", v)
	}
}

func TestMoveAfterFinishIsRejected(t *testing.T) {
	ch := newFakeChannel(channel.StateConnected)
	finished := make(chan View, 1)
	s := openSession(t, ch, &fakeAPI{}, Config{Seat: matchdto.White, Started: true},
		WithHooks(Hooks{OnFinished: func(v View) { finished <- v }}))

	ch.deliver(t, channel.GameStateTopic("42"), matchdto.GameStateEvent{Result: "BLACK wins by resignation", Status: "FINISHED"})
	select {
	case v := <-finished:
		if v.Result != "BLACK wins by resignation" || v.Phase != PhaseFinished {
			t.Fatalf("finished view: %+v", v)
		}
	default:
		t.Fatalf("OnFinished not called")
	}

	err := s.SendMove(context.Background(), matchdto.MoveData{FromRow: 6, FromCol: 4, ToRow: 4, ToCol: 4, Piece: "P"})
	var rej *ActionRejected
	if !errors.As(err, &rej) || !errors.Is(err, ErrMatchOver) {
		t.Fatalf("SendMove after finish = %v", err)
	}
	if err := s.Resign(context.Background()); !errors.Is(err, ErrMatchOver) {
		t.Fatalf("Resign after finish = %v", err)
	}
	if n := ch.sentTo("app/game/42/move"); n != 0 {
		t.Fatalf("move published after finish: %d", n)
	}

	// later events do not reopen the match
	ch.deliver(t, channel.MovesTopic("42"), blackMove("e5", fenAfterE4E5))
	if v := s.View(); v.Phase != PhaseFinished || v.MyTurn {
		t.Fatalf("finished session changed: %+v", v)
	}
}

func TestLocalPreconditions(t *testing.T) {
	ch := newFakeChannel(channel.StateConnected)
	s := openSession(t, ch, &fakeAPI{}, Config{Seat: matchdto.Black, Started: true})
	ctx := context.Background()

	if err := s.SendMove(ctx, matchdto.MoveData{}); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("black moving first = %v", err)
	}
	ch.setState(channel.StateDisconnected)
	if err := s.OfferDraw(ctx); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("draw while disconnected = %v", err)
	}
	if err := s.SendChat(ctx, "hi"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("chat while disconnected = %v", err)
	}
	if n := ch.sentTo("app/game/42/draw"); n != 0 {
		t.Fatalf("draw published: %d", n)
	}
}

func TestSendMoveOptimisticAndRejected(t *testing.T) {
	ch := newFakeChannel(channel.StateConnected)
	s := openSession(t, ch, &fakeAPI{}, Config{Seat: matchdto.White, Started: true})
	ctx := context.Background()

	if err := s.MoveUCI(ctx, "e2e4"); err != nil {
		t.Fatalf("MoveUCI: %v", err)
	}
	if n := ch.sentTo("app/game/42/move"); n != 1 {
		t.Fatalf("move publishes = %d", n)
	}
	if v := s.View(); v.MyTurn {
		t.Fatalf("turn not handed over after send")
	}
	if err := s.MoveUCI(ctx, "d2d4"); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("second move = %v", err)
	}

	ch.deliver(t, channel.GameStateTopic("42"), matchdto.GameStateEvent{Type: matchdto.TypeMoveRejected, Player: "white", Reason: "illegal"})
	if v := s.View(); !v.MyTurn {
		t.Fatalf("rejection did not restore the turn")
	}
}

func TestPublishFailureRestoresTurn(t *testing.T) {
	ch := newFakeChannel(channel.StateConnected)
	s := openSession(t, ch, &fakeAPI{}, Config{Seat: matchdto.White, Started: true})

	ch.mu.Lock()
	ch.publishErr = errors.New("broken pipe")
	ch.mu.Unlock()
	if err := s.MoveUCI(context.Background(), "e2e4"); err == nil {
		t.Fatalf("expected publish error")
	}
	if v := s.View(); !v.MyTurn {
		t.Fatalf("turn lost after failed publish")
	}
}

func TestOwnDrawOfferIsInformational(t *testing.T) {
	ch := newFakeChannel(channel.StateConnected)
	p := &fakePrompter{accept: true, asked: make(chan matchdto.Color, 1)}
	notices := make(chan Notice, 8)
	s := openSession(t, ch, &fakeAPI{}, Config{Seat: matchdto.White, Started: true},
		WithPrompter(p), WithHooks(Hooks{OnNotice: func(n Notice) { notices <- n }}))

	before := s.View()
	ch.deliver(t, channel.DrawOffersTopic("42"), matchdto.DrawOfferEvent{Type: matchdto.TypeDrawOffer, PlayerColor: "white"})

	select {
	case from := <-p.asked:
		t.Fatalf("prompted for own offer from %s", from)
	default:
	}
	found := false
	for len(notices) > 0 {
		if n := <-notices; n.Key == "session.draw_offer_sent" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no draw_offer_sent notice")
	}
	after := s.View()
	if after.Phase != before.Phase || after.MyTurn != before.MyTurn {
		t.Fatalf("own offer changed state: %+v -> %+v", before, after)
	}
	if n := ch.sentTo("app/game/42/draw/accept"); n != 0 {
		t.Fatalf("accept published for own offer")
	}
}

func TestOpponentDrawOfferAccepted(t *testing.T) {
	ch := newFakeChannel(channel.StateConnected)
	p := &fakePrompter{accept: true, asked: make(chan matchdto.Color, 1)}
	s := openSession(t, ch, &fakeAPI{}, Config{Seat: matchdto.White, Started: true}, WithPrompter(p))

	ch.deliver(t, channel.DrawOffersTopic("42"), matchdto.DrawOfferEvent{Type: matchdto.TypeDrawOffer, PlayerColor: "black"})
	select {
	case from := <-p.asked:
		if from != matchdto.Black {
			t.Fatalf("prompt from = %s", from)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("prompter not asked")
	}
	eventually(t, "one draw accept", func() bool { return ch.sentTo("app/game/42/draw/accept") == 1 })

	ch.deliver(t, channel.DrawOffersTopic("42"), matchdto.DrawOfferEvent{Type: matchdto.TypeDrawAccepted})
	v := s.View()
	if v.Phase != PhaseFinished || v.Result != "Draw agreed" {
		t.Fatalf("after DRAW_ACCEPTED: %+v", v)
	}
	if n := ch.sentTo("app/game/42/draw/accept"); n != 1 {
		t.Fatalf("draw accept publishes = %d, want 1", n)
	}
}

func TestOpponentDrawOfferDeclined(t *testing.T) {
	ch := newFakeChannel(channel.StateConnected)
	p := &fakePrompter{accept: false, asked: make(chan matchdto.Color, 1)}
	s := openSession(t, ch, &fakeAPI{}, Config{Seat: matchdto.Black, Started: true}, WithPrompter(p))

	ch.deliver(t, channel.DrawOffersTopic("42"), matchdto.DrawOfferEvent{Type: matchdto.TypeDrawOffer, PlayerColor: "white"})
	<-p.asked
	s.Close()
	if n := ch.sentTo("app/game/42/draw/accept"); n != 0 {
		t.Fatalf("declined offer published accept")
	}
}

func TestJoinAnnouncedOnOpenAndReconnect(t *testing.T) {
	ch := newFakeChannel(channel.StateConnected)
	openSession(t, ch, &fakeAPI{}, Config{Seat: matchdto.Black, Started: true})

	if n := ch.sentTo("app/game/42/join"); n != 1 {
		t.Fatalf("join on open = %d", n)
	}
	ch.setState(channel.StateDisconnected)
	ch.setState(channel.StateConnecting)
	ch.setState(channel.StateConnected)
	if n := ch.sentTo("app/game/42/join"); n != 2 {
		t.Fatalf("join after reconnect = %d, want 2", n)
	}
}

func TestAwaitingOpponentActivatesOnJoin(t *testing.T) {
	ch := newFakeChannel(channel.StateConnected)
	s := openSession(t, ch, &fakeAPI{}, Config{Seat: matchdto.White})

	if v := s.View(); v.Phase != PhaseAwaitingOpponent || v.MyTurn {
		t.Fatalf("initial: %+v", v)
	}
	// own join echo does nothing
	ch.deliver(t, channel.GameTopic("42"), matchdto.GameStateEvent{Type: matchdto.TypePlayerJoined, Player: "white"})
	if v := s.View(); v.Phase != PhaseAwaitingOpponent {
		t.Fatalf("own join activated session")
	}
	ch.deliver(t, channel.GameTopic("42"), matchdto.GameStateEvent{Type: matchdto.TypePlayerJoined, Player: "black"})
	if v := s.View(); v.Phase != PhaseActive || !v.MyTurn {
		t.Fatalf("after opponent join: %+v", v)
	}
}

func TestHistorySeedStartsClock(t *testing.T) {
	ch := newFakeChannel(channel.StateConnected)
	fc := clockwork.NewFakeClock()
	ticks := make(chan clock.State, 4)
	api := &fakeAPI{moves: []matchdto.HistoryMove{
		{Ply: 1, Color: "WHITE", SAN: "e4", FENAfter: fenAfterE4},
		{Ply: 2, Color: "BLACK", SAN: "e5", FENAfter: fenAfterE4E5},
	}}
	s := openSession(t, ch, api, Config{Seat: matchdto.Black, GameType: matchdto.GameRapid, Started: true},
		WithClock(fc), WithHooks(Hooks{OnClock: func(st clock.State) { ticks <- st }}))

	v := s.View()
	if len(v.Rows) != 1 || v.Turn != matchdto.White || v.MyTurn {
		t.Fatalf("seeded view: %+v", v)
	}
	if !v.Clock.Running {
		t.Fatalf("clock not started by catch-up history")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fc.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("clock ticker: %v", err)
	}
	fc.Advance(time.Second)
	select {
	case st := <-ticks:
		if st.White != 599 || st.Black != 600 {
			t.Fatalf("tick charged wrong side: %+v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no tick")
	}
}

func TestClockWaitsForFirstMove(t *testing.T) {
	ch := newFakeChannel(channel.StateConnected)
	s := openSession(t, ch, &fakeAPI{}, Config{Seat: matchdto.White, GameType: matchdto.GameRapid, Started: true},
		WithClock(clockwork.NewFakeClock()))

	if s.View().Clock.Running {
		t.Fatalf("clock running before first move")
	}
	ch.deliver(t, channel.MovesTopic("42"), whiteMove("e4", fenAfterE4))
	if !s.View().Clock.Running {
		t.Fatalf("clock not started by first move")
	}
	ch.deliver(t, channel.GameStateTopic("42"), matchdto.GameStateEvent{Result: "WHITE wins on time"})
	if st := s.View().Clock; st.Running || !st.Stopped {
		t.Fatalf("clock still running after finish: %+v", st)
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	ch := newFakeChannel(channel.StateConnected)
	s := New(ch, &fakeAPI{}, Config{MatchID: "42", Seat: matchdto.White, Started: true})
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if topics, scb, ecb := ch.counts(); topics != 5 || scb != 1 || ecb != 1 {
		t.Fatalf("after open: topics=%d state=%d err=%d", topics, scb, ecb)
	}
	s.Close()
	s.Close()
	if topics, scb, ecb := ch.counts(); topics != 0 || scb != 0 || ecb != 0 {
		t.Fatalf("after close: topics=%d state=%d err=%d", topics, scb, ecb)
	}
	if err := s.SendMove(context.Background(), matchdto.MoveData{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("move after close = %v", err)
	}
}

func TestCloseMidTickStopsClock(t *testing.T) {
	ch := newFakeChannel(channel.StateConnected)
	fc := clockwork.NewFakeClock()
	ticks := make(chan clock.State, 8)
	s := New(ch, &fakeAPI{}, Config{MatchID: "42", Seat: matchdto.White, GameType: matchdto.GameRapid, Started: true},
		WithClock(fc), WithHooks(Hooks{OnClock: func(st clock.State) { ticks <- st }}))
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	ch.deliver(t, channel.MovesTopic("42"), whiteMove("e4", fenAfterE4))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fc.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("clock ticker: %v", err)
	}
	fc.Advance(time.Second)
	select {
	case st := <-ticks:
		if st.Black != 599 {
			t.Fatalf("first tick: %+v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no tick before close")
	}

	s.Close()
	frozen := s.View().Clock
	fc.Advance(5 * time.Second)
	select {
	case st := <-ticks:
		t.Fatalf("tick after close: %+v", st)
	case <-time.After(50 * time.Millisecond):
	}
	if st := s.View().Clock; st.White != frozen.White || st.Black != frozen.Black || st.Running {
		t.Fatalf("clock moved after close: %+v -> %+v", frozen, st)
	}
	if topics, scb, ecb := ch.counts(); topics != 0 || scb != 0 || ecb != 0 {
		t.Fatalf("after close: topics=%d state=%d err=%d", topics, scb, ecb)
	}
}

func TestOpenRefusesUnknownSeat(t *testing.T) {
	ch := newFakeChannel(channel.StateConnected)
	s := New(ch, &fakeAPI{}, Config{MatchID: "42", Started: true})
	defer s.Close()
	if err := s.Open(context.Background()); !errors.Is(err, ErrInvalidSeat) {
		t.Fatalf("Open without seat = %v", err)
	}
	if topics, scb, _ := ch.counts(); topics != 0 || scb != 0 {
		t.Fatalf("unseated session registered: topics=%d state=%d", topics, scb)
	}
	if n := ch.sentTo("app/game/42/join"); n != 0 {
		t.Fatalf("unseated session announced join")
	}
}

func TestFinishedMatchIsArchived(t *testing.T) {
	ch := newFakeChannel(channel.StateConnected)
	arch := &fakeArchiver{saved: make(chan archive.Record, 1)}
	openSession(t, ch, &fakeAPI{}, Config{Seat: matchdto.White, GameType: matchdto.GameRapid, ClockSec: 300, Started: true,
		WhiteEmail: "me@x", BlackEmail: "you@x"},
		WithClock(clockwork.NewFakeClock()), WithArchiver(arch))

	ch.deliver(t, channel.MovesTopic("42"), whiteMove("e4", fenAfterE4))
	ch.deliver(t, channel.GameStateTopic("42"), matchdto.GameStateEvent{Result: "WHITE wins by resignation"})
	select {
	case rec := <-arch.saved:
		if rec.ClockSec != 300 || rec.Result != "WHITE wins by resignation" || len(rec.Moves) != 1 {
			t.Fatalf("archived record: %+v", rec)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("finished match not archived")
	}
}

func TestChatRelay(t *testing.T) {
	ch := newFakeChannel(channel.StateConnected)
	api := &fakeAPI{chat: []matchdto.ChatMessage{{From: "a@x", Message: "gl"}}}
	got := make(chan matchdto.ChatMessage, 1)
	s := openSession(t, ch, api, Config{Seat: matchdto.White, Identity: "me@x", Started: true},
		WithHooks(Hooks{OnChat: func(m matchdto.ChatMessage) { got <- m }}))

	ch.deliver(t, channel.ChatTopic("42"), matchdto.ChatMessage{From: "b@x", Message: "hf"})
	if m := <-got; m.Message != "hf" {
		t.Fatalf("chat hook got %+v", m)
	}
	if msgs := s.Chat(); len(msgs) != 2 {
		t.Fatalf("chat log = %+v", msgs)
	}
	if err := s.SendChat(context.Background(), " gg "); err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	if n := ch.sentTo("app/game/42/chat"); n != 1 {
		t.Fatalf("chat publishes = %d", n)
	}
}

func TestControllerClosesPrevious(t *testing.T) {
	ch := newFakeChannel(channel.StateConnected)
	c := NewController(func(cfg Config) *Session { return New(ch, &fakeAPI{}, cfg) })
	defer c.CloseCurrent()

	first, err := c.Open(context.Background(), Config{MatchID: "1", Seat: matchdto.White, Started: true})
	if err != nil {
		t.Fatalf("Open first: %v", err)
	}
	second, err := c.Open(context.Background(), Config{MatchID: "2", Seat: matchdto.Black, Started: true})
	if err != nil {
		t.Fatalf("Open second: %v", err)
	}
	if c.Current() != second {
		t.Fatalf("current is not the newest session")
	}
	if topics, scb, _ := ch.counts(); topics != 5 || scb != 1 {
		t.Fatalf("previous session not released: topics=%d state=%d", topics, scb)
	}
	if err := first.Resign(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("old session still usable: %v", err)
	}
}
