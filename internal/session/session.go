package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/park285/Cheese-match-client/internal/archive"
	"github.com/park285/Cheese-match-client/internal/channel"
	"github.com/park285/Cheese-match-client/internal/clock"
	"github.com/park285/Cheese-match-client/internal/history"
	"github.com/park285/Cheese-match-client/internal/obslog"
	"github.com/park285/Cheese-match-client/pkg/matchdto"
)

const (
	fetchTimeout   = 10 * time.Second
	archiveTimeout = 5 * time.Second
	chatKeep       = 200
)

// Session is the live state of one match from the local seat. Inbound
// events, clock ticks and actions are serialized by mu; hooks and the
// prompter are called after it is released.
type Session struct {
	cfg      Config
	ch       channel.Channel
	api      API
	prompter Prompter
	archiver Archiver
	hooks    Hooks
	clk      clockwork.Clock
	log      *zap.Logger
	traceID  string

	hist  *history.Reconciler
	timer *clock.Simulator

	mu        sync.Mutex
	phase     Phase
	myTurn    bool
	turn      matchdto.Color
	result    string
	reason    string
	conn      channel.State
	opened    bool
	closed    bool
	prompting bool
	subs      []channel.Subscription
	stateCB   int
	errCB     int
	startedAt time.Time
	endedAt   time.Time
	chat      []matchdto.ChatMessage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Session)

func WithPrompter(p Prompter) Option { return func(s *Session) { s.prompter = p } }

func WithArchiver(a Archiver) Option { return func(s *Session) { s.archiver = a } }

func WithHooks(h Hooks) Option { return func(s *Session) { s.hooks = h } }

func WithClock(c clockwork.Clock) Option {
	return func(s *Session) {
		if c != nil {
			s.clk = c
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

func New(ch channel.Channel, api API, cfg Config, opts ...Option) *Session {
	if cfg.GameType == "" {
		cfg.GameType = matchdto.GameStandard
	}
	if cfg.ClockSec <= 0 {
		cfg.ClockSec = 600
	}
	s := &Session{
		cfg:     cfg,
		ch:      ch,
		api:     api,
		clk:     clockwork.NewRealClock(),
		log:     obslog.L(),
		traceID: uuid.NewString(),
		hist:    history.NewReconciler(),
		phase:   PhaseAwaitingOpponent,
		turn:    matchdto.White,
		conn:    channel.StateDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.Started {
		s.phase = PhaseActive
	}
	s.myTurn = s.phase == PhaseActive && s.turn == cfg.Seat
	s.log = s.log.With(zap.String("match_id", cfg.MatchID.String()), zap.String("session", s.traceID))
	s.timer = clock.New(cfg.GameType, cfg.ClockSec, s.sideToMove,
		clock.WithClock(s.clk),
		clock.WithOnTick(func(st clock.State) {
			if s.hooks.OnClock != nil {
				s.hooks.OnClock(st)
			}
		}),
	)
	return s
}

func (s *Session) MatchID() matchdto.MatchID { return s.cfg.MatchID }

func (s *Session) Seat() matchdto.Color { return s.cfg.Seat }

func (s *Session) Config() Config { return s.cfg }

// Open subscribes to the match topics, announces the local player and
// seeds move history from the server. A seat other than white or black is
// refused with ErrInvalidSeat. A failed history fetch is logged and
// the session continues on live events.
func (s *Session) Open(ctx context.Context) error {
	if s.cfg.MatchID.IsZero() {
		return ErrNoMatch
	}
	if !s.cfg.Seat.Valid() {
		return ErrInvalidSeat
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.opened {
		s.mu.Unlock()
		return nil
	}
	s.opened = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.conn = s.ch.State()
	s.mu.Unlock()

	stateCB := s.ch.OnStateChange(s.onConnState)
	errCB := s.ch.OnError(s.onChannelError)
	s.mu.Lock()
	s.stateCB, s.errCB = stateCB, errCB
	s.mu.Unlock()

	if err := s.subscribeAll(); err != nil {
		s.Close()
		return err
	}

	s.mu.Lock()
	connected := s.conn == channel.StateConnected
	s.mu.Unlock()
	if connected {
		s.announce(ctx)
	}

	s.seed(ctx)
	s.loadChat(ctx)

	s.log.Info("session_open", zap.String("seat", string(s.cfg.Seat)), zap.String("game_type", string(s.cfg.GameType)))
	s.emitChange()
	return nil
}

func (s *Session) subscribeAll() error {
	id := s.cfg.MatchID
	var subs []channel.Subscription
	add := func(sub channel.Subscription, err error) error {
		if err != nil {
			return err
		}
		subs = append(subs, sub)
		return nil
	}
	steps := []func() error{
		func() error { return add(channel.SubscribeJSON(s.ch, channel.MovesTopic(id), s.onMove)) },
		func() error { return add(channel.SubscribeJSON(s.ch, channel.GameStateTopic(id), s.onGameState)) },
		func() error { return add(channel.SubscribeJSON(s.ch, channel.GameTopic(id), s.onGameState)) },
		func() error { return add(channel.SubscribeJSON(s.ch, channel.DrawOffersTopic(id), s.onDrawOffer)) },
		func() error { return add(channel.SubscribeJSON(s.ch, channel.ChatTopic(id), s.onChat)) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			for _, sub := range subs {
				sub.Unsubscribe()
			}
			return err
		}
	}
	s.mu.Lock()
	s.subs = subs
	s.mu.Unlock()
	return nil
}

func (s *Session) seed(ctx context.Context) {
	var snapshot []history.Move
	if s.api != nil {
		fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
		rows, err := s.api.Moves(fctx, s.cfg.MatchID)
		cancel()
		if err != nil {
			s.log.Warn("session_history_fetch", zap.Error(err))
		}
		for _, h := range rows {
			if m, ok := history.FromHistory(h); ok {
				snapshot = append(snapshot, m)
			}
		}
	}
	s.hist.Seed(snapshot)
	if !s.hist.HasMoves() {
		return
	}

	s.mu.Lock()
	if s.closed || s.phase == PhaseFinished {
		s.mu.Unlock()
		return
	}
	if side, ok := s.hist.SideToMove(); ok {
		s.setTurnLocked(side)
	}
	if s.phase == PhaseAwaitingOpponent {
		s.activateLocked()
	}
	s.mu.Unlock()
	// 기존 기보가 있으면 이미 진행 중인 대국: 시계를 바로 시작
	s.timer.Start()
}

func (s *Session) loadChat(ctx context.Context) {
	if s.api == nil {
		return
	}
	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	msgs, err := s.api.ChatHistory(fctx, s.cfg.MatchID)
	if err != nil {
		s.log.Debug("session_chat_fetch", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.chat = append(s.chat, msgs...)
	s.trimChatLocked()
	s.mu.Unlock()
}

// Close releases subscriptions, callbacks and the clock. Safe to call more
// than once; events delivered afterwards are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	stateCB, errCB, opened := s.stateCB, s.errCB, s.opened
	cancel := s.cancel
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if opened {
		s.ch.RemoveStateCallback(stateCB)
		s.ch.RemoveErrorCallback(errCB)
	}
	s.timer.Stop()
	s.timer.Wait()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.log.Info("session_close")
}

// View returns a copy of the current state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	return View{
		MatchID:  s.cfg.MatchID,
		Seat:     s.cfg.Seat,
		GameType: s.cfg.GameType,
		Phase:    s.phase,
		MyTurn:   s.myTurn,
		Turn:     s.turn,
		Result:   s.result,
		Reason:   s.reason,
		Conn:     s.conn,
		Clock:    s.timer.Snapshot(),
		Rows:     s.hist.Rows(),
		FEN:      s.hist.LatestFEN(),
	}
}

func (s *Session) Chat() []matchdto.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]matchdto.ChatMessage, len(s.chat))
	copy(out, s.chat)
	return out
}

func (s *Session) Moves() []history.Move { return s.hist.Moves() }

// sideToMove feeds the clock simulator.
func (s *Session) sideToMove() matchdto.Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn
}

func (s *Session) setTurnLocked(side matchdto.Color) {
	s.turn = side
	s.myTurn = s.phase != PhaseFinished && side == s.cfg.Seat
}

func (s *Session) activateLocked() {
	s.phase = PhaseActive
	s.myTurn = s.turn == s.cfg.Seat
	if s.startedAt.IsZero() {
		s.startedAt = s.clk.Now()
	}
}

// finishLocked freezes the session. It reports false when already finished.
func (s *Session) finishLocked(result, reason string) bool {
	if s.phase == PhaseFinished {
		return false
	}
	s.phase = PhaseFinished
	s.myTurn = false
	s.result = result
	s.reason = reason
	s.endedAt = s.clk.Now()
	s.timer.Stop()
	return true
}

func (s *Session) ownsMatch(id matchdto.MatchID) bool {
	return id.IsZero() || id == s.cfg.MatchID
}

func (s *Session) onMove(e matchdto.MoveEvent) {
	s.mu.Lock()
	if s.closed || s.phase == PhaseFinished || !s.ownsMatch(e.MatchID) {
		s.mu.Unlock()
		return
	}
	wasMine := s.myTurn
	if s.phase == PhaseAwaitingOpponent {
		s.activateLocked()
	}
	if side, ok := e.Turn(); ok {
		s.setTurnLocked(side)
	}
	nowMine := s.myTurn
	s.mu.Unlock()

	m, ok := history.FromEvent(&e)
	appended := ok && s.hist.Append(m)
	s.timer.Start()

	if appended && s.hooks.OnMove != nil {
		s.hooks.OnMove(m)
	}
	if nowMine && !wasMine {
		s.notice("session.your_turn", nil)
	}
	s.emitChange()
}

func (s *Session) onGameState(e matchdto.GameStateEvent) {
	s.mu.Lock()
	if s.closed || s.phase == PhaseFinished || !s.ownsMatch(e.MatchID) {
		s.mu.Unlock()
		return
	}

	switch strings.ToUpper(strings.TrimSpace(e.Type)) {
	case matchdto.TypeMoveRejected:
		if who, ok := matchdto.ParseColor(e.Player); ok && who != s.cfg.Seat {
			s.mu.Unlock()
			return
		}
		if s.phase == PhaseActive {
			s.setTurnLocked(s.cfg.Seat)
		}
		s.mu.Unlock()
		s.notice("session.move_rejected", map[string]any{"Reason": firstNonEmpty(e.Reason, e.Result, "illegal move")})
		s.emitChange()
		return

	case matchdto.TypePlayerJoined:
		who, ok := matchdto.ParseColor(e.Player)
		if !ok || who == s.cfg.Seat {
			s.mu.Unlock()
			return
		}
		activated := false
		if s.phase == PhaseAwaitingOpponent {
			s.activateLocked()
			activated = true
		}
		s.mu.Unlock()
		if activated {
			s.notice("session.opponent_joined", map[string]any{"Seat": string(who)})
			s.emitChange()
		}
		return
	}

	if e.IsMyTurn != nil {
		if *e.IsMyTurn {
			s.setTurnLocked(s.cfg.Seat)
		} else {
			s.setTurnLocked(s.cfg.Seat.Opposite())
		}
	}
	if s.phase == PhaseAwaitingOpponent && strings.EqualFold(e.Status, string(matchdto.StatusInProgress)) {
		s.activateLocked()
	}
	finished := false
	if r := strings.TrimSpace(e.Result); r != "" {
		finished = s.finishLocked(r, e.Reason)
	}
	s.mu.Unlock()

	if finished {
		s.onFinished()
		return
	}
	s.emitChange()
}

func (s *Session) onDrawOffer(e matchdto.DrawOfferEvent) {
	s.mu.Lock()
	if s.closed || s.phase == PhaseFinished {
		s.mu.Unlock()
		return
	}

	if strings.EqualFold(e.Type, matchdto.TypeDrawAccepted) {
		finished := s.finishLocked(firstNonEmpty(e.Result, defaultDrawResult), "DRAW")
		s.mu.Unlock()
		if finished {
			s.onFinished()
		}
		return
	}

	from, ok := matchdto.ParseColor(e.PlayerColor)
	if ok && from == s.cfg.Seat {
		s.mu.Unlock()
		s.notice("session.draw_offer_sent", nil)
		return
	}
	if !ok {
		from = s.cfg.Seat.Opposite()
	}
	if s.prompting || s.prompter == nil {
		s.mu.Unlock()
		return
	}
	s.prompting = true
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		accept := s.prompter.ConfirmDraw(ctx, from)

		s.mu.Lock()
		s.prompting = false
		s.mu.Unlock()

		if !accept {
			s.notice("session.draw_declined", nil)
			return
		}
		if err := s.AcceptDraw(ctx); err != nil {
			s.log.Info("session_draw_accept", zap.Error(err))
		}
	}()
}

func (s *Session) onChat(msg matchdto.ChatMessage) {
	s.mu.Lock()
	if s.closed || !s.ownsMatch(msg.MatchID) {
		s.mu.Unlock()
		return
	}
	s.chat = append(s.chat, msg)
	s.trimChatLocked()
	s.mu.Unlock()

	if s.hooks.OnChat != nil {
		s.hooks.OnChat(msg)
	}
}

func (s *Session) trimChatLocked() {
	if n := len(s.chat); n > chatKeep {
		s.chat = append([]matchdto.ChatMessage(nil), s.chat[n-chatKeep:]...)
	}
}

// onConnState re-announces the local player after every (re)connect.
// 재접속 시 서버가 좌석을 다시 알 수 있도록 join을 재전송.
func (s *Session) onConnState(st channel.State) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.conn
	s.conn = st
	ctx := s.ctx
	s.mu.Unlock()

	if st == channel.StateConnected && prev != channel.StateConnected {
		s.announce(ctx)
	}
	s.notice("channel.state", map[string]any{"State": string(st)})
	s.emitChange()
}

func (s *Session) onChannelError(err error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.log.Debug("session_channel_error", zap.Error(err))
}

func (s *Session) announce(ctx context.Context) {
	msg := matchdto.JoinMessage{
		Type:        matchdto.TypePlayerJoined,
		PlayerColor: s.cfg.Seat,
		Timestamp:   s.stamp(),
		MatchID:     s.cfg.MatchID,
	}
	if err := s.ch.Publish(ctx, channel.ActionDestination(s.cfg.MatchID, "join"), msg); err != nil {
		s.log.Warn("session_join_announce", zap.Error(err))
	}
}

func (s *Session) onFinished() {
	v := s.View()
	s.log.Info("session_finished", zap.String("result", v.Result), zap.String("reason", v.Reason))
	s.notice("session.game_over", map[string]any{"Result": v.Result})
	if s.hooks.OnFinished != nil {
		s.hooks.OnFinished(v)
	}
	s.emitChange()
	s.archive(v)
}

func (s *Session) archive(v View) {
	if s.archiver == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	rec := archive.Record{
		MatchID:    s.cfg.MatchID,
		GameType:   s.cfg.GameType,
		WhiteEmail: s.cfg.WhiteEmail,
		BlackEmail: s.cfg.BlackEmail,
		Seat:       s.cfg.Seat,
		Result:     v.Result,
		Reason:     v.Reason,
		FinalFEN:   v.FEN,
		ClockSec:   s.cfg.ClockSec,
		StartedAt:  s.startedAt,
		EndedAt:    s.endedAt,
	}
	s.wg.Add(1)
	s.mu.Unlock()
	rec.Moves = s.hist.Moves()

	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := s.archiver.SaveResult(ctx, rec); err != nil {
			s.log.Warn("session_archive", zap.Error(err))
		}
	}()
}

func (s *Session) notice(key string, data map[string]any) {
	if s.hooks.OnNotice != nil {
		s.hooks.OnNotice(Notice{Key: key, Data: data})
	}
}

func (s *Session) emitChange() {
	if s.hooks.OnChange == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	v := s.viewLocked()
	s.mu.Unlock()
	s.hooks.OnChange(v)
}

func (s *Session) stamp() string {
	return s.clk.Now().UTC().Format(time.RFC3339Nano)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	}
	return ""
}
