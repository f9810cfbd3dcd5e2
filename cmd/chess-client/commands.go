package main

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/Cheese-match-client/internal/adapter/console"
	"github.com/park285/Cheese-match-client/internal/config"
	"github.com/park285/Cheese-match-client/internal/matchapi"
	"github.com/park285/Cheese-match-client/internal/matchmaking"
	"github.com/park285/Cheese-match-client/internal/session"
	"github.com/park285/Cheese-match-client/internal/store"
	"github.com/park285/Cheese-match-client/pkg/matchdto"
)

type app struct {
	cfg      *config.AppConfig
	identity string
	api      *matchapi.Client
	out      *console.Presenter
	prompter *console.Prompter
	resume   *store.Store
	poller   *matchmaking.Poller
	ctrl     *session.Controller
	log      *zap.Logger
}

// parseCommand splits a console line into a lowercase verb and the rest.
func parseCommand(line string) (cmd, rest string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ""
	}
	parts := strings.SplitN(line, " ", 2)
	cmd = strings.ToLower(parts[0])
	if len(parts) == 2 {
		rest = strings.TrimSpace(parts[1])
	}
	return cmd, rest
}

// handle runs one console command. It returns true on quit.
func (a *app) handle(ctx context.Context, line string) bool {
	cmd, rest := parseCommand(line)
	switch cmd {
	case "":
	case "help":
		a.out.Say(a.out.Formatter().Help())
	case "search":
		a.search(ctx, rest)
	case "cancel":
		kind, ok := a.kindArg(rest)
		if ok && a.poller.Cancel(kind) {
			a.out.Key("search.cancelled", map[string]any{"Kind": string(kind)})
		}
	case "join":
		if rest == "" {
			a.out.Key("error.usage", map[string]any{"Usage": "join <matchId>"})
			return false
		}
		a.join(ctx, matchdto.MatchID(rest))
	case "move":
		if rest == "" {
			a.out.Key("error.usage", map[string]any{"Usage": "move <uci>"})
			return false
		}
		a.withSession(func(s *session.Session) error { return s.MoveUCI(ctx, rest) })
	case "resign":
		a.withSession(func(s *session.Session) error { return s.Resign(ctx) })
	case "draw":
		a.withSession(func(s *session.Session) error { return s.OfferDraw(ctx) })
	case "chat":
		a.withSession(func(s *session.Session) error { return s.SendChat(ctx, rest) })
	case "status":
		a.withSession(func(s *session.Session) error {
			a.out.Say(a.out.Formatter().Status(s.View()))
			return nil
		})
	case "moves":
		a.withSession(func(s *session.Session) error {
			a.out.Say(a.out.Formatter().Moves(s.View().Rows))
			return nil
		})
	case "games":
		list, err := a.api.MyMatches(ctx)
		if err != nil {
			a.out.Error(err)
			return false
		}
		a.out.Say(a.out.Formatter().Games(list))
	case "quit", "exit":
		return true
	default:
		a.out.Key("error.unknown_command", nil)
	}
	return false
}

func (a *app) kindArg(s string) (matchdto.GameType, bool) {
	kind, err := matchdto.ParseGameType(s)
	if err != nil {
		a.out.Key("error.usage", map[string]any{"Usage": "search [standard|rapid]"})
		return "", false
	}
	return kind, true
}

// search는 토글: 같은 종류로 다시 입력하면 탐색을 취소한다.
func (a *app) search(ctx context.Context, arg string) {
	kind, ok := a.kindArg(arg)
	if !ok {
		return
	}
	if a.poller.Active(kind) {
		if a.poller.Cancel(kind) {
			a.out.Key("search.cancelled", map[string]any{"Kind": string(kind)})
		}
		return
	}
	a.out.Key("search.started", map[string]any{"Kind": string(kind)})
	started, err := a.poller.Start(ctx, kind)
	switch {
	case err != nil:
		a.out.Key("search.failed", map[string]any{"Error": a.out.Formatter().Error(err)})
	case !started:
		a.out.Key("search.already", map[string]any{"Kind": string(kind)})
	}
}

func (a *app) searchHooks(ctx context.Context) matchmaking.Hooks {
	return matchmaking.Hooks{
		OnProgress: func(kind matchdto.GameType, attempts, max int) {
			if attempts%10 == 0 {
				a.out.Key("search.progress", map[string]any{"Attempts": attempts, "Max": max})
			}
		},
		OnMatched: func(res matchmaking.Result) {
			a.out.Key("search.matched", map[string]any{"MatchID": res.MatchID.String(), "Seat": res.Seat.Side()})
			a.open(ctx, res.Match, res.Seat, res.GameType)
		},
		OnTimeout: func(kind matchdto.GameType, _ matchdto.MatchID) {
			a.out.Key("search.timeout", map[string]any{"Kind": string(kind)})
		},
		OnError: func(_ matchdto.GameType, err error) {
			a.out.Key("search.failed", map[string]any{"Error": a.out.Formatter().Error(err)})
		},
	}
}

func (a *app) join(ctx context.Context, id matchdto.MatchID) {
	m, err := a.api.GetMatch(ctx, id)
	if err != nil {
		a.out.Error(err)
		return
	}
	seat, err := matchmaking.SeatFor(m, a.identity)
	if err != nil {
		a.out.Error(err)
		return
	}
	kind := m.GameType
	if kind == "" {
		kind = matchdto.GameStandard
	}
	a.open(ctx, m, seat, kind)
}

func (a *app) open(ctx context.Context, m *matchdto.Match, seat matchdto.Color, kind matchdto.GameType) {
	cfg := session.Config{
		MatchID:    m.ID,
		Seat:       seat,
		GameType:   kind,
		Identity:   a.identity,
		WhiteEmail: m.CreatedByEmail,
		BlackEmail: m.OpponentEmail,
		Started:    m.Started(),
		ClockSec:   a.cfg.RapidClockSec,
	}
	s, err := a.ctrl.Open(ctx, cfg)
	if err != nil {
		a.out.Error(err)
		return
	}
	if a.resume != nil {
		rec := store.ActiveMatch{MatchID: m.ID, Seat: seat, GameType: kind}
		if err := a.resume.SaveActive(ctx, a.identity, rec); err != nil {
			a.log.Warn("resume_save", zap.Error(err))
		}
	}
	a.out.Key("session.joined", map[string]any{"MatchID": m.ID.String(), "Seat": seat.Side(), "GameType": string(kind)})
	a.out.Say(a.out.Formatter().Turn(s.View()))
}

func (a *app) onFinished(v session.View) {
	if a.resume == nil {
		return
	}
	if err := a.resume.ClearActive(context.Background(), a.identity, v.MatchID); err != nil {
		a.log.Warn("resume_clear", zap.Error(err))
	}
}

func (a *app) withSession(fn func(s *session.Session) error) {
	s := a.ctrl.Current()
	if s == nil {
		a.out.Key("session.no_session", nil)
		return
	}
	if err := fn(s); err != nil {
		a.out.Error(err)
	}
}

// recover withdraws search shells left by an earlier run and rejoins the
// saved match when it is still undecided.
func (a *app) recover(ctx context.Context) {
	if a.resume == nil {
		return
	}
	pending, err := a.resume.Pending(ctx, a.identity)
	if err != nil {
		a.log.Warn("resume_pending", zap.Error(err))
	}
	for kind, id := range pending {
		if err := a.api.CancelMatch(ctx, id); err != nil {
			a.log.Warn("resume_cancel", zap.String("match_id", id.String()), zap.Error(err))
		} else {
			a.out.Key("search.resumed", map[string]any{"MatchID": id.String()})
		}
		_ = a.resume.ClearPending(ctx, a.identity, kind)
	}

	active, err := a.resume.LoadActive(ctx, a.identity)
	if err != nil || active == nil {
		return
	}
	m, err := a.api.GetMatch(ctx, active.MatchID)
	if err != nil || m.Terminal() {
		_ = a.resume.ClearActive(ctx, a.identity, active.MatchID)
		return
	}
	a.open(ctx, m, active.Seat, active.GameType)
}
