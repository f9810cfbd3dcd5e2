package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/park285/Cheese-match-client/internal/matchapi"
	"github.com/park285/Cheese-match-client/internal/obslog"
	"github.com/park285/Cheese-match-client/pkg/matchdto"
)

const cancelTimeout = 5 * time.Second

// search is one SearchSession. Its timers are owned here and released by
// finishLocked exactly once.
type search struct {
	kind     matchdto.GameType
	state    State
	attempts int
	pending  matchdto.MatchID
	deadline time.Time

	ticker clockwork.Ticker
	timer  clockwork.Timer
	stop   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// Poller runs at most one search per game type.
type Poller struct {
	api      API
	identity string
	clock    clockwork.Clock
	interval time.Duration
	max      int
	hooks    Hooks
	store    PendingStore
	log      *zap.Logger

	mu       sync.Mutex
	searches map[matchdto.GameType]*search
	wg       sync.WaitGroup

	// storeMu: pending 저장/삭제 순서 보장. mu보다 먼저 잡고, mu 안에서는 잡지 않는다
	storeMu sync.Mutex
}

type Option func(*Poller)

func WithClock(c clockwork.Clock) Option {
	return func(p *Poller) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithSchedule sets the poll interval and the attempt budget.
func WithSchedule(interval time.Duration, maxAttempts int) Option {
	return func(p *Poller) {
		if interval > 0 {
			p.interval = interval
		}
		if maxAttempts > 0 {
			p.max = maxAttempts
		}
	}
}

func WithHooks(h Hooks) Option {
	return func(p *Poller) { p.hooks = h }
}

func WithPendingStore(s PendingStore) Option {
	return func(p *Poller) { p.store = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.log = l
		}
	}
}

func NewPoller(api API, identity string, opts ...Option) *Poller {
	p := &Poller{
		api:      api,
		identity: identity,
		clock:    clockwork.NewRealClock(),
		interval: time.Second,
		max:      90,
		log:      obslog.L(),
		searches: make(map[matchdto.GameType]*search),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State reports the state of the latest search of kind.
func (p *Poller) State(kind matchdto.GameType) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.searches[kind]; ok {
		return s.state
	}
	return StateIdle
}

func (p *Poller) Attempts(kind matchdto.GameType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.searches[kind]; ok {
		return s.attempts
	}
	return 0
}

// Active reports whether a search of kind is running.
func (p *Poller) Active(kind matchdto.GameType) bool {
	return p.State(kind) == StateSearching
}

// Start creates (or joins) a match of kind. started is false when a search
// of the same kind is already running. A create that joins an open match
// fires OnMatched before Start returns.
func (p *Poller) Start(ctx context.Context, kind matchdto.GameType) (bool, error) {
	p.mu.Lock()
	if cur, ok := p.searches[kind]; ok && cur.state == StateSearching {
		p.mu.Unlock()
		return false, nil
	}
	sctx, cancel := context.WithCancel(context.Background())
	s := &search{kind: kind, state: StateSearching, stop: make(chan struct{}), ctx: sctx, cancel: cancel}
	p.searches[kind] = s
	p.mu.Unlock()

	p.log.Info("search_start", zap.String("kind", string(kind)))
	m, err := p.api.CreateMatch(ctx, kind)

	p.mu.Lock()
	if !p.liveLocked(s) {
		// cancelled while the create was in flight
		p.mu.Unlock()
		if err == nil && m != nil && !m.Started() && !m.ID.IsZero() {
			p.cancelRemote(kind, m.ID)
		}
		return true, nil
	}
	if err != nil {
		p.finishLocked(s, StateIdle)
		p.mu.Unlock()
		return false, fmt.Errorf("create %s match: %w", kind, err)
	}

	switch {
	case m.Started():
		res, serr := p.matchedLocked(s, m)
		p.mu.Unlock()
		if serr != nil {
			return true, serr
		}
		p.log.Info("search_matched", zap.String("kind", string(kind)), zap.String("match_id", res.MatchID.String()), zap.String("seat", string(res.Seat)))
		if p.hooks.OnMatched != nil {
			p.hooks.OnMatched(res)
		}
		return true, nil

	case m.Status == matchdto.StatusCreated && !m.ID.IsZero():
		s.pending = m.ID
		s.deadline = p.clock.Now().Add(p.interval * time.Duration(p.max+1))
		s.ticker = p.clock.NewTicker(p.interval)
		s.timer = p.clock.NewTimer(p.interval * time.Duration(p.max+1))
		p.wg.Add(1)
		go p.run(s, s.ticker, s.timer)
		p.mu.Unlock()

		p.savePending(s, m.ID)
		return true, nil

	default:
		p.finishLocked(s, StateIdle)
		p.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUnexpectedStatus, m.Status)
	}
}

func (p *Poller) run(s *search, ticker clockwork.Ticker, timer clockwork.Timer) {
	defer p.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.Chan():
			if done := p.poll(s); done {
				return
			}
		case <-timer.Chan():
			p.expire(s)
			return
		}
	}
}

// poll runs one status check. It returns true once the search is over.
func (p *Poller) poll(s *search) bool {
	p.mu.Lock()
	if !p.liveLocked(s) {
		p.mu.Unlock()
		return true
	}
	id := s.pending
	p.mu.Unlock()

	m, err := p.api.GetMatch(s.ctx, id)

	p.mu.Lock()
	// 요청 중에 취소/데드라인이 먼저 처리됐을 수 있음: 상태 재확인
	if !p.liveLocked(s) {
		p.mu.Unlock()
		return true
	}
	s.attempts++
	attempts := s.attempts

	switch {
	case err == nil && m.Started():
		res, serr := p.matchedLocked(s, m)
		p.mu.Unlock()
		p.clearPending(s.kind)
		if serr != nil {
			p.fail(s.kind, serr)
			return true
		}
		p.log.Info("search_matched", zap.String("kind", string(s.kind)), zap.String("match_id", id.String()), zap.Int("attempts", attempts))
		if p.hooks.OnMatched != nil {
			p.hooks.OnMatched(res)
		}
		return true

	case err == nil && m.Terminal():
		p.finishLocked(s, StateCancelled)
		p.mu.Unlock()
		p.clearPending(s.kind)
		p.fail(s.kind, fmt.Errorf("%w: %s", ErrMatchGone, m.Status))
		return true

	case errors.Is(err, matchapi.ErrAuth):
		p.finishLocked(s, StateCancelled)
		p.mu.Unlock()
		p.cancelRemote(s.kind, id)
		p.fail(s.kind, err)
		return true

	case attempts >= p.max:
		p.finishLocked(s, StateTimedOut)
		p.mu.Unlock()
		p.timedOut(s.kind, id, attempts)
		return true
	}
	p.mu.Unlock()

	if err != nil {
		p.log.Warn("search_poll_error", zap.String("kind", string(s.kind)), zap.Int("attempt", attempts), zap.Error(err))
	}
	if p.hooks.OnProgress != nil {
		p.hooks.OnProgress(s.kind, attempts, p.max)
	}
	return false
}

// expire is the hard deadline backstop for polls that never complete.
func (p *Poller) expire(s *search) {
	p.mu.Lock()
	if !p.liveLocked(s) {
		p.mu.Unlock()
		return
	}
	id, attempts := s.pending, s.attempts
	p.finishLocked(s, StateTimedOut)
	p.mu.Unlock()
	p.timedOut(s.kind, id, attempts)
}

func (p *Poller) timedOut(kind matchdto.GameType, id matchdto.MatchID, attempts int) {
	p.log.Info("search_timeout", zap.String("kind", string(kind)), zap.String("match_id", id.String()), zap.Int("attempts", attempts))
	p.cancelRemote(kind, id)
	if p.hooks.OnTimeout != nil {
		p.hooks.OnTimeout(kind, id)
	}
}

// Cancel stops the running search of kind and withdraws its match shell.
// It reports false when nothing was running.
func (p *Poller) Cancel(kind matchdto.GameType) bool {
	p.mu.Lock()
	s, ok := p.searches[kind]
	if !ok || !p.liveLocked(s) {
		p.mu.Unlock()
		return false
	}
	id := s.pending
	p.finishLocked(s, StateCancelled)
	p.mu.Unlock()

	p.log.Info("search_cancel", zap.String("kind", string(kind)), zap.String("match_id", id.String()))
	if !id.IsZero() {
		p.cancelRemote(kind, id)
	}
	return true
}

// Close cancels every running search and waits for poll loops to exit.
func (p *Poller) Close() {
	for _, kind := range []matchdto.GameType{matchdto.GameStandard, matchdto.GameRapid} {
		p.Cancel(kind)
	}
	p.wg.Wait()
}

func (p *Poller) liveLocked(s *search) bool {
	cur, ok := p.searches[s.kind]
	return ok && cur == s && s.state == StateSearching
}

// finishLocked moves s to a terminal state and releases its timers.
func (p *Poller) finishLocked(s *search, to State) {
	s.state = to
	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	close(s.stop)
	s.cancel()
	if to == StateIdle {
		delete(p.searches, s.kind)
	}
}

func (p *Poller) matchedLocked(s *search, m *matchdto.Match) (Result, error) {
	seat, err := SeatFor(m, p.identity)
	if err != nil {
		p.finishLocked(s, StateCancelled)
		return Result{}, err
	}
	p.finishLocked(s, StateMatched)
	return Result{MatchID: m.ID, GameType: s.kind, Seat: seat, Match: m}, nil
}

func (p *Poller) cancelRemote(kind matchdto.GameType, id matchdto.MatchID) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := p.api.CancelMatch(ctx, id); err != nil {
		p.log.Warn("search_cancel_remote", zap.String("match_id", id.String()), zap.Error(err))
	}
	p.clearPending(kind)
}

func (p *Poller) fail(kind matchdto.GameType, err error) {
	p.log.Warn("search_failed", zap.String("kind", string(kind)), zap.Error(err))
	if p.hooks.OnError != nil {
		p.hooks.OnError(kind, err)
	}
}

// savePending records the shell only while s is still searching, so a
// cancel that already cleared the entry is never overwritten.
func (p *Poller) savePending(s *search, id matchdto.MatchID) {
	if p.store == nil {
		return
	}
	p.storeMu.Lock()
	defer p.storeMu.Unlock()
	p.mu.Lock()
	live := p.liveLocked(s)
	p.mu.Unlock()
	if !live {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := p.store.SavePending(ctx, p.identity, s.kind, id); err != nil {
		p.log.Warn("search_pending_save", zap.Error(err))
	}
}

func (p *Poller) clearPending(kind matchdto.GameType) {
	if p.store == nil {
		return
	}
	p.storeMu.Lock()
	defer p.storeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := p.store.ClearPending(ctx, p.identity, kind); err != nil {
		p.log.Warn("search_pending_clear", zap.Error(err))
	}
}
