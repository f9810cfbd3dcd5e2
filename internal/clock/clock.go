// Package clock keeps a local per-side countdown for timed matches. It is
// a display estimate; the server owns the clock of record.
package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/park285/Cheese-match-client/pkg/matchdto"
)

// State is a snapshot of both clocks in whole seconds.
type State struct {
	Timed   bool
	White   int
	Black   int
	Running bool
	Stopped bool
}

// Remaining returns the seconds left for c.
func (s State) Remaining(c matchdto.Color) int {
	if c == matchdto.Black {
		return s.Black
	}
	return s.White
}

// TurnFunc reports whose clock runs. It is called without the simulator
// lock held, so it may take the caller's own lock.
type TurnFunc func() matchdto.Color

type Simulator struct {
	clock  clockwork.Clock
	period time.Duration
	turn   TurnFunc
	onTick func(State)

	mu      sync.Mutex
	timed   bool
	white   int
	black   int
	started bool
	stopped bool
	ticker  clockwork.Ticker
	done    chan struct{}
	wg      sync.WaitGroup
}

type Option func(*Simulator)

func WithClock(c clockwork.Clock) Option {
	return func(s *Simulator) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithOnTick is called after every applied tick, outside the lock.
func WithOnTick(fn func(State)) Option {
	return func(s *Simulator) { s.onTick = fn }
}

// New creates a simulator. Untimed game types never tick.
func New(kind matchdto.GameType, perSideSec int, turn TurnFunc, opts ...Option) *Simulator {
	s := &Simulator{
		clock:  clockwork.NewRealClock(),
		period: time.Second,
		turn:   turn,
		timed:  kind.Timed() && perSideSec > 0,
	}
	if s.timed {
		s.white, s.black = perSideSec, perSideSec
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins ticking. It is a no-op when untimed, already started or stopped.
func (s *Simulator) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.timed || s.started || s.stopped {
		return false
	}
	s.started = true
	s.ticker = s.clock.NewTicker(s.period)
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.ticker, s.done)
	return true
}

func (s *Simulator) loop(t clockwork.Ticker, done chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-done:
			return
		case <-t.Chan():
			s.Tick()
		}
	}
}

// Tick charges one second to the side to move. Exported for callers that
// drive the simulator from their own loop.
func (s *Simulator) Tick() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	side := matchdto.White
	if s.turn != nil {
		side = s.turn()
	}

	s.mu.Lock()
	// Stop may have won the race while turn() ran
	if s.stopped {
		s.mu.Unlock()
		return
	}
	switch side {
	case matchdto.White:
		if s.white > 0 {
			s.white--
		}
	case matchdto.Black:
		if s.black > 0 {
			s.black--
		}
	}
	st := s.snapshotLocked()
	s.mu.Unlock()

	if s.onTick != nil {
		s.onTick(st)
	}
}

// Stop freezes both clocks permanently and waits for the tick loop to exit.
// Safe to call more than once and from an onTick callback.
func (s *Simulator) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	t, done := s.ticker, s.done
	s.ticker, s.done = nil, nil
	s.mu.Unlock()

	if t != nil {
		t.Stop()
	}
	if done != nil {
		close(done)
	}
}

// Wait blocks until the tick loop has exited after Stop.
func (s *Simulator) Wait() { s.wg.Wait() }

func (s *Simulator) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Simulator) snapshotLocked() State {
	return State{
		Timed:   s.timed,
		White:   s.white,
		Black:   s.black,
		Running: s.started && !s.stopped,
		Stopped: s.stopped,
	}
}

func (s *Simulator) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Format renders seconds as m:ss.
func Format(sec int) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%d:%02d", sec/60, sec%60)
}
