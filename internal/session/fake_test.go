package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/park285/Cheese-match-client/internal/archive"
	"github.com/park285/Cheese-match-client/internal/channel"
	"github.com/park285/Cheese-match-client/pkg/matchdto"
)

type published struct {
	dest string
	body []byte
}

// fakeChannel delivers synchronously on the caller's goroutine.
type fakeChannel struct {
	mu         sync.Mutex
	state      channel.State
	nextID     int
	handlers   map[string]map[int]channel.Handler
	stateCbs   map[int]channel.StateCallback
	errCbs     map[int]channel.ErrorCallback
	sent       []published
	publishErr error
}

func newFakeChannel(st channel.State) *fakeChannel {
	return &fakeChannel{
		state:    st,
		handlers: make(map[string]map[int]channel.Handler),
		stateCbs: make(map[int]channel.StateCallback),
		errCbs:   make(map[int]channel.ErrorCallback),
	}
}

func (f *fakeChannel) Connect(context.Context) error    { f.setState(channel.StateConnected); return nil }
func (f *fakeChannel) Disconnect(context.Context) error { f.setState(channel.StateDisconnected); return nil }

func (f *fakeChannel) State() channel.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

type fakeSub struct {
	f     *fakeChannel
	topic string
	id    int
}

func (s *fakeSub) Topic() string { return s.topic }

func (s *fakeSub) Unsubscribe() {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	delete(s.f.handlers[s.topic], s.id)
	if len(s.f.handlers[s.topic]) == 0 {
		delete(s.f.handlers, s.topic)
	}
}

func (f *fakeChannel) Subscribe(topic string, h channel.Handler) (channel.Subscription, error) {
	if topic == "" {
		return nil, channel.ErrEmptyTopic
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if f.handlers[topic] == nil {
		f.handlers[topic] = make(map[int]channel.Handler)
	}
	f.handlers[topic][f.nextID] = h
	return &fakeSub{f: f, topic: topic, id: f.nextID}, nil
}

func (f *fakeChannel) Publish(_ context.Context, dest string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != channel.StateConnected {
		return channel.ErrNotConnected
	}
	if f.publishErr != nil {
		return f.publishErr
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, published{dest: dest, body: b})
	return nil
}

func (f *fakeChannel) OnStateChange(cb channel.StateCallback) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.stateCbs[f.nextID] = cb
	return f.nextID
}

func (f *fakeChannel) RemoveStateCallback(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.stateCbs, id)
}

func (f *fakeChannel) OnError(cb channel.ErrorCallback) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.errCbs[f.nextID] = cb
	return f.nextID
}

func (f *fakeChannel) RemoveErrorCallback(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.errCbs, id)
}

func (f *fakeChannel) setState(st channel.State) {
	f.mu.Lock()
	f.state = st
	cbs := make([]channel.StateCallback, 0, len(f.stateCbs))
	for _, cb := range f.stateCbs {
		cbs = append(cbs, cb)
	}
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(st)
	}
}

func (f *fakeChannel) deliver(t *testing.T, topic string, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f.mu.Lock()
	hs := make([]channel.Handler, 0, len(f.handlers[topic]))
	for _, h := range f.handlers[topic] {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		if err := h(b); err != nil {
			t.Fatalf("handler %s: %v", topic, err)
		}
	}
}

func (f *fakeChannel) sentTo(dest string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.sent {
		if p.dest == dest {
			n++
		}
	}
	return n
}

func (f *fakeChannel) lastSent(dest string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].dest == dest {
			return f.sent[i].body
		}
	}
	return nil
}

func (f *fakeChannel) counts() (topics, stateCbs, errCbs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers), len(f.stateCbs), len(f.errCbs)
}

type fakeAPI struct {
	moves []matchdto.HistoryMove
	chat  []matchdto.ChatMessage
	err   error
}

func (a *fakeAPI) Moves(context.Context, matchdto.MatchID) ([]matchdto.HistoryMove, error) {
	return a.moves, a.err
}

func (a *fakeAPI) ChatHistory(context.Context, matchdto.MatchID) ([]matchdto.ChatMessage, error) {
	return a.chat, nil
}

type fakePrompter struct {
	accept bool
	asked  chan matchdto.Color
}

func (p *fakePrompter) ConfirmDraw(_ context.Context, from matchdto.Color) bool {
	p.asked <- from
	return p.accept
}

type fakeArchiver struct {
	saved chan archive.Record
}

func (a *fakeArchiver) SaveResult(_ context.Context, rec archive.Record) error {
	a.saved <- rec
	return nil
}

func boolp(b bool) *bool { return &b }

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", what)
}
