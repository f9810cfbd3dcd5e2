package channel

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/park285/Cheese-match-client/internal/obslog"
)

// HeaderProvider injects handshake headers (auth, identity).
type HeaderProvider func() map[string]string

type options struct {
	log            *zap.Logger
	clock          clockwork.Clock
	reconnectDelay time.Duration
	maxReconnects  int
	heartbeat      time.Duration
	dialTimeout    time.Duration
	headers        HeaderProvider
	clientName     string
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithReconnect sets the fixed delay between attempts. max <= 0 retries forever.
func WithReconnect(delay time.Duration, max int) Option {
	return func(o *options) {
		if delay > 0 {
			o.reconnectDelay = delay
		}
		o.maxReconnects = max
	}
}

func WithHeartbeat(d time.Duration) Option {
	return func(o *options) { o.heartbeat = d }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.dialTimeout = d
		}
	}
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(o *options) { o.headers = h }
}

// WithClientName tags the connection (NATS name, STOMP host header fallback).
func WithClientName(name string) Option {
	return func(o *options) { o.clientName = name }
}

func buildOptions(opts []Option) options {
	o := options{
		log:            obslog.L(),
		clock:          clockwork.NewRealClock(),
		reconnectDelay: 5 * time.Second,
		heartbeat:      4 * time.Second,
		dialTimeout:    10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func (o options) headerMap() map[string]string {
	out := map[string]string{}
	if o.headers == nil {
		return out
	}
	for k, v := range o.headers() {
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}

type errorCallbackEntry struct {
	id       int
	callback ErrorCallback
}

// registration is one Subscribe call. cancel is non-nil while the
// registration is live on the current connection.
type registration struct {
	id      int
	topic   string
	handler Handler
	cancel  func()
}

// activateFunc binds a registration to the live connection.
type activateFunc func(reg *registration) (cancel func(), err error)

// hub holds what every transport shares: state, callbacks, the
// subscription registry and the fixed-delay reconnect loop.
type hub struct {
	transport string
	opts      options

	mu           sync.Mutex
	state        State
	regs         map[int]*registration
	nextReg      int
	stop         chan struct{}
	halted       bool
	reconnecting bool

	cbM      sync.RWMutex
	stateCbs []stateCallbackEntry
	errCbs   []errorCallbackEntry
	nextCb   int
}

func newHub(transport string, opts options) *hub {
	return &hub{
		transport: transport,
		opts:      opts,
		state:     StateDisconnected,
		regs:      make(map[int]*registration),
		halted:    true,
	}
}

func (h *hub) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// begin opens a new connection run. It returns false when a connection is
// already up or being established.
func (h *hub) begin() (chan struct{}, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateConnected || h.state == StateConnecting || h.reconnecting {
		return nil, false
	}
	if h.halted {
		h.stop = make(chan struct{})
		h.halted = false
	}
	return h.stop, true
}

func (h *hub) currentStop() chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stop
}

// halt ends the current run. Pending reconnect loops observe it and exit.
func (h *hub) halt() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.halted {
		return
	}
	h.halted = true
	close(h.stop)
}

func (h *hub) stopped(stop chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

func (h *hub) setState(s State) {
	h.mu.Lock()
	if h.state == s {
		h.mu.Unlock()
		return
	}
	h.state = s
	h.mu.Unlock()

	h.opts.log.Info("channel_state", zap.String("transport", h.transport), zap.String("state", string(s)))

	h.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(h.stateCbs))
	copy(callbacks, h.stateCbs)
	h.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(s)
		}
	}
}

func (h *hub) report(err error) {
	if err == nil {
		return
	}
	h.opts.log.Warn("channel_error", zap.String("transport", h.transport), zap.Error(err))

	h.cbM.RLock()
	callbacks := make([]errorCallbackEntry, len(h.errCbs))
	copy(callbacks, h.errCbs)
	h.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(err)
		}
	}
}

func (h *hub) OnStateChange(cb StateCallback) int {
	h.cbM.Lock()
	defer h.cbM.Unlock()
	h.nextCb++
	h.stateCbs = append(h.stateCbs, stateCallbackEntry{id: h.nextCb, callback: cb})
	return h.nextCb
}

func (h *hub) RemoveStateCallback(id int) {
	h.cbM.Lock()
	defer h.cbM.Unlock()
	for i, cb := range h.stateCbs {
		if cb.id == id {
			h.stateCbs = append(h.stateCbs[:i], h.stateCbs[i+1:]...)
			break
		}
	}
}

func (h *hub) OnError(cb ErrorCallback) int {
	h.cbM.Lock()
	defer h.cbM.Unlock()
	h.nextCb++
	h.errCbs = append(h.errCbs, errorCallbackEntry{id: h.nextCb, callback: cb})
	return h.nextCb
}

func (h *hub) RemoveErrorCallback(id int) {
	h.cbM.Lock()
	defer h.cbM.Unlock()
	for i, cb := range h.errCbs {
		if cb.id == id {
			h.errCbs = append(h.errCbs[:i], h.errCbs[i+1:]...)
			break
		}
	}
}

func (h *hub) register(topic string, handler Handler, activate activateFunc) (Subscription, error) {
	topic = normalize(topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	h.mu.Lock()
	h.nextReg++
	reg := &registration{id: h.nextReg, topic: topic, handler: handler}
	h.regs[reg.id] = reg
	live := h.state == StateConnected
	h.mu.Unlock()

	if live {
		h.activateOne(reg, activate)
	}
	return &subscription{hub: h, id: reg.id, topic: topic}, nil
}

func (h *hub) activateOne(reg *registration, activate activateFunc) {
	cancel, err := activate(reg)
	if err != nil {
		h.report(&ConnectionError{Transport: h.transport, Op: "subscribe " + reg.topic, Err: err})
		return
	}
	h.mu.Lock()
	cur, ok := h.regs[reg.id]
	if !ok || cur.cancel != nil {
		// removed while binding, or bound twice by a concurrent reconnect
		h.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return
	}
	cur.cancel = cancel
	h.mu.Unlock()
}

// activateAll binds every registration that is not live yet.
func (h *hub) activateAll(activate activateFunc) {
	h.mu.Lock()
	pending := make([]*registration, 0, len(h.regs))
	for _, reg := range h.regs {
		if reg.cancel == nil {
			pending = append(pending, reg)
		}
	}
	h.mu.Unlock()
	sortRegs(pending)
	for _, reg := range pending {
		h.activateOne(reg, activate)
	}
}

// online binds pending registrations before Connected is announced, so a
// state callback that publishes already has its replies routed. The second
// pass picks up registrations made while the state was still connecting.
func (h *hub) online(activate activateFunc) {
	h.activateAll(activate)
	h.setState(StateConnected)
	h.activateAll(activate)
}

// deactivateAll unbinds every registration but keeps it for the next connect.
func (h *hub) deactivateAll() {
	h.mu.Lock()
	cancels := make([]func(), 0, len(h.regs))
	for _, reg := range h.regs {
		if reg.cancel != nil {
			cancels = append(cancels, reg.cancel)
			reg.cancel = nil
		}
	}
	h.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

func (h *hub) unregister(id int) {
	h.mu.Lock()
	reg, ok := h.regs[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.regs, id)
	cancel := reg.cancel
	reg.cancel = nil
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// deliver runs the handler unless the registration was removed meanwhile.
func (h *hub) deliver(reg *registration, body []byte) {
	h.mu.Lock()
	_, ok := h.regs[reg.id]
	h.mu.Unlock()
	if !ok {
		return
	}
	if err := reg.handler(body); err != nil {
		h.report(&DecodeError{Topic: reg.topic, Err: err})
	}
}

func (h *hub) registered() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.regs)
}

func (h *hub) guardPublish() error {
	if h.State() != StateConnected {
		return ErrNotConnected
	}
	return nil
}

// lost handles a dropped connection on the run identified by stop.
func (h *hub) lost(stop chan struct{}, op string, err error, dial func(context.Context) error, up func()) {
	if h.stopped(stop) {
		return
	}
	h.deactivateAll()
	h.report(&ConnectionError{Transport: h.transport, Op: op, Err: err})
	h.setState(StateDisconnected)
	h.scheduleReconnect(stop, dial, up)
}

// scheduleReconnect retries dial on a fixed delay until it succeeds, the
// run is halted or attempts are exhausted (StateFailed). up brings the new
// connection online and announces StateConnected.
func (h *hub) scheduleReconnect(stop chan struct{}, dial func(context.Context) error, up func()) {
	h.mu.Lock()
	if h.reconnecting || h.halted {
		h.mu.Unlock()
		return
	}
	h.reconnecting = true
	h.mu.Unlock()

	finish := func() {
		h.mu.Lock()
		h.reconnecting = false
		h.mu.Unlock()
	}

	go func() {
		max := h.opts.maxReconnects
		for attempt := 1; max <= 0 || attempt <= max; attempt++ {
			select {
			case <-stop:
				finish()
				return
			case <-h.opts.clock.After(h.opts.reconnectDelay):
			}
			h.setState(StateConnecting)
			ctx, cancel := context.WithTimeout(context.Background(), h.opts.dialTimeout)
			err := dial(ctx)
			cancel()
			if h.stopped(stop) {
				finish()
				return
			}
			if err == nil {
				h.opts.log.Info("channel_reconnected", zap.String("transport", h.transport), zap.Int("attempt", attempt))
				finish()
				up()
				return
			}
			h.report(&ConnectionError{Transport: h.transport, Op: "reconnect", Err: err})
			h.setState(StateDisconnected)
		}
		finish()
		h.setState(StateFailed)
	}()
}

func sortRegs(regs []*registration) {
	sort.Slice(regs, func(i, j int) bool { return regs[i].id < regs[j].id })
}

type subscription struct {
	hub   *hub
	id    int
	topic string
	once  sync.Once
}

func (s *subscription) Topic() string { return s.topic }

func (s *subscription) Unsubscribe() {
	s.once.Do(func() { s.hub.unregister(s.id) })
}
