package channel

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/go-stomp/stomp/v3"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const stompReadLimit = 1 << 20

// StompChannel speaks STOMP 1.2 over a WebSocket connection.
type StompChannel struct {
	*hub
	url string

	connM  sync.Mutex
	conn   *stomp.Conn
	cancel context.CancelFunc
}

func NewStomp(wsURL string, opts ...Option) *StompChannel {
	return &StompChannel{
		hub: newHub("stomp", buildOptions(opts)),
		url: wsURL,
	}
}

func (c *StompChannel) Connect(ctx context.Context) error {
	stop, ok := c.begin()
	if !ok {
		return nil
	}
	c.setState(StateConnecting)

	dctx, cancel := context.WithTimeout(ctx, c.opts.dialTimeout)
	err := c.dial(dctx)
	cancel()
	if err != nil {
		cerr := &ConnectionError{Transport: "stomp", Op: "connect", Err: err}
		c.report(cerr)
		c.setState(StateDisconnected)
		c.scheduleReconnect(stop, c.dial, c.up)
		return cerr
	}
	c.up()
	return nil
}

func (c *StompChannel) dial(ctx context.Context) error {
	stop := c.currentStop()
	ws, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{
		HTTPHeader:   c.httpHeader(),
		Subprotocols: []string{"v12.stomp", "v11.stomp", "v10.stomp"},
	})
	if err != nil {
		return err
	}
	ws.SetReadLimit(stompReadLimit)

	connCtx, cancel := context.WithCancel(context.Background())
	raw := &watchedConn{Conn: websocket.NetConn(connCtx, ws, websocket.MessageText)}
	sc, err := stomp.Connect(raw, c.connectOptions()...)
	if err != nil {
		cancel()
		_ = ws.Close(websocket.StatusInternalError, "stomp connect failed")
		return err
	}

	c.connM.Lock()
	if c.stopped(stop) {
		c.connM.Unlock()
		_ = sc.Disconnect()
		cancel()
		return ErrClosed
	}
	c.conn = sc
	c.cancel = cancel
	c.connM.Unlock()

	raw.arm(func(err error) { c.onLost(stop, sc, err) })
	return nil
}

func (c *StompChannel) connectOptions() []func(*stomp.Conn) error {
	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(c.opts.heartbeat, c.opts.heartbeat),
	}
	if u, err := url.Parse(c.url); err == nil && u.Hostname() != "" {
		opts = append(opts, stomp.ConnOpt.Host(u.Hostname()))
	}
	for k, v := range c.opts.headerMap() {
		opts = append(opts, stomp.ConnOpt.Header(k, v))
	}
	return opts
}

func (c *StompChannel) httpHeader() http.Header {
	hdr := http.Header{}
	for k, v := range c.opts.headerMap() {
		hdr.Set(k, v)
	}
	return hdr
}

func (c *StompChannel) up() { c.online(c.activate) }

// onLost runs once per connection when its socket fails.
func (c *StompChannel) onLost(stop chan struct{}, sc *stomp.Conn, err error) {
	c.connM.Lock()
	if c.conn != sc {
		c.connM.Unlock()
		return
	}
	c.conn = nil
	cancel := c.cancel
	c.cancel = nil
	c.connM.Unlock()
	if cancel != nil {
		cancel()
	}
	c.lost(stop, "read", err, c.dial, c.up)
}

func (c *StompChannel) current() *stomp.Conn {
	c.connM.Lock()
	defer c.connM.Unlock()
	return c.conn
}

func (c *StompChannel) activate(reg *registration) (func(), error) {
	sc := c.current()
	if sc == nil {
		return nil, ErrNotConnected
	}
	sub, err := sc.Subscribe(stompDestination(reg.topic), stomp.AckAuto)
	if err != nil {
		return nil, err
	}
	go func() {
		for msg := range sub.C {
			if msg == nil || msg.Err != nil {
				return
			}
			c.deliver(reg, msg.Body)
		}
	}()
	return func() { _ = sub.Unsubscribe() }, nil
}

func (c *StompChannel) Subscribe(topic string, h Handler) (Subscription, error) {
	return c.register(topic, h, c.activate)
}

func (c *StompChannel) Publish(ctx context.Context, destination string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.guardPublish(); err != nil {
		return err
	}
	dest := normalize(destination)
	if dest == "" {
		return ErrEmptyTopic
	}
	body, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	sc := c.current()
	if sc == nil {
		return ErrNotConnected
	}
	if err := sc.Send(stompDestination(dest), "application/json", body); err != nil {
		return &ConnectionError{Transport: "stomp", Op: "send " + dest, Err: err}
	}
	return nil
}

func (c *StompChannel) Disconnect(ctx context.Context) error {
	c.halt()
	c.deactivateAll()

	c.connM.Lock()
	sc, cancel := c.conn, c.cancel
	c.conn, c.cancel = nil, nil
	c.connM.Unlock()

	if sc != nil {
		done := make(chan error, 1)
		go func() { done <- sc.Disconnect() }()
		select {
		case err := <-done:
			if err != nil {
				c.opts.log.Debug("stomp_disconnect", zap.Error(err))
			}
		case <-ctx.Done():
		case <-c.opts.clock.After(c.opts.dialTimeout):
		}
	}
	if cancel != nil {
		cancel()
	}
	c.setState(StateDisconnected)
	return nil
}

// watchedConn reports the first I/O failure once it is armed.
type watchedConn struct {
	net.Conn
	armed  atomic.Bool
	once   sync.Once
	onFail func(error)
}

func (w *watchedConn) arm(onFail func(error)) {
	w.onFail = onFail
	w.armed.Store(true)
}

func (w *watchedConn) Read(p []byte) (int, error) {
	n, err := w.Conn.Read(p)
	if err != nil {
		w.fail(err)
	}
	return n, err
}

func (w *watchedConn) Write(p []byte) (int, error) {
	n, err := w.Conn.Write(p)
	if err != nil {
		w.fail(err)
	}
	return n, err
}

func (w *watchedConn) fail(err error) {
	if !w.armed.Load() {
		return
	}
	w.once.Do(func() { go w.onFail(err) })
}
