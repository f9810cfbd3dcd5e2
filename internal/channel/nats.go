package channel

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"
)

// NatsChannel maps topics onto NATS subjects ("topic/moves/1" becomes
// "topic.moves.1"). The NATS client re-establishes subscriptions itself
// across reconnects; its handlers only drive the state machine.
type NatsChannel struct {
	*hub
	url   string
	token string

	connM sync.Mutex
	nc    *nats.Conn
}

func NewNats(natsURL, token string, opts ...Option) *NatsChannel {
	return &NatsChannel{
		hub:   newHub("nats", buildOptions(opts)),
		url:   natsURL,
		token: token,
	}
}

func (c *NatsChannel) Connect(ctx context.Context) error {
	stop, ok := c.begin()
	if !ok {
		return nil
	}
	c.setState(StateConnecting)
	if err := c.dial(ctx); err != nil {
		cerr := &ConnectionError{Transport: "nats", Op: "connect", Err: err}
		c.report(cerr)
		c.setState(StateDisconnected)
		c.scheduleReconnect(stop, c.dial, c.up)
		return cerr
	}
	c.up()
	return nil
}

func (c *NatsChannel) natsOptions(stop chan struct{}) []nats.Option {
	maxReconnects := c.opts.maxReconnects
	if maxReconnects <= 0 {
		maxReconnects = -1
	}
	opts := []nats.Option{
		nats.Timeout(c.opts.dialTimeout),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(c.opts.reconnectDelay),
		nats.ReconnectJitter(0, 0),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if c.stopped(stop) {
				return
			}
			if err != nil {
				c.report(&ConnectionError{Transport: "nats", Op: "disconnect", Err: err})
			}
			c.setState(StateDisconnected)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if c.stopped(stop) {
				return
			}
			c.up()
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if c.stopped(stop) {
				return
			}
			c.setState(StateFailed)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			op := "async"
			if sub != nil {
				op = "subscription " + sub.Subject
			}
			c.report(&ConnectionError{Transport: "nats", Op: op, Err: err})
		}),
	}
	if c.opts.clientName != "" {
		opts = append(opts, nats.Name(c.opts.clientName))
	}
	if c.opts.heartbeat > 0 {
		opts = append(opts, nats.PingInterval(c.opts.heartbeat))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	return opts
}

func (c *NatsChannel) dial(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := c.currentStop()
	nc, err := nats.Connect(c.url, c.natsOptions(stop)...)
	if err != nil {
		return err
	}
	c.connM.Lock()
	defer c.connM.Unlock()
	if c.stopped(stop) {
		nc.Close()
		return ErrClosed
	}
	c.nc = nc
	return nil
}

func (c *NatsChannel) up() { c.online(c.activate) }

func (c *NatsChannel) current() *nats.Conn {
	c.connM.Lock()
	defer c.connM.Unlock()
	return c.nc
}

func (c *NatsChannel) activate(reg *registration) (func(), error) {
	nc := c.current()
	if nc == nil {
		return nil, ErrNotConnected
	}
	sub, err := nc.Subscribe(natsSubject(reg.topic), func(m *nats.Msg) {
		c.deliver(reg, m.Data)
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func (c *NatsChannel) Subscribe(topic string, h Handler) (Subscription, error) {
	return c.register(topic, h, c.activate)
}

func (c *NatsChannel) Publish(ctx context.Context, destination string, payload any) error {
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
	nc := c.current()
	if nc == nil {
		return ErrNotConnected
	}
	if err := nc.Publish(natsSubject(dest), body); err != nil {
		return &ConnectionError{Transport: "nats", Op: "publish " + dest, Err: err}
	}
	return nil
}

func (c *NatsChannel) Disconnect(context.Context) error {
	c.halt()
	c.deactivateAll()
	c.connM.Lock()
	nc := c.nc
	c.nc = nil
	c.connM.Unlock()
	if nc != nil {
		nc.Close()
	}
	c.setState(StateDisconnected)
	return nil
}
