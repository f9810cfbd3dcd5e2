package channel

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisChannel maps topics onto Redis pub/sub channels. Each registration
// owns one PubSub so per-topic ordering is kept.
type RedisChannel struct {
	*hub
	rdb    *redis.Client
	prefix string
	owned  bool
}

// NewRedis wraps an existing client; Close leaves it open.
func NewRedis(rdb *redis.Client, prefix string, opts ...Option) *RedisChannel {
	return &RedisChannel{
		hub:    newHub("redis", buildOptions(opts)),
		rdb:    rdb,
		prefix: strings.TrimSpace(prefix),
	}
}

// NewRedisFromURL accepts redis:// and rediss:// URLs.
func NewRedisFromURL(raw, prefix string, opts ...Option) (*RedisChannel, error) {
	ropts, err := redis.ParseURL(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := NewRedis(redis.NewClient(ropts), prefix, opts...)
	c.owned = true
	return c, nil
}

func (c *RedisChannel) channelName(topic string) string {
	return c.prefix + normalize(topic)
}

func (c *RedisChannel) Connect(ctx context.Context) error {
	stop, ok := c.begin()
	if !ok {
		return nil
	}
	c.setState(StateConnecting)

	dctx, cancel := context.WithTimeout(ctx, c.opts.dialTimeout)
	err := c.dial(dctx)
	cancel()
	if err != nil {
		cerr := &ConnectionError{Transport: "redis", Op: "connect", Err: err}
		c.report(cerr)
		c.setState(StateDisconnected)
		c.scheduleReconnect(stop, c.dial, c.up)
		return cerr
	}
	c.up()
	return nil
}

func (c *RedisChannel) dial(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *RedisChannel) up() {
	c.online(c.activate)
	if c.opts.heartbeat > 0 {
		go c.healthLoop(c.currentStop())
	}
}

// healthLoop pings on the heartbeat interval; a failed ping drops the
// connection and hands over to the reconnect loop.
func (c *RedisChannel) healthLoop(stop chan struct{}) {
	t := c.opts.clock.NewTicker(c.opts.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.Chan():
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.heartbeat)
			err := c.rdb.Ping(ctx).Err()
			cancel()
			if err != nil {
				t.Stop()
				c.lost(stop, "ping", err, c.dial, c.up)
				return
			}
		}
	}
}

func (c *RedisChannel) activate(reg *registration) (func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.dialTimeout)
	defer cancel()
	ps := c.rdb.Subscribe(ctx, c.channelName(reg.topic))
	// wait for the subscribe confirmation so a publish right after
	// Subscribe returns is not missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	msgs := ps.Channel()
	go func() {
		for msg := range msgs {
			c.deliver(reg, []byte(msg.Payload))
		}
	}()
	return func() { _ = ps.Close() }, nil
}

func (c *RedisChannel) Subscribe(topic string, h Handler) (Subscription, error) {
	return c.register(topic, h, c.activate)
}

func (c *RedisChannel) Publish(ctx context.Context, destination string, payload any) error {
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
	if err := c.rdb.Publish(ctx, c.channelName(dest), body).Err(); err != nil {
		return &ConnectionError{Transport: "redis", Op: "publish " + dest, Err: err}
	}
	return nil
}

func (c *RedisChannel) Disconnect(context.Context) error {
	c.halt()
	c.deactivateAll()
	c.setState(StateDisconnected)
	return nil
}

// Close releases a client created by NewRedisFromURL.
func (c *RedisChannel) Close() error {
	if c == nil || !c.owned || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
