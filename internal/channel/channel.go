package channel

import (
	"context"
	"fmt"
)

// State is the observable connection state of a Channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	// StateFailed is terminal until the next explicit Connect.
	StateFailed State = "failed"
)

// Handler receives one raw inbound payload. A returned error is reported
// through the error callbacks as a *DecodeError and the payload is dropped.
type Handler func(body []byte) error

type StateCallback func(state State)

type ErrorCallback func(err error)

// Subscription is a topic registration. Unsubscribe is idempotent.
type Subscription interface {
	Topic() string
	Unsubscribe()
}

// Channel is a duplex publish/subscribe connection. Topics and
// destinations are transport neutral ("topic/moves/42", "app/game/42/move").
type Channel interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	State() State

	// Subscribe records the registration even while disconnected; it is
	// activated on connect and re-activated after every reconnect.
	Subscribe(topic string, h Handler) (Subscription, error)
	// Publish marshals payload as JSON. It fails with ErrNotConnected
	// unless the channel is connected.
	Publish(ctx context.Context, destination string, payload any) error

	OnStateChange(cb StateCallback) int
	RemoveStateCallback(id int)
	OnError(cb ErrorCallback) int
	RemoveErrorCallback(id int)
}

var (
	ErrNotConnected = errf("channel not connected")
	ErrClosed       = errf("channel closed")
	ErrEmptyTopic   = errf("empty topic")
)

// DecodeError reports an inbound payload that could not be decoded.
type DecodeError struct {
	Topic string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Topic, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ConnectionError reports a transport failure. It is recoverable while
// reconnect attempts remain.
type ConnectionError struct {
	Transport string
	Op        string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Transport, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

var (
	_ Channel = (*StompChannel)(nil)
	_ Channel = (*RedisChannel)(nil)
	_ Channel = (*NatsChannel)(nil)
)
