package channel

import (
	"testing"

	"github.com/park285/Cheese-match-client/internal/config"
)

func TestNewFromConfig(t *testing.T) {
	cfg := &config.AppConfig{Transport: config.TransportStomp, ChannelWSURL: "ws://localhost:8080/ws"}
	ch, err := NewFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("stomp: %v", err)
	}
	if _, ok := ch.(*StompChannel); !ok {
		t.Fatalf("stomp transport built %T", ch)
	}
	if ch.State() != StateDisconnected {
		t.Fatalf("new channel state = %s", ch.State())
	}

	cfg.Transport = config.TransportNats
	cfg.NatsURL = "nats://localhost:4222"
	if ch, err = NewFromConfig(cfg, nil); err != nil {
		t.Fatalf("nats: %v", err)
	}
	if _, ok := ch.(*NatsChannel); !ok {
		t.Fatalf("nats transport built %T", ch)
	}

	cfg.Transport = config.TransportRedis
	if _, err := NewFromConfig(cfg, nil); err == nil {
		t.Fatalf("redis transport without client should fail")
	}
	cfg.Transport = "carrier-pigeon"
	if _, err := NewFromConfig(cfg, nil); err == nil {
		t.Fatalf("unknown transport should fail")
	}
}
