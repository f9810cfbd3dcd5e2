package channel

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/park285/Cheese-match-client/internal/config"
)

// NewFromConfig builds the transport selected by CHANNEL_TRANSPORT. The
// redis transport needs rdb; it stays owned by the caller.
func NewFromConfig(cfg *config.AppConfig, rdb *redis.Client, opts ...Option) (Channel, error) {
	base := []Option{
		WithReconnect(cfg.ReconnectDelay, cfg.MaxReconnects),
		WithHeartbeat(cfg.Heartbeat),
		WithDialTimeout(cfg.HTTPTimeout),
	}
	opts = append(base, opts...)
	switch cfg.Transport {
	case config.TransportRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis transport needs a redis client")
		}
		return NewRedis(rdb, cfg.ChannelPrefix, opts...), nil
	case config.TransportNats:
		return NewNats(cfg.NatsURL, cfg.AuthToken, opts...), nil
	case config.TransportStomp:
		return NewStomp(cfg.ChannelWSURL, opts...), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
