package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Transport string

const (
	TransportStomp Transport = "stomp"
	TransportRedis Transport = "redis"
	TransportNats  Transport = "nats"
)

type AppConfig struct {
	MatchAPIURL string
	UserEmail   string
	AuthToken   string

	Transport      Transport
	ChannelWSURL   string
	RedisURL       string
	NatsURL        string
	ChannelPrefix  string
	ReconnectDelay time.Duration
	MaxReconnects  int
	Heartbeat      time.Duration

	SearchPollInterval time.Duration
	SearchMaxAttempts  int
	RapidClockSec      int
	HTTPTimeout        time.Duration
	HTTPRetries        int

	DatabaseURL string
	ResumeTTL   time.Duration
	MsgcatDir   string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		Transport:          TransportStomp,
		ReconnectDelay:     5 * time.Second,
		MaxReconnects:      30,
		Heartbeat:          4 * time.Second,
		SearchPollInterval: time.Second,
		SearchMaxAttempts:  90,
		RapidClockSec:      600,
		HTTPTimeout:        10 * time.Second,
		HTTPRetries:        3,
		ResumeTTL:          6 * time.Hour,
	}

	cfg.MatchAPIURL = strings.TrimRight(strings.TrimSpace(os.Getenv("MATCH_API_URL")), "/")
	cfg.UserEmail = strings.TrimSpace(os.Getenv("USER_EMAIL"))
	cfg.AuthToken = strings.TrimSpace(os.Getenv("AUTH_TOKEN"))

	if v := strings.TrimSpace(os.Getenv("CHANNEL_TRANSPORT")); v != "" {
		cfg.Transport = Transport(strings.ToLower(v))
	}
	cfg.ChannelWSURL = strings.TrimSpace(os.Getenv("CHANNEL_WS_URL"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.NatsURL = strings.TrimSpace(os.Getenv("NATS_URL"))
	cfg.ChannelPrefix = strings.TrimSpace(os.Getenv("CHANNEL_PREFIX"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MsgcatDir = strings.TrimSpace(os.Getenv("MSGCAT_DIR"))

	if d, ok := envDuration("CHANNEL_RECONNECT_DELAY"); ok {
		cfg.ReconnectDelay = d
	}
	if n, ok := envInt("CHANNEL_MAX_RECONNECTS"); ok && n >= 0 {
		cfg.MaxReconnects = n
	}
	if d, ok := envDuration("CHANNEL_HEARTBEAT"); ok {
		cfg.Heartbeat = d
	}
	if d, ok := envDuration("SEARCH_POLL_INTERVAL"); ok {
		cfg.SearchPollInterval = d
	}
	if n, ok := envInt("SEARCH_MAX_ATTEMPTS"); ok && n > 0 {
		cfg.SearchMaxAttempts = n
	}
	if n, ok := envInt("RAPID_CLOCK_SEC"); ok && n > 0 {
		cfg.RapidClockSec = n
	}
	if d, ok := envDuration("HTTP_TIMEOUT"); ok {
		cfg.HTTPTimeout = d
	}
	if n, ok := envInt("HTTP_RETRIES"); ok && n > 0 {
		cfg.HTTPRetries = n
	}
	if d, ok := envDuration("RESUME_TTL"); ok {
		cfg.ResumeTTL = d
	}

	if cfg.MatchAPIURL == "" {
		return nil, errors.New("MATCH_API_URL is required")
	}
	switch cfg.Transport {
	case TransportStomp:
		if cfg.ChannelWSURL == "" {
			return nil, errors.New("CHANNEL_WS_URL is required for stomp transport")
		}
	case TransportRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for redis transport")
		}
	case TransportNats:
		if cfg.NatsURL == "" {
			return nil, errors.New("NATS_URL is required for nats transport")
		}
	default:
		return nil, fmt.Errorf("unknown CHANNEL_TRANSPORT %q", cfg.Transport)
	}
	return cfg, nil
}

// envDuration accepts Go durations ("750ms") or plain seconds ("5").
func envDuration(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second, true
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d, true
	}
	return 0, false
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
