package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/park285/Cheese-match-client/internal/channel"
	"github.com/park285/Cheese-match-client/internal/config"
	"github.com/park285/Cheese-match-client/internal/matchapi"
	"github.com/park285/Cheese-match-client/pkg/matchdto"
)

// matchcheck probes the REST API and the realtime channel with the same
// environment as chess-client. With a match id argument it also prints raw
// traffic on that match's topics for a short window.
func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	headers := func() map[string]string {
		m := map[string]string{"X-Client-Id": "matchcheck-" + uuid.NewString()}
		if cfg.AuthToken != "" {
			m["Authorization"] = "Bearer " + cfg.AuthToken
		}
		if cfg.UserEmail != "" {
			m["X-User-Email"] = cfg.UserEmail
		}
		return m
	}
	client := matchapi.NewClient(cfg.MatchAPIURL,
		matchapi.WithHeaderProvider(headers),
		matchapi.WithTimeout(8*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if me, err := client.Me(ctx); err != nil {
		log.Printf("/users/me error: %v", err)
	} else {
		log.Printf("/users/me ok: email=%s username=%s", me.Email, me.Username)
	}
	if list, err := client.MyMatches(ctx); err != nil {
		log.Printf("/matches/my error: %v", err)
	} else {
		log.Printf("/matches/my ok: %d matches", len(list))
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("parse REDIS_URL: %v", err)
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
	}
	ch, err := channel.NewFromConfig(cfg, rdb, channel.WithHeaderProvider(headers), channel.WithReconnect(time.Second, 1))
	if err != nil {
		log.Fatalf("channel error: %v", err)
	}
	ch.OnStateChange(func(st channel.State) { log.Printf("channel state: %s", st) })

	if len(os.Args) > 1 {
		id := matchdto.MatchID(os.Args[1])
		for _, topic := range []string{
			channel.MovesTopic(id), channel.GameStateTopic(id), channel.GameTopic(id),
			channel.DrawOffersTopic(id), channel.ChatTopic(id),
		} {
			topic := topic
			if _, err := ch.Subscribe(topic, func(body []byte) error {
				fmt.Printf("%s %s\n", topic, body)
				return nil
			}); err != nil {
				log.Printf("subscribe %s: %v", topic, err)
			}
		}
	}

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := ch.Connect(cctx); err != nil {
		log.Printf("channel connect error: %v", err)
		return
	}

	// observe for a short window
	t := time.NewTimer(10 * time.Second)
	<-t.C

	_ = ch.Disconnect(context.Background())
}
