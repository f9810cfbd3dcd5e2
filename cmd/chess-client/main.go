package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/Cheese-match-client/internal/adapter/console"
	"github.com/park285/Cheese-match-client/internal/archive"
	"github.com/park285/Cheese-match-client/internal/channel"
	"github.com/park285/Cheese-match-client/internal/config"
	"github.com/park285/Cheese-match-client/internal/matchapi"
	"github.com/park285/Cheese-match-client/internal/matchmaking"
	"github.com/park285/Cheese-match-client/internal/msgcat"
	"github.com/park285/Cheese-match-client/internal/obslog"
	"github.com/park285/Cheese-match-client/internal/session"
	"github.com/park285/Cheese-match-client/internal/store"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := run(cfg); err != nil {
		obslog.L().Error("client_exit", zap.Error(err))
		obslog.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := obslog.L()

	cat, err := msgcat.New(cfg.MsgcatDir)
	if err != nil {
		return fmt.Errorf("message catalog: %w", err)
	}
	out := console.NewPresenter(os.Stdout, console.NewFormatter(cat))
	prompter := console.NewPrompter(out)

	clientID := uuid.NewString()
	headers := func() map[string]string {
		h := map[string]string{"X-Client-Id": clientID}
		if cfg.AuthToken != "" {
			h["Authorization"] = "Bearer " + cfg.AuthToken
		}
		if cfg.UserEmail != "" {
			h["X-User-Email"] = cfg.UserEmail
		}
		return h
	}

	api := matchapi.NewClient(cfg.MatchAPIURL,
		matchapi.WithHeaderProvider(headers),
		matchapi.WithTimeout(cfg.HTTPTimeout),
		matchapi.WithRetry(cfg.HTTPRetries),
		matchapi.WithLogger(logger.Named("matchapi")),
	)

	identity := cfg.UserEmail
	if identity == "" {
		me, err := api.Me(ctx)
		if err != nil {
			return fmt.Errorf("resolve identity: %w", err)
		}
		identity = me.Email
	}
	logger.Info("client_start", zap.String("identity", identity), zap.String("transport", string(cfg.Transport)), zap.String("client_id", clientID))

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
	}
	var resume *store.Store
	if rdb != nil {
		resume = store.New(rdb, cfg.ChannelPrefix, cfg.ResumeTTL)
	}

	ch, err := channel.NewFromConfig(cfg, rdb,
		channel.WithLogger(obslog.Named("channel")),
		channel.WithHeaderProvider(headers),
		channel.WithClientName("chess-client-"+clientID),
	)
	if err != nil {
		return err
	}

	var archiver session.Archiver
	if cfg.DatabaseURL != "" {
		repo, err := archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Warn("archive_disabled", zap.Error(err))
		} else {
			defer func() { _ = repo.Close() }()
			archiver = repo
		}
	}

	a := &app{
		cfg:      cfg,
		identity: identity,
		api:      api,
		out:      out,
		prompter: prompter,
		resume:   resume,
		log:      logger,
	}
	a.ctrl = session.NewController(func(sc session.Config) *session.Session {
		hooks := out.Hooks()
		hooks.OnFinished = a.onFinished
		return session.New(ch, api, sc,
			session.WithPrompter(prompter),
			session.WithArchiver(archiver),
			session.WithHooks(hooks),
			session.WithLogger(logger.Named("session")),
		)
	})

	pollOpts := []matchmaking.Option{
		matchmaking.WithSchedule(cfg.SearchPollInterval, cfg.SearchMaxAttempts),
		matchmaking.WithHooks(a.searchHooks(ctx)),
		matchmaking.WithLogger(logger.Named("matchmaking")),
	}
	if resume != nil {
		pollOpts = append(pollOpts, matchmaking.WithPendingStore(resume))
	}
	a.poller = matchmaking.NewPoller(api, identity, pollOpts...)

	ch.OnError(func(err error) {
		var ce *channel.ConnectionError
		if errors.As(err, &ce) {
			out.Key("channel.error", map[string]any{"Error": err.Error()})
		}
	})
	if err := ch.Connect(ctx); err != nil {
		// the channel keeps retrying in the background
		logger.Warn("channel_connect", zap.Error(err))
	}

	a.recover(ctx)
	out.Say(out.Formatter().Help())

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if prompter.Answer(line) {
					continue
				}
				if quit := a.handle(gctx, line); quit {
					stop()
					return nil
				}
			}
		}
	})
	err = g.Wait()

	a.ctrl.CloseCurrent()
	a.poller.Close()
	dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if derr := ch.Disconnect(dctx); derr != nil {
		logger.Warn("channel_disconnect", zap.Error(derr))
	}
	logger.Info("client_stop")
	return err
}

func readLines(f *os.File, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		out <- sc.Text()
	}
}
