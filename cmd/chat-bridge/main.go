package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	flag "maunium.net/go/mauflag"

	"twitch-chat-bridge/auth"
	"twitch-chat-bridge/bridge"
	"twitch-chat-bridge/broker"
	"twitch-chat-bridge/chat"
	"twitch-chat-bridge/config"
	"twitch-chat-bridge/logging"
	"twitch-chat-bridge/service"
	"twitch-chat-bridge/tokens"
	"twitch-chat-bridge/twitch"
)

const (
	storeTimeout = 5 * time.Second
	retryDelay   = time.Second
)

var (
	configPath  = flag.MakeFull("F", "config", "Path to the YAML or JSON config file.", config.DefaultPath).String()
	authCode    = flag.MakeFull("c", "authcode", "One-time OAuth authorization code, needed on the first run.", "").String()
	wantHelp, _ = flag.MakeHelpFlag()
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.SetHelpTitles(
		"chat-bridge - bridges a Twitch chat with Redis pub/sub.",
		"chat-bridge [-h] [-F <config path>] [-c <authorization code>]",
	)
	if err := flag.Parse(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		return 1
	} else if *wantHelp {
		flag.PrintHelp()
		return 0
	} else if args := flag.Args(); len(args) > 0 {
		fmt.Fprintf(os.Stderr, "unexpected arguments: %v\n", args)
		flag.PrintHelp()
		return 1
	}

	cfg, err := config.Load(*configPath, config.WithAuthCode(*authCode))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		return 1
	}

	log, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		return 1
	}
	if cfg.File == "" {
		log.Warn().Str("path", *configPath).Msg("Config file not found, using defaults and environment")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = serve(ctx, cfg, log)
	code := exitCode(err)
	if code != 0 {
		log.WithLevel(zerolog.FatalLevel).Err(err).Msg("Bridge stopped")
	} else {
		log.Info().Msg("Shutting down")
	}
	return code
}

// serve собирает зависимости и блокируется до остановки супервизора.
func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	creds, err := auth.LoadCredentials(cfg.TMI.CredsPath)
	if err != nil {
		return err
	}

	rdb := broker.NewRedis(cfg.Redis, log)
	defer rdb.Close()
	if err := rdb.Ping(ctx); err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg.TokenStore, rdb)
	if err != nil {
		return err
	}
	defer closeStore()

	tokenBroker := tokens.NewBroker(store, auth.NewExchanger(creds), cfg.TokenStore.KeyPrefix, log)
	token, err := acquire(ctx, tokenBroker, cfg.AuthCode)
	if err != nil {
		return err
	}
	if token, err = tokenBroker.Persist(ctx, token); err != nil {
		return err
	}

	// Очередь живёт дольше ctx, чтобы дочитать события после сигнала.
	outboxCtx, stopOutbox := context.WithCancel(context.Background())
	outbox := bridge.NewOutbox(outboxCtx, rdb, cfg.Outbox, log)
	defer func() {
		stopOutbox()
		<-outbox.Done()
	}()

	channels := bridge.Channels{Prefix: cfg.Redis.ChannelPrefix}
	supervisor := service.New(service.Options{
		Username: cfg.TMI.Username,
		Channels: cfg.TMI.Channels,
		Dial: func(sess service.Session) chat.Connection {
			whisperer, err := twitch.NewWhisperer(creds.ClientID, sess.Token.AccessToken, sess.Username)
			if err != nil {
				log.Warn().Err(err).Msg("Whispers disabled for this session")
			}
			return twitch.NewConn(sess.Username, sess.Token.AccessToken, sess.Channels, log, twitch.WithWhisperer(whisperer))
		},
		Tokens:     tokenBroker,
		Events:     bridge.NewEvents(channels, outbox, log),
		Commands:   bridge.NewCommands(channels, rdb, cfg.TMI.Channel(), log),
		RetryDelay: retryDelay,
	}, log)

	log.Info().
		Str("username", cfg.TMI.Username).
		Strs("channels", cfg.TMI.Channels).
		Str("prefix", cfg.Redis.ChannelPrefix).
		Str("token_store", cfg.TokenStore.Backend).
		Msg("Starting chat bridge")

	return supervisor.Run(ctx, token)
}

type acquirer interface {
	AcquireByAuthorizationCode(ctx context.Context, code string) (tokens.Response, error)
	AcquireByCachedRefreshToken(ctx context.Context) (tokens.Response, error)
}

// acquire выбирает путь получения токенов: код авторизации или кэш.
func acquire(ctx context.Context, tb acquirer, code string) (tokens.Response, error) {
	if code != "" {
		return tb.AcquireByAuthorizationCode(ctx, code)
	}

	resp, err := tb.AcquireByCachedRefreshToken(ctx)
	if errors.Is(err, tokens.ErrNoCachedCredential) {
		return tokens.Response{}, fmt.Errorf("%w (run once with -c <authorization code>)", err)
	}
	return resp, err
}

func openStore(ctx context.Context, cfg config.TokenStoreConfig, rdb *broker.Redis) (tokens.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		store, err := tokens.NewPostgresStore(ctx, cfg.PostgresDSN, storeTimeout)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.BackendFile:
		return &tokens.FileStore{Path: cfg.FilePath}, func() {}, nil
	default:
		return rdb, func() {}, nil
	}
}

// exitCode: 0 — штатная остановка по сигналу, 1 — любая ошибка.
func exitCode(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	return 1
}
