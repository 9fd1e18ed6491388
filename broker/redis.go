package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"twitch-chat-bridge/config"
)

// Redis — клиент брокера: pub/sub для событий и команд, GET/SET/MSET для кэша токенов.
type Redis struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewRedis создаёт клиента; соединение устанавливается лениво, проверка — Ping.
func NewRedis(cfg config.RedisConfig, log zerolog.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.Hostname, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Redis{
		client: client,
		log:    log.With().Str("component", "broker").Logger(),
	}
}

// Ping проверяет доступность сервера.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrBrokerUnavailable, err)
	}
	return nil
}

// Close закрывает пул соединений.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %w", ErrBrokerUnavailable, channel, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, channels...)
	// Receive дожидается подтверждения подписки, иначе ранние сообщения теряются.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe %v: %w", ErrBrokerUnavailable, channels, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan Message, 64),
		done:   make(chan struct{}),
	}
	go sub.pump()

	r.log.Debug().Strs("channels", channels).Msg("Subscribed")
	return sub, nil
}

// Get возвращает значение ключа; отсутствие ключа — ok=false без ошибки.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %s: %w", ErrBrokerUnavailable, key, err)
	}
	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrBrokerUnavailable, key, err)
	}
	return nil
}

// SetPair пишет два ключа одной командой MSET: читатели видят либо оба, либо ни одного.
func (r *Redis) SetPair(ctx context.Context, key1, value1, key2, value2 string) error {
	if err := r.client.MSet(ctx, key1, value1, key2, value2).Err(); err != nil {
		return fmt.Errorf("%w: mset %s %s: %w", ErrBrokerUnavailable, key1, key2, err)
	}
	return nil
}

type redisSubscription struct {
	pubsub    *redis.PubSub
	out       chan Message
	done      chan struct{}
	closeOnce sync.Once
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	for msg := range s.pubsub.Channel() {
		select {
		case s.out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
