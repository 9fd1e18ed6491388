package bridge

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"twitch-chat-bridge/broker"
	"twitch-chat-bridge/config"
)

// Outbox асинхронно публикует события чата в брокер. Колбэки клиента чата
// не ждут брокер: очередь ограничена, при переполнении сообщение
// отбрасывается и учитывается. Ошибки публикации логируются и считаются.
type Outbox struct {
	input     chan broker.Message
	config    config.OutboxConfig
	publisher broker.Publisher
	log       zerolog.Logger
	done      chan struct{}

	dropped   atomic.Uint64
	failed    atomic.Uint64
	published atomic.Uint64
}

// NewOutbox создаёт очередь и запускает публикацию до отмены ctx.
func NewOutbox(ctx context.Context, publisher broker.Publisher, cfg config.OutboxConfig, log zerolog.Logger) *Outbox {
	o := &Outbox{
		input:     make(chan broker.Message, cfg.Buffer),
		config:    cfg,
		publisher: publisher,
		log:       log.With().Str("component", "outbox").Logger(),
		done:      make(chan struct{}),
	}

	go o.run(ctx)

	return o
}

// Enqueue пытается поставить сообщение в очередь; при переполнении возвращает false.
func (o *Outbox) Enqueue(channel string, payload []byte) bool {
	select {
	case o.input <- broker.Message{Channel: channel, Payload: payload}:
		return true
	default:
		dropped := o.dropped.Add(1)
		if dropped == 1 || dropped%100 == 0 {
			o.log.Warn().Uint64("dropped_total", dropped).Str("channel", channel).Msg("Outbox queue is full, dropping event")
		}
		return false
	}
}

// Dropped возвращает число событий, отброшенных из-за переполнения.
func (o *Outbox) Dropped() uint64 {
	return o.dropped.Load()
}

// Failed возвращает число событий, которые брокер не принял.
func (o *Outbox) Failed() uint64 {
	return o.failed.Load()
}

// Published возвращает число успешно опубликованных событий.
func (o *Outbox) Published() uint64 {
	return o.published.Load()
}

// Done закрывается, когда очередь остановлена и дочитана.
func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

func (o *Outbox) run(ctx context.Context) {
	defer close(o.done)

	statsTicker := time.NewTicker(o.config.StatsLogEvery)
	defer statsTicker.Stop()

	var intervalPublished uint64

	for {
		select {
		case <-ctx.Done():
			drained := o.drain()
			o.log.Info().
				Int("drained", drained).
				Uint64("published_total", o.published.Load()).
				Uint64("failed_total", o.failed.Load()).
				Uint64("dropped_total", o.dropped.Load()).
				Msg("Outbox stopped")
			return
		case <-statsTicker.C:
			o.log.Info().
				Uint64("published", intervalPublished).
				Dur("interval", o.config.StatsLogEvery).
				Uint64("published_total", o.published.Load()).
				Uint64("dropped_total", o.dropped.Load()).
				Uint64("failed_total", o.failed.Load()).
				Msg("Outbox stats")
			intervalPublished = 0
		case msg := <-o.input:
			if o.publish(msg) {
				intervalPublished++
			}
		}
	}
}

// drain публикует то, что уже стоит в очереди на момент остановки.
func (o *Outbox) drain() int {
	n := 0
	for {
		select {
		case msg := <-o.input:
			o.publish(msg)
			n++
		default:
			return n
		}
	}
}

func (o *Outbox) publish(msg broker.Message) bool {
	pubCtx, cancel := context.WithTimeout(context.Background(), o.config.PublishTimeout)
	defer cancel()

	if err := o.publisher.Publish(pubCtx, msg.Channel, msg.Payload); err != nil {
		failed := o.failed.Add(1)
		if failed == 1 || failed%100 == 0 {
			o.log.Error().Err(err).Str("channel", msg.Channel).Uint64("failed_total", failed).Msg("Failed to publish event")
		}
		return false
	}
	o.published.Add(1)
	return true
}
