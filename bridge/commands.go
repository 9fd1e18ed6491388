package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"twitch-chat-bridge/broker"
	"twitch-chat-bridge/chat"
)

const (
	synMessage    = "SYN"
	synAckMessage = "SYN/ACK"
)

type pubSub interface {
	broker.Publisher
	broker.Subscriber
}

// Commands обслуживает командную сторону моста для одного соединения:
// отвечает на SYN и пересылает say/whisper из брокера в чат.
type Commands struct {
	channels   Channels
	broker     pubSub
	sayChannel string
	log        zerolog.Logger

	mu     sync.Mutex
	active *attachment
}

type attachment struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// closed закрывается на disconnected именно этого соединения: событие
	// старого соединения из брокера может прийти уже после нового Attach.
	conn      chat.Connection
	closedID  chat.ListenerID
	closed    chan struct{}
	closeOnce sync.Once
}

// NewCommands создаёт командный мост. Команды say уходят в канал sayChannel.
func NewCommands(channels Channels, b pubSub, sayChannel string, log zerolog.Logger) *Commands {
	return &Commands{
		channels:   channels,
		broker:     b,
		sayChannel: sayChannel,
		log:        log.With().Str("component", "commands").Logger(),
	}
}

// Attach подписывается на каналы рукопожатия и команд для conn.
// Предыдущее подключение, если было, снимается.
func (c *Commands) Attach(ctx context.Context, conn chat.Connection) error {
	c.Detach()

	ctx, cancel := context.WithCancel(ctx)

	handshake, err := c.broker.Subscribe(ctx, c.channels.Event(chat.KindMessage))
	if err != nil {
		cancel()
		return unavailable("subscribe handshake", err)
	}

	forward, err := c.broker.Subscribe(ctx, c.channels.Say(), c.channels.Whisper())
	if err != nil {
		_ = handshake.Close()
		cancel()
		return unavailable("subscribe commands", err)
	}

	a := &attachment{cancel: cancel, conn: conn, closed: make(chan struct{})}
	a.closedID = conn.On(chat.KindDisconnected, func(chat.Event) {
		a.closeOnce.Do(func() { close(a.closed) })
	})
	a.wg.Add(2)
	go c.handshake(ctx, a, handshake)
	go c.forward(ctx, a, conn, forward)

	c.mu.Lock()
	c.active = a
	c.mu.Unlock()

	c.log.Debug().Msg("Attached command bridge")
	return nil
}

// Detach останавливает рукопожатие и пересылку и дожидается их завершения.
func (c *Commands) Detach() {
	c.mu.Lock()
	a := c.active
	c.active = nil
	c.mu.Unlock()

	if a == nil {
		return
	}
	a.conn.Off(a.closedID)
	a.cancel()
	a.wg.Wait()

	c.log.Debug().Msg("Detached command bridge")
}

func (c *Commands) handshake(ctx context.Context, a *attachment, sub broker.Subscription) {
	defer a.wg.Done()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closed:
			c.log.Debug().Msg("Connection closed, stopping handshake")
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			c.answerSyn(ctx, msg.Payload)
		}
	}
}

func (c *Commands) answerSyn(ctx context.Context, payload []byte) {
	if !gjson.ValidBytes(payload) {
		c.log.Warn().Msg("Ignoring malformed message event")
		return
	}
	fields := gjson.GetManyBytes(payload, "self", "message")
	if fields[0].Bool() || fields[1].String() != synMessage {
		return
	}

	if err := c.broker.Publish(ctx, c.channels.Say(), []byte(synAckMessage)); err != nil {
		c.log.Warn().Err(err).Msg("Failed to answer SYN")
		return
	}
	c.log.Debug().Msg("Answered SYN")
}

func (c *Commands) forward(ctx context.Context, a *attachment, conn chat.Connection, sub broker.Subscription) {
	defer a.wg.Done()
	defer sub.Close()

	whisper := c.channels.Whisper()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			if state := conn.ReadyState(); state != chat.StateOpen {
				c.log.Warn().Str("channel", msg.Channel).Stringer("ready_state", state).Msg("Dropping command, connection is not open")
				continue
			}

			if msg.Channel == whisper {
				c.whisper(conn, msg.Payload)
				continue
			}
			conn.Say(c.sayChannel, string(msg.Payload))
		}
	}
}

func (c *Commands) whisper(conn chat.Connection, payload []byte) {
	if !gjson.ValidBytes(payload) {
		c.log.Warn().Msg("Dropping whisper, payload is not JSON")
		return
	}
	fields := gjson.GetManyBytes(payload, "to", "message")
	to, message := fields[0].String(), fields[1].String()
	if to == "" || message == "" {
		c.log.Warn().Msg("Dropping whisper, to and message are required")
		return
	}
	conn.Whisper(to, message)
}

func unavailable(op string, err error) error {
	if errors.Is(err, broker.ErrBrokerUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", broker.ErrBrokerUnavailable, op, err)
}
