// Package twitch реализует chat.Connection поверх go-twitch-irc.
package twitch

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	twitchirc "github.com/gempir/go-twitch-irc/v4"
	"github.com/rs/zerolog"

	"twitch-chat-bridge/chat"
)

// ErrConnUsed — Connect вызван повторно; нужно новое соединение.
var ErrConnUsed = errors.New("twitch: connection already used")

// ircClient — часть *twitchirc.Client, которой пользуется Conn.
type ircClient interface {
	Connect() error
	Disconnect() error
	Join(channels ...string)
	Say(channel, text string)
}

var _ ircClient = (*twitchirc.Client)(nil)

// whisperSender доставляет личные сообщения; см. Whisperer.
type whisperSender interface {
	Send(to, message string) error
}

// Option настраивает Conn.
type Option func(*Conn)

// WithWhisperer включает отправку личных сообщений через w.
func WithWhisperer(w *Whisperer) Option {
	return func(c *Conn) {
		if w != nil {
			c.whisperer = w
		}
	}
}

// Conn — одно соединение с чатом Twitch. Колбэки go-twitch-irc
// переводятся в события chat.Kind.
type Conn struct {
	chat.Emitter

	client    ircClient
	whisperer whisperSender
	username  string
	channels  []string
	address   string
	log       zerolog.Logger

	// Последние USERSTATE по каналам и GLOBALUSERSTATE: ими подписываются
	// собственные исходящие сообщения.
	tagsMu     sync.Mutex
	userTags   map[string]map[string]string
	globalTags map[string]string

	state    atomic.Int32
	started  atomic.Bool
	lastPing atomic.Int64

	disconnectOnce sync.Once
}

// NewConn создаёт соединение для пользователя username с токеном accessToken.
func NewConn(username, accessToken string, channels []string, log zerolog.Logger, opts ...Option) *Conn {
	client := twitchirc.NewClient(username, "oauth:"+strings.TrimPrefix(accessToken, "oauth:"))
	client.Capabilities = []string{
		twitchirc.TagsCapability,
		twitchirc.CommandsCapability,
		twitchirc.MembershipCapability,
	}

	c := newConn(client, username, channels, client.IrcAddress, log)
	for _, opt := range opts {
		opt(c)
	}
	c.bind(client)
	return c
}

func newConn(client ircClient, username string, channels []string, address string, log zerolog.Logger) *Conn {
	c := &Conn{
		client:   client,
		username: strings.ToLower(username),
		channels: channels,
		address:  address,
		log:      log.With().Str("component", "twitch").Logger(),
		userTags: make(map[string]map[string]string),
	}
	c.state.Store(int32(chat.StateConnecting))
	return c
}

// bind регистрирует колбэки клиента. go-twitch-irc хранит по одному колбэку на тип.
func (c *Conn) bind(client *twitchirc.Client) {
	client.OnConnect(c.onConnect)
	client.OnPrivateMessage(c.onPrivateMessage)
	client.OnWhisperMessage(c.onWhisperMessage)
	client.OnClearChatMessage(c.onClearChatMessage)
	client.OnClearMessage(c.onClearMessage)
	client.OnRoomStateMessage(c.onRoomStateMessage)
	client.OnUserNoticeMessage(c.onUserNoticeMessage)
	client.OnUserStateMessage(c.onUserStateMessage)
	client.OnGlobalUserStateMessage(c.onGlobalUserStateMessage)
	client.OnNoticeMessage(c.onNoticeMessage)
	client.OnUserJoinMessage(c.onUserJoinMessage)
	client.OnUserPartMessage(c.onUserPartMessage)
	client.OnSelfJoinMessage(c.onSelfJoinMessage)
	client.OnSelfPartMessage(c.onSelfPartMessage)
	client.OnReconnectMessage(c.onReconnectMessage)
	client.OnNamesMessage(c.onNamesMessage)
	client.OnPingMessage(c.onPingMessage)
	client.OnPingSent(c.onPingSent)
	client.OnPongMessage(c.onPongMessage)
	client.OnUnsetMessage(c.onUnsetMessage)
}

// Connect подключается и блокируется до разрыва или отмены ctx.
// Перед возвратом ровно один раз испускается disconnected.
func (c *Conn) Connect(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrConnUsed
	}

	host, port := splitAddress(c.address)
	c.Emit(chat.NewEvent(chat.KindConnecting, host, port))
	c.Emit(chat.NewEvent(chat.KindLogon))

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.client.Connect()
	}()

	var err error
	select {
	case <-ctx.Done():
		err = c.shutdown(errCh)
	case err = <-errCh:
	}

	c.state.Store(int32(chat.StateClosed))
	c.emitDisconnected(err)

	if err == nil || errors.Is(err, twitchirc.ErrClientDisconnected) {
		return nil
	}
	return err
}

// shutdown повторяет Disconnect, пока клиент не вернётся из Connect:
// до установки соединения Disconnect ещё не действует.
func (c *Conn) shutdown(errCh <-chan error) error {
	c.state.Store(int32(chat.StateClosing))

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		_ = c.client.Disconnect()
		select {
		case err := <-errCh:
			return err
		case <-ticker.C:
		}
	}
}

func (c *Conn) emitDisconnected(err error) {
	c.disconnectOnce.Do(func() {
		reason := "Connection closed."
		if err != nil && !errors.Is(err, twitchirc.ErrClientDisconnected) {
			reason = err.Error()
		}
		c.log.Info().Str("reason", reason).Msg("Disconnected from chat")
		c.Emit(chat.NewEvent(chat.KindDisconnected, reason))
	})
}

// Close запрашивает отключение; Connect вернётся после разрыва.
func (c *Conn) Close() error {
	if chat.ReadyState(c.state.Load()) == chat.StateClosed {
		return nil
	}
	c.state.Store(int32(chat.StateClosing))

	if err := c.client.Disconnect(); err != nil && !errors.Is(err, twitchirc.ErrConnectionIsNotOpen) {
		return err
	}
	return nil
}

func (c *Conn) ReadyState() chat.ReadyState {
	return chat.ReadyState(c.state.Load())
}

// Say отправляет сообщение и, как tmi.js, сразу испускает его локально с self=true:
// Twitch не возвращает отправителю его собственный PRIVMSG.
func (c *Conn) Say(channel, message string) {
	channel = normalizeChannel(channel)
	c.client.Say(channel, message)

	kind, messageType, text := chat.KindChat, "chat", message
	switch {
	case strings.HasPrefix(message, "/me "):
		kind, messageType, text = chat.KindAction, "action", strings.TrimPrefix(message, "/me ")
	case strings.HasPrefix(message, "/"), strings.HasPrefix(message, "."):
		// Команда чата, а не сообщение.
		return
	}

	c.tagsMu.Lock()
	tags := c.userTags[channel]
	c.tagsMu.Unlock()

	state := userstate(tags, twitchirc.User{Name: c.username}, messageType)
	c.Emit(chat.NewEvent(kind, "#"+channel, state, text, true))
	c.Emit(chat.NewEvent(chat.KindMessage, "#"+channel, state, text, true))
}

// Whisper отправляет личное сообщение через Helix и испускает его локально.
func (c *Conn) Whisper(username, message string) {
	to := normalizeChannel(username)
	if c.whisperer == nil {
		c.log.Warn().Str("to", to).Msg("Dropping whisper, whispers are not configured")
		return
	}
	if err := c.whisperer.Send(to, message); err != nil {
		c.log.Warn().Err(err).Str("to", to).Msg("Failed to send whisper")
		return
	}

	c.tagsMu.Lock()
	tags := c.globalTags
	c.tagsMu.Unlock()

	state := userstate(tags, twitchirc.User{Name: c.username}, "whisper")
	c.Emit(chat.NewEvent(chat.KindWhisper, "#"+to, state, message, true))
	c.Emit(chat.NewEvent(chat.KindMessage, "#"+to, state, message, true))
}

func (c *Conn) onConnect() {
	c.state.Store(int32(chat.StateOpen))

	host, port := splitAddress(c.address)
	c.log.Info().Strs("channels", c.channels).Msg("Connected to chat, joining channels")
	c.Emit(chat.NewEvent(chat.KindConnected, host, port))

	for _, ch := range c.channels {
		if ch == "" {
			continue
		}
		c.client.Join(normalizeChannel(ch))
	}
}

func (c *Conn) onPingSent() {
	c.lastPing.Store(time.Now().UnixNano())
}

func splitAddress(address string) (string, int) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return address, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func normalizeChannel(ch string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
}

var _ chat.Connection = (*Conn)(nil)
