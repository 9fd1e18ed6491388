// Package chattest содержит управляемое из теста соединение chat.Connection.
package chattest

import (
	"context"
	"sync"

	"twitch-chat-bridge/chat"
)

// Sent — исходящее действие, записанное фейковым соединением.
type Sent struct {
	Whisper bool
	Target  string
	Message string
}

// Conn — фейковое соединение. Connect блокируется до Drop, Close или отмены
// контекста и, как настоящее, испускает disconnected ровно один раз.
type Conn struct {
	chat.Emitter

	mu         sync.Mutex
	state      chat.ReadyState
	sent       []Sent
	connectErr error

	connected chan struct{}
	drop      chan string
	dropOnce  sync.Once
}

// NewConn создаёт соединение в состоянии CONNECTING.
func NewConn() *Conn {
	return &Conn{
		state:     chat.StateConnecting,
		connected: make(chan struct{}),
		drop:      make(chan string, 1),
	}
}

// FailConnect заставляет Connect сразу завершиться с ошибкой.
func (c *Conn) FailConnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr = err
}

func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	failErr := c.connectErr
	c.mu.Unlock()

	if failErr != nil {
		c.setState(chat.StateClosed)
		c.Emit(chat.NewEvent(chat.KindDisconnected, failErr.Error()))
		return failErr
	}

	c.setState(chat.StateOpen)
	c.Emit(chat.NewEvent(chat.KindConnected, "irc.test", 6697))
	close(c.connected)

	var reason string
	select {
	case reason = <-c.drop:
	case <-ctx.Done():
		reason = ctx.Err().Error()
	}

	c.setState(chat.StateClosed)
	c.Emit(chat.NewEvent(chat.KindDisconnected, reason))
	return nil
}

// Connected закрывается, когда Connect испустил connected.
func (c *Conn) Connected() <-chan struct{} {
	return c.connected
}

// Drop имитирует обрыв соединения.
func (c *Conn) Drop(reason string) {
	c.dropOnce.Do(func() { c.drop <- reason })
}

func (c *Conn) Close() error {
	c.Drop("closed")
	return nil
}

func (c *Conn) ReadyState() chat.ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetReadyState позволяет тесту выставить состояние без Connect.
func (c *Conn) SetReadyState(s chat.ReadyState) {
	c.setState(s)
}

func (c *Conn) setState(s chat.ReadyState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *Conn) Say(channel, message string) {
	c.record(Sent{Target: channel, Message: message})
}

func (c *Conn) Whisper(username, message string) {
	c.record(Sent{Whisper: true, Target: username, Message: message})
}

func (c *Conn) record(s Sent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, s)
}

// Sent возвращает копию отправленных действий.
func (c *Conn) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

var _ chat.Connection = (*Conn)(nil)
