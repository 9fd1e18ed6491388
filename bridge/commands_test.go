package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"twitch-chat-bridge/broker"
	"twitch-chat-bridge/broker/brokertest"
	"twitch-chat-bridge/chat"
	"twitch-chat-bridge/chat/chattest"
)

func newTestCommands(t *testing.T) (*Commands, *brokertest.Memory, *chattest.Conn) {
	t.Helper()
	mem := brokertest.New()
	conn := chattest.NewConn()
	commands := NewCommands(Channels{Prefix: "bot"}, mem, "chan", zerolog.Nop())

	if err := commands.Attach(context.Background(), conn); err != nil {
		t.Fatalf("Attach returned error: %v", err)
	}
	t.Cleanup(commands.Detach)
	return commands, mem, conn
}

func publish(t *testing.T, mem *brokertest.Memory, channel, payload string) {
	t.Helper()
	if err := mem.Publish(context.Background(), channel, []byte(payload)); err != nil {
		t.Fatalf("publish %s: %v", channel, err)
	}
}

func TestHandshakeAnswersSynAndIgnoresSelf(t *testing.T) {
	_, mem, _ := newTestCommands(t)

	publish(t, mem, "bot.twitch.message", `{"channel":"#chan","userstate":{},"message":"SYN","self":true}`)
	publish(t, mem, "bot.twitch.message", `{"channel":"#chan","userstate":{},"message":"hello","self":false}`)
	publish(t, mem, "bot.twitch.message", `{"channel":"#chan","userstate":{},"message":"SYN","self":false}`)

	waitFor(t, "SYN/ACK", func() bool { return len(mem.Published("bot.chatter.say")) >= 1 })

	replies := mem.Published("bot.chatter.say")
	if len(replies) != 1 || string(replies[0].Payload) != "SYN/ACK" {
		t.Fatalf("unexpected replies: %+v", replies)
	}
}

func TestHandshakeStopsOnOwnConnectionDisconnected(t *testing.T) {
	_, mem, conn := newTestCommands(t)

	conn.Emit(chat.NewEvent(chat.KindDisconnected, "eof"))
	conn.Emit(chat.NewEvent(chat.KindDisconnected, "eof"))

	waitFor(t, "handshake teardown", func() bool { return mem.Subscribers("bot.twitch.message") == 0 })
	if mem.Subscribers("bot.chatter.say") != 1 {
		t.Fatalf("forwarder should stay subscribed until Detach")
	}
}

func TestHandshakeIgnoresDisconnectedFromBroker(t *testing.T) {
	_, mem, _ := newTestCommands(t)

	// disconnected предыдущего соединения, опубликованный с опозданием.
	publish(t, mem, "bot.twitch.disconnected", `{"reason":"eof"}`)
	publish(t, mem, "bot.twitch.message", `{"channel":"#chan","userstate":{},"message":"SYN","self":false}`)

	waitFor(t, "SYN/ACK", func() bool { return len(mem.Published("bot.chatter.say")) == 1 })
	if mem.Subscribers("bot.twitch.message") != 1 {
		t.Fatalf("handshake should stay subscribed")
	}
}

func TestForwarderSaysAndWhispersWhenOpen(t *testing.T) {
	_, mem, conn := newTestCommands(t)
	conn.SetReadyState(chat.StateOpen)

	publish(t, mem, "bot.chatter.say", "hello chat")
	publish(t, mem, "bot.chatter.whisper", `{"to":"viewer","message":"psst"}`)

	waitFor(t, "2 sent", func() bool { return len(conn.Sent()) == 2 })

	sent := conn.Sent()
	if sent[0] != (chattest.Sent{Target: "chan", Message: "hello chat"}) {
		t.Fatalf("unexpected say: %+v", sent[0])
	}
	if sent[1] != (chattest.Sent{Whisper: true, Target: "viewer", Message: "psst"}) {
		t.Fatalf("unexpected whisper: %+v", sent[1])
	}
}

func TestForwarderDropsWhenNotOpen(t *testing.T) {
	_, mem, conn := newTestCommands(t)

	conn.SetReadyState(chat.StateClosing)
	publish(t, mem, "bot.chatter.say", "first")
	publish(t, mem, "bot.chatter.whisper", `{"to":"viewer"}`)

	time.Sleep(100 * time.Millisecond)
	if sent := conn.Sent(); len(sent) != 0 {
		t.Fatalf("expected drops while closing, got %+v", sent)
	}

	conn.SetReadyState(chat.StateOpen)
	publish(t, mem, "bot.chatter.say", "second")

	waitFor(t, "1 sent", func() bool { return len(conn.Sent()) == 1 })
	if sent := conn.Sent(); sent[0].Message != "second" {
		t.Fatalf("unexpected sent: %+v", sent)
	}
}

func TestDetachRemovesSubscriptions(t *testing.T) {
	commands, mem, conn := newTestCommands(t)

	commands.Detach()
	commands.Detach()

	if n := conn.Len(); n != 0 {
		t.Fatalf("listeners left on connection: %d", n)
	}

	for _, channel := range []string{"bot.twitch.message", "bot.twitch.disconnected", "bot.chatter.say", "bot.chatter.whisper"} {
		if n := mem.Subscribers(channel); n != 0 {
			t.Fatalf("channel %s still has %d subscribers", channel, n)
		}
	}

	conn.SetReadyState(chat.StateOpen)
	publish(t, mem, "bot.chatter.say", "late")
	if len(conn.Sent()) != 0 {
		t.Fatalf("detached bridge forwarded a command")
	}
}

func TestAttachSubscribeFailure(t *testing.T) {
	mem := brokertest.New()
	mem.Fail(errors.New("connection refused"))
	commands := NewCommands(Channels{Prefix: "bot"}, mem, "chan", zerolog.Nop())

	err := commands.Attach(context.Background(), chattest.NewConn())
	if !errors.Is(err, broker.ErrBrokerUnavailable) {
		t.Fatalf("expected ErrBrokerUnavailable, got %v", err)
	}
}
