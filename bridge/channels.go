// Package bridge связывает соединение с чатом и брокер: события чата
// публикуются в каналы брокера, команды из брокера уходят в чат.
package bridge

import "twitch-chat-bridge/chat"

// Channels строит имена каналов брокера. Префикс задаётся один раз.
type Channels struct {
	Prefix string
}

// Event возвращает {prefix}.twitch.{kind}.
func (c Channels) Event(kind chat.Kind) string {
	return c.Prefix + ".twitch." + kind.String()
}

// Say возвращает {prefix}.chatter.say.
func (c Channels) Say() string {
	return c.Prefix + ".chatter.say"
}

// Whisper возвращает {prefix}.chatter.whisper.
func (c Channels) Whisper() string {
	return c.Prefix + ".chatter.whisper"
}
