package bridge

import (
	"sync"

	"github.com/rs/zerolog"

	"twitch-chat-bridge/chat"
)

type enqueuer interface {
	Enqueue(channel string, payload []byte) bool
}

// Events публикует каждое событие соединения в канал его типа.
// Для каждого соединения запоминаются id слушателей, чтобы снять ровно их.
type Events struct {
	channels Channels
	out      enqueuer
	log      zerolog.Logger

	mu       sync.Mutex
	attached map[chat.Connection][]chat.ListenerID
}

// NewEvents создаёт мост событий, публикующий через out.
func NewEvents(channels Channels, out enqueuer, log zerolog.Logger) *Events {
	return &Events{
		channels: channels,
		out:      out,
		log:      log.With().Str("component", "events").Logger(),
		attached: make(map[chat.Connection][]chat.ListenerID),
	}
}

// Register вешает по одному слушателю на каждый тип события.
// Повторная регистрация того же соединения ничего не делает.
func (e *Events) Register(conn chat.Connection) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.attached[conn]; ok {
		return
	}

	kinds := chat.Kinds()
	ids := make([]chat.ListenerID, 0, len(kinds))
	for _, kind := range kinds {
		ids = append(ids, conn.On(kind, e.publish))
	}
	e.attached[conn] = ids

	e.log.Debug().Int("listeners", len(ids)).Msg("Registered event listeners")
}

// Unregister снимает слушателей, поставленные Register, и возвращает их число.
func (e *Events) Unregister(conn chat.Connection) int {
	e.mu.Lock()
	ids, ok := e.attached[conn]
	delete(e.attached, conn)
	e.mu.Unlock()

	if !ok {
		return 0
	}

	removed := 0
	for _, id := range ids {
		if conn.Off(id) {
			removed++
		}
	}

	e.log.Debug().Int("listeners", removed).Msg("Unregistered event listeners")
	return removed
}

func (e *Events) publish(ev chat.Event) {
	payload, err := ev.MarshalJSON()
	if err != nil {
		e.log.Error().Err(err).Str("kind", ev.Kind.String()).Msg("Failed to encode event")
		return
	}
	e.out.Enqueue(e.channels.Event(ev.Kind), payload)
}
