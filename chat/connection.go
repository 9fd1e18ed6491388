package chat

import "context"

// ReadyState повторяет состояния сокета: CONNECTING, OPEN, CLOSING, CLOSED.
type ReadyState int

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	default:
		return "CLOSED"
	}
}

// Connection — одно живое соединение с чатом. Объект одноразовый: после
// возврата из Connect его нельзя подключить снова, нужен новый.
type Connection interface {
	On(kind Kind, fn Listener) ListenerID
	Off(id ListenerID) bool

	// Connect блокируется до разрыва соединения. Перед возвратом
	// соединение ровно один раз испускает KindDisconnected.
	Connect(ctx context.Context) error
	Close() error

	ReadyState() ReadyState
	Say(channel, message string)
	Whisper(username, message string)
}
