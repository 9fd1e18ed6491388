package chat

import (
	"fmt"

	"github.com/tidwall/sjson"
)

// Event — неизменяемая запись о событии чата: тип и позиционные аргументы
// в порядке полей из kindTable.
type Event struct {
	Kind Kind
	Args []any
}

// NewEvent собирает событие, копируя аргументы.
func NewEvent(kind Kind, args ...any) Event {
	return Event{Kind: kind, Args: append([]any(nil), args...)}
}

// Arg возвращает значение поля по имени.
func (e Event) Arg(field string) (any, bool) {
	if !e.Kind.Valid() {
		return nil, false
	}
	for i, name := range kindTable[e.Kind].fields {
		if name == field && i < len(e.Args) {
			return e.Args[i], true
		}
	}
	return nil, false
}

// MarshalJSON кодирует событие в объект "поле → значение". Ключи идут
// в порядке аргументов, поэтому объект собирается через sjson по одному ключу.
func (e Event) MarshalJSON() ([]byte, error) {
	if !e.Kind.Valid() {
		return nil, fmt.Errorf("chat event: unknown kind %d", int(e.Kind))
	}
	fields := kindTable[e.Kind].fields
	if len(e.Args) != len(fields) {
		return nil, fmt.Errorf("chat event %s: expected %d args, got %d", e.Kind, len(fields), len(e.Args))
	}

	out := []byte("{}")
	for i, name := range fields {
		var err error
		out, err = sjson.SetBytes(out, name, e.Args[i])
		if err != nil {
			return nil, fmt.Errorf("chat event %s: encode %s: %w", e.Kind, name, err)
		}
	}
	return out, nil
}
