package chat

import "sync"

// ListenerID идентифицирует подписку; снять её можно только тем же id,
// что вернул On.
type ListenerID uint64

// Listener получает события одного типа.
type Listener func(Event)

type listener struct {
	id   ListenerID
	kind Kind
	fn   Listener
}

// Emitter — реестр слушателей id → callback. Emit вызывает слушателей
// вне блокировки, поэтому слушатель может снять сам себя.
type Emitter struct {
	mu        sync.Mutex
	nextID    ListenerID
	listeners []listener
}

// On регистрирует слушателя для kind и возвращает его id.
func (e *Emitter) On(kind Kind, fn Listener) ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	e.listeners = append(e.listeners, listener{id: e.nextID, kind: kind, fn: fn})
	return e.nextID
}

// Off снимает слушателя. Повторный вызов с тем же id ничего не делает.
func (e *Emitter) Off(id ListenerID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, l := range e.listeners {
		if l.id == id {
			e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Emit синхронно доставляет событие всем слушателям его типа в порядке регистрации.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	matched := make([]Listener, 0, 2)
	for _, l := range e.listeners {
		if l.kind == ev.Kind {
			matched = append(matched, l.fn)
		}
	}
	e.mu.Unlock()

	for _, fn := range matched {
		fn(ev)
	}
}

// Len возвращает число зарегистрированных слушателей.
func (e *Emitter) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}
