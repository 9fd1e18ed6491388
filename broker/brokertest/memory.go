// Package brokertest содержит брокер в памяти процесса для тестов:
// fan-out подписки и key/value, совместимые с broker.Redis.
package brokertest

import (
	"context"
	"sync"

	"twitch-chat-bridge/broker"
)

// Memory — брокер в памяти. Каждое опубликованное сообщение копируется
// во все подписки на канал; медленный подписчик теряет сообщения.
type Memory struct {
	mu        sync.Mutex
	subs      map[string][]*subscription
	kv        map[string]string
	published []broker.Message
	failWith  error
}

// New создаёт пустой брокер.
func New() *Memory {
	return &Memory{
		subs: make(map[string][]*subscription),
		kv:   make(map[string]string),
	}
}

// Fail заставляет все операции возвращать err (nil — вернуть как было).
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}

	msg := broker.Message{Channel: channel, Payload: append([]byte(nil), payload...)}
	m.published = append(m.published, msg)
	for _, sub := range m.subs[channel] {
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, channels ...string) (broker.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}

	sub := &subscription{owner: m, channels: channels, ch: make(chan broker.Message, 64)}
	for _, channel := range channels {
		m.subs[channel] = append(m.subs[channel], sub)
	}
	return sub, nil
}

// Published возвращает копию всех публикаций в канал ("" — во все каналы).
func (m *Memory) Published(channel string) []broker.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []broker.Message
	for _, msg := range m.published {
		if channel == "" || msg.Channel == channel {
			out = append(out, msg)
		}
	}
	return out
}

// Subscribers возвращает число активных подписок на канал.
func (m *Memory) Subscribers(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[channel])
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return "", false, m.failWith
	}
	value, ok := m.kv[key]
	return value, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.kv[key] = value
	return nil
}

func (m *Memory) SetPair(_ context.Context, key1, value1, key2, value2 string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.kv[key1] = value1
	m.kv[key2] = value2
	return nil
}

type subscription struct {
	owner    *Memory
	channels []string
	ch       chan broker.Message
	once     sync.Once
}

func (s *subscription) Messages() <-chan broker.Message {
	return s.ch
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		m := s.owner
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, channel := range s.channels {
			subs := m.subs[channel]
			for i, other := range subs {
				if other == s {
					m.subs[channel] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		}
		close(s.ch)
	})
	return nil
}

var (
	_ broker.Publisher  = (*Memory)(nil)
	_ broker.Subscriber = (*Memory)(nil)
)
