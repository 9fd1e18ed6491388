// Package broker описывает pub/sub и key/value возможности брокера
// и реализует их поверх Redis.
package broker

import (
	"context"
	"errors"
)

// ErrBrokerUnavailable оборачивает любую ошибку публикации, подписки или
// операции с ключами.
var ErrBrokerUnavailable = errors.New("broker unavailable")

// Message — сообщение, полученное из подписки.
type Message struct {
	Channel string
	Payload []byte
}

// Publisher публикует сообщение в канал.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Subscription доставляет сообщения подписанных каналов до Close.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Subscriber открывает подписку на каналы. Подписка активна к моменту возврата.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}
