package tokens

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Broker получает, обновляет и кэширует пару токенов.
// Холодный старт и переподключение проходят одну цепочку: acquire, затем Persist.
type Broker struct {
	store     Store
	exchanger Exchanger
	keys      Keys
	log       zerolog.Logger
	mu        sync.Mutex
}

// NewBroker создает брокер токенов с ключами кэша под префиксом keyPrefix.
func NewBroker(store Store, exchanger Exchanger, keyPrefix string, log zerolog.Logger) *Broker {
	return &Broker{
		store:     store,
		exchanger: exchanger,
		keys:      KeysFor(keyPrefix),
		log:       log.With().Str("component", "tokens").Logger(),
	}
}

// Keys возвращает имена ключей кэша.
func (b *Broker) Keys() Keys {
	return b.keys
}

// AcquireByAuthorizationCode обменивает одноразовый код на пару токенов.
func (b *Broker) AcquireByAuthorizationCode(ctx context.Context, code string) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	code = strings.TrimSpace(code)
	if code == "" {
		return Response{}, fmt.Errorf("%w: empty authorization code", ErrAuthExchange)
	}

	resp, err := b.exchanger.ExchangeAuthorizationCode(ctx, code)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrAuthExchange, err)
	}

	b.log.Info().Int64("expires_in", resp.ExpiresIn).Strs("scope", resp.Scope).Msg("Acquired token by authorization code")
	return resp, nil
}

// AcquireByCachedRefreshToken обменивает закэшированный refresh-токен.
func (b *Broker) AcquireByCachedRefreshToken(ctx context.Context) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	refreshToken, ok, err := b.store.Get(ctx, b.keys.Refresh)
	if err != nil {
		return Response{}, fmt.Errorf("read %s: %w", b.keys.Refresh, err)
	}
	if !ok || refreshToken == "" {
		return Response{}, fmt.Errorf("%w: key %s", ErrNoCachedCredential, b.keys.Refresh)
	}

	return b.refresh(ctx, refreshToken)
}

// Refresh обменивает refresh-токен предыдущего ответа на новую пару.
func (b *Broker) Refresh(ctx context.Context, refreshToken string) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.refresh(ctx, refreshToken)
}

func (b *Broker) refresh(ctx context.Context, refreshToken string) (Response, error) {
	if refreshToken == "" {
		return Response{}, fmt.Errorf("%w: empty refresh token", ErrRefreshExchange)
	}

	resp, err := b.exchanger.ExchangeRefreshToken(ctx, refreshToken)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrRefreshExchange, err)
	}

	b.log.Info().Int64("expires_in", resp.ExpiresIn).Msg("Refreshed token")
	return resp, nil
}

// Persist сохраняет пару токенов и возвращает ответ без изменений.
// Неполный ответ отклоняется до любой записи.
func (b *Broker) Persist(ctx context.Context, resp Response) (Response, error) {
	if err := resp.Validate(); err != nil {
		return Response{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.store.SetPair(ctx, b.keys.Access, resp.AccessToken, b.keys.Refresh, resp.RefreshToken); err != nil {
		return Response{}, fmt.Errorf("persist tokens: %w", err)
	}

	b.log.Debug().Str("access_key", b.keys.Access).Str("refresh_key", b.keys.Refresh).Msg("Persisted token pair")
	return resp, nil
}
