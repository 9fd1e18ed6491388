// Package tokens управляет парой OAuth токенов бота: обмен кода или
// refresh-токена у провайдера и кэширование пары в хранилище.
package tokens

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAuthExchange — провайдер отклонил код авторизации. Повтора нет.
	ErrAuthExchange = errors.New("authorization code exchange failed")
	// ErrRefreshExchange — провайдер отклонил refresh-токен.
	ErrRefreshExchange = errors.New("refresh token exchange failed")
	// ErrNoCachedCredential — в хранилище нет refresh-токена.
	ErrNoCachedCredential = errors.New("no cached refresh token")
	// ErrMalformedTokenResponse — в ответе нет access или refresh токена.
	ErrMalformedTokenResponse = errors.New("malformed token response")
)

// Response — пара токенов от провайдера. Срок жизни и scope не сохраняются.
type Response struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	Scope        []string
	TokenType    string
}

// Validate проверяет, что оба токена присутствуют.
func (r Response) Validate() error {
	switch {
	case r.AccessToken == "" && r.RefreshToken == "":
		return fmt.Errorf("%w: access_token and refresh_token are empty", ErrMalformedTokenResponse)
	case r.AccessToken == "":
		return fmt.Errorf("%w: access_token is empty", ErrMalformedTokenResponse)
	case r.RefreshToken == "":
		return fmt.Errorf("%w: refresh_token is empty", ErrMalformedTokenResponse)
	}
	return nil
}

// Store — key/value хранилище кэша. Отсутствие ключа — ok=false без ошибки.
// SetPair пишет оба ключа атомарно.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SetPair(ctx context.Context, key1, value1, key2, value2 string) error
}

// Exchanger обменивает код или refresh-токен на новую пару.
type Exchanger interface {
	ExchangeAuthorizationCode(ctx context.Context, code string) (Response, error)
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (Response, error)
}

// Keys — имена ключей кэша для одного префикса.
type Keys struct {
	Access  string
	Refresh string
}

// KeysFor возвращает {prefix}.access_token и {prefix}.refresh_token.
func KeysFor(prefix string) Keys {
	return Keys{
		Access:  prefix + ".access_token",
		Refresh: prefix + ".refresh_token",
	}
}
