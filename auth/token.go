// Package auth обменивает коды авторизации и refresh-токены Twitch
// через golang.org/x/oauth2.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"

	"twitch-chat-bridge/tokens"
)

// Exchanger реализует tokens.Exchanger поверх oauth2.Config.
type Exchanger struct {
	config oauth2.Config
}

// Option настраивает Exchanger.
type Option func(*oauth2.Config)

// WithTokenURL подменяет адрес выдачи токенов (для тестов).
func WithTokenURL(tokenURL string) Option {
	return func(c *oauth2.Config) {
		c.Endpoint.TokenURL = tokenURL
	}
}

// NewExchanger создает обменник для приложения creds.
func NewExchanger(creds Credentials, opts ...Option) *Exchanger {
	cfg := oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURI,
		Scopes:       creds.Scopes,
		Endpoint:     twitch.Endpoint,
	}
	cfg.Endpoint.AuthStyle = oauth2.AuthStyleInParams
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Exchanger{config: cfg}
}

// AuthCodeURL возвращает адрес страницы авторизации Twitch.
func (e *Exchanger) AuthCodeURL(state string) string {
	return e.config.AuthCodeURL(state, oauth2.SetAuthURLParam("force_verify", "true"))
}

func (e *Exchanger) ExchangeAuthorizationCode(ctx context.Context, code string) (tokens.Response, error) {
	tok, err := e.config.Exchange(ctx, code)
	if err != nil {
		return tokens.Response{}, fmt.Errorf("twitch oauth: exchange code: %w", err)
	}
	return toResponse(tok), nil
}

func (e *Exchanger) ExchangeRefreshToken(ctx context.Context, refreshToken string) (tokens.Response, error) {
	// Токен без access_token считается просроченным, поэтому TokenSource сразу идёт за новым.
	tok, err := e.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return tokens.Response{}, fmt.Errorf("twitch oauth: refresh: %w", err)
	}

	resp := toResponse(tok)
	// oauth2 подставляет отправленный refresh_token, если провайдер его не вернул;
	// такой ответ должен дойти до Persist пустым и быть отвергнут.
	if raw, _ := tok.Extra("refresh_token").(string); raw == "" {
		resp.RefreshToken = ""
	}
	return resp, nil
}

func toResponse(tok *oauth2.Token) tokens.Response {
	return tokens.Response{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn(tok),
		Scope:        scopes(tok.Extra("scope")),
		TokenType:    strings.ToLower(tok.TokenType),
	}
}

func expiresIn(tok *oauth2.Token) int64 {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	if tok.Expiry.IsZero() {
		return 0
	}
	return int64(math.Round(time.Until(tok.Expiry).Seconds()))
}

// Twitch отдаёт scope массивом; RFC 6749 допускает строку через пробел.
func scopes(raw interface{}) []string {
	switch v := raw.(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Fields(v)
	default:
		return nil
	}
}

var _ tokens.Exchanger = (*Exchanger)(nil)
