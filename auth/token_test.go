package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"twitch-chat-bridge/broker/brokertest"
	"twitch-chat-bridge/tokens"
)

type fakeProvider struct {
	mu       sync.Mutex
	forms    []url.Values
	status   int
	response map[string]any
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	p.forms = append(p.forms, r.PostForm)
	status, response := p.status, p.response
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(response)
}

func newTestExchanger(t *testing.T, provider *fakeProvider) *Exchanger {
	t.Helper()
	srv := httptest.NewServer(provider)
	t.Cleanup(srv.Close)

	creds := Credentials{ClientID: "cid", ClientSecret: "secret", RedirectURI: "http://localhost/cb"}
	return NewExchanger(creds, WithTokenURL(srv.URL+"/oauth2/token"))
}

func TestExchangeAuthorizationCode(t *testing.T) {
	provider := &fakeProvider{response: map[string]any{
		"access_token":  "a1",
		"refresh_token": "r1",
		"expires_in":    14400,
		"scope":         []string{"chat:read", "chat:edit"},
		"token_type":    "bearer",
	}}
	e := newTestExchanger(t, provider)

	resp, err := e.ExchangeAuthorizationCode(context.Background(), "code-1")
	if err != nil {
		t.Fatalf("ExchangeAuthorizationCode returned error: %v", err)
	}

	if resp.AccessToken != "a1" || resp.RefreshToken != "r1" || resp.ExpiresIn != 14400 || resp.TokenType != "bearer" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(resp.Scope) != 2 || resp.Scope[0] != "chat:read" || resp.Scope[1] != "chat:edit" {
		t.Fatalf("unexpected scope: %v", resp.Scope)
	}

	form := provider.forms[0]
	if form.Get("grant_type") != "authorization_code" || form.Get("code") != "code-1" {
		t.Fatalf("unexpected form: %v", form)
	}
	if form.Get("client_id") != "cid" || form.Get("client_secret") != "secret" {
		t.Fatalf("client credentials should be sent in params: %v", form)
	}
	if form.Get("redirect_uri") != "http://localhost/cb" {
		t.Fatalf("unexpected redirect_uri: %v", form)
	}
}

func TestExchangeRefreshToken(t *testing.T) {
	provider := &fakeProvider{response: map[string]any{
		"access_token":  "a2",
		"refresh_token": "r2",
		"expires_in":    3600,
		"scope":         "chat:read whispers:edit",
		"token_type":    "bearer",
	}}
	e := newTestExchanger(t, provider)

	resp, err := e.ExchangeRefreshToken(context.Background(), "r1")
	if err != nil {
		t.Fatalf("ExchangeRefreshToken returned error: %v", err)
	}
	if resp.AccessToken != "a2" || resp.RefreshToken != "r2" || resp.ExpiresIn != 3600 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(resp.Scope) != 2 || resp.Scope[1] != "whispers:edit" {
		t.Fatalf("unexpected scope: %v", resp.Scope)
	}

	form := provider.forms[0]
	if form.Get("grant_type") != "refresh_token" || form.Get("refresh_token") != "r1" {
		t.Fatalf("unexpected form: %v", form)
	}
}

func TestRefreshWithoutRefreshTokenIsNotPersisted(t *testing.T) {
	provider := &fakeProvider{response: map[string]any{
		"access_token": "new-access",
		"token_type":   "bearer",
		"expires_in":   3600,
	}}
	e := newTestExchanger(t, provider)

	resp, err := e.ExchangeRefreshToken(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("ExchangeRefreshToken returned error: %v", err)
	}
	if resp.AccessToken != "new-access" || resp.RefreshToken != "" {
		t.Fatalf("refresh token must not be carried over: %+v", resp)
	}

	ctx := context.Background()
	store := brokertest.New()
	if err := store.SetPair(ctx, "bot.access_token", "old-access", "bot.refresh_token", "old-refresh"); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	mgr := tokens.NewBroker(store, e, "bot", zerolog.Nop())

	refreshed, err := mgr.Refresh(ctx, "old-refresh")
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if _, err := mgr.Persist(ctx, refreshed); !errors.Is(err, tokens.ErrMalformedTokenResponse) {
		t.Fatalf("expected ErrMalformedTokenResponse, got %v", err)
	}
	if v, _, _ := store.Get(ctx, "bot.access_token"); v != "old-access" {
		t.Fatalf("access token overwritten: %q", v)
	}
}

func TestExchangeRejected(t *testing.T) {
	provider := &fakeProvider{
		status:   http.StatusBadRequest,
		response: map[string]any{"status": 400, "message": "Invalid refresh token"},
	}
	e := newTestExchanger(t, provider)

	if _, err := e.ExchangeRefreshToken(context.Background(), "bad"); err == nil {
		t.Fatalf("expected error for rejected refresh")
	}
	if _, err := e.ExchangeAuthorizationCode(context.Background(), "bad"); err == nil {
		t.Fatalf("expected error for rejected code")
	}
}

func TestAuthCodeURL(t *testing.T) {
	e := NewExchanger(Credentials{ClientID: "cid", RedirectURI: "http://localhost/cb", Scopes: []string{"chat:read", "chat:edit"}})

	raw := e.AuthCodeURL("state-1")
	if !strings.HasPrefix(raw, "https://id.twitch.tv/oauth2/authorize?") {
		t.Fatalf("unexpected url: %s", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := u.Query()
	if q.Get("client_id") != "cid" || q.Get("response_type") != "code" || q.Get("state") != "state-1" {
		t.Fatalf("unexpected query: %v", q)
	}
	if q.Get("scope") != "chat:read chat:edit" {
		t.Fatalf("unexpected scope: %q", q.Get("scope"))
	}
}

func TestLoadCredentials(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "creds.json")
	if err := os.WriteFile(path, []byte(`{"client_id":" cid ","client_secret":"s","redirect_uri":"http://localhost","scopes":["chat:read"]}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	creds, err := LoadCredentials(path)
	if err != nil {
		t.Fatalf("LoadCredentials returned error: %v", err)
	}
	if creds.ClientID != "cid" || creds.ClientSecret != "s" || len(creds.Scopes) != 1 {
		t.Fatalf("unexpected creds: %+v", creds)
	}

	missing := filepath.Join(dir, "missing_id.json")
	if err := os.WriteFile(missing, []byte(`{"client_secret":"s"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadCredentials(missing); err == nil || !strings.Contains(err.Error(), "client_id") {
		t.Fatalf("expected missing client_id error, got %v", err)
	}

	if _, err := LoadCredentials(filepath.Join(dir, "absent.json")); err == nil {
		t.Fatalf("expected error for absent file")
	}
}
