package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"twitch-chat-bridge/chat"
	"twitch-chat-bridge/chat/chattest"
	"twitch-chat-bridge/tokens"
)

type trace struct {
	mu    sync.Mutex
	steps []string
}

func (t *trace) add(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, fmt.Sprintf(format, args...))
}

func (t *trace) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.steps...)
}

type stubRefresher struct {
	trace      *trace
	next       tokens.Response
	refreshErr error
}

func (r *stubRefresher) Refresh(_ context.Context, refreshToken string) (tokens.Response, error) {
	r.trace.add("refresh %s", refreshToken)
	if r.refreshErr != nil {
		return tokens.Response{}, r.refreshErr
	}
	return r.next, nil
}

func (r *stubRefresher) Persist(_ context.Context, resp tokens.Response) (tokens.Response, error) {
	r.trace.add("persist %s", resp.AccessToken)
	return resp, nil
}

type stubEvents struct{ trace *trace }

func (e *stubEvents) Register(chat.Connection) { e.trace.add("register") }
func (e *stubEvents) Unregister(chat.Connection) int {
	e.trace.add("unregister")
	return 0
}

type stubCommands struct{ trace *trace }

func (c *stubCommands) Attach(context.Context, chat.Connection) error {
	c.trace.add("attach")
	return nil
}
func (c *stubCommands) Detach() { c.trace.add("detach") }

type harness struct {
	trace     *trace
	refresher *stubRefresher
	conns     chan *chattest.Conn
	sessions  chan Session
	sup       *Supervisor
}

func newHarness() *harness {
	h := &harness{
		trace:    &trace{},
		conns:    make(chan *chattest.Conn, 4),
		sessions: make(chan Session, 4),
	}
	h.refresher = &stubRefresher{trace: h.trace, next: tokens.Response{AccessToken: "a2", RefreshToken: "r2"}}
	h.sup = New(Options{
		Username: "bot",
		Channels: []string{"chan"},
		Dial: func(sess Session) chat.Connection {
			h.trace.add("dial %s", sess.Token.AccessToken)
			conn := chattest.NewConn()
			h.conns <- conn
			h.sessions <- sess
			return conn
		},
		Tokens:   h.refresher,
		Events:   &stubEvents{trace: h.trace},
		Commands: &stubCommands{trace: h.trace},
	}, zerolog.Nop())
	return h
}

func (h *harness) nextConn(t *testing.T) *chattest.Conn {
	t.Helper()
	select {
	case conn := <-h.conns:
		select {
		case <-conn.Connected():
		case <-time.After(2 * time.Second):
			t.Fatalf("connection was not opened")
		}
		return conn
	case <-time.After(2 * time.Second):
		t.Fatalf("no connection dialed")
	}
	return nil
}

func waitForState(t *testing.T, sup *Supervisor, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sup.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected state %s, got %s", want, sup.State())
}

func indexOf(steps []string, step string) int {
	for i, s := range steps {
		if s == step {
			return i
		}
	}
	return -1
}

func TestReconnectDetachesBeforeRefreshAndDialsOnce(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.sup.Run(ctx, tokens.Response{AccessToken: "a1", RefreshToken: "r1"}) }()

	first := h.nextConn(t)
	waitForState(t, h.sup, StateConnected)
	firstSession := <-h.sessions

	first.Drop("eof")

	second := h.nextConn(t)
	waitForState(t, h.sup, StateConnected)
	secondSession := <-h.sessions

	if first.Len() != 0 {
		t.Fatalf("listeners left on dropped connection: %d", first.Len())
	}
	if secondSession.Token.AccessToken != "a2" || secondSession.ID == firstSession.ID {
		t.Fatalf("expected fresh session, got %+v", secondSession)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if second.ReadyState() != chat.StateClosed {
		t.Fatalf("live connection was not closed")
	}
	if h.sup.State() != StateIdle {
		t.Fatalf("expected idle after shutdown, got %s", h.sup.State())
	}

	steps := h.trace.snapshot()
	want := []string{
		"dial a1", "register", "attach",
		"detach", "unregister", "refresh r1", "persist a2",
		"dial a2", "register", "attach",
		"detach", "unregister",
	}
	if strings.Join(steps, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected steps:\n got %v\nwant %v", steps, want)
	}

	dials := 0
	for _, s := range steps {
		if strings.HasPrefix(s, "dial") {
			dials++
		}
	}
	if dials != 2 {
		t.Fatalf("expected 2 dials, got %d", dials)
	}
}

func TestRefreshFailureStopsSupervisor(t *testing.T) {
	h := newHarness()
	h.refresher.refreshErr = fmt.Errorf("%w: invalid refresh token", tokens.ErrRefreshExchange)

	done := make(chan error, 1)
	go func() { done <- h.sup.Run(context.Background(), tokens.Response{AccessToken: "a1", RefreshToken: "r1"}) }()

	first := h.nextConn(t)
	first.Drop("eof")

	select {
	case err := <-done:
		if !errors.Is(err, tokens.ErrRefreshExchange) {
			t.Fatalf("expected ErrRefreshExchange, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after refresh failure")
	}

	if h.sup.State() != StateFailed {
		t.Fatalf("expected failed state, got %s", h.sup.State())
	}

	steps := h.trace.snapshot()
	if indexOf(steps, "detach") > indexOf(steps, "refresh r1") {
		t.Fatalf("bridges must be detached before refresh: %v", steps)
	}
	if indexOf(steps, "persist a2") != -1 {
		t.Fatalf("persist should not run after failed refresh: %v", steps)
	}
	select {
	case <-h.conns:
		t.Fatalf("no further dial expected after refresh failure")
	default:
	}
}

func TestConnectFailureTriggersRefresh(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	failing := true
	h.sup.opts.Dial = func(sess Session) chat.Connection {
		h.trace.add("dial %s", sess.Token.AccessToken)
		conn := chattest.NewConn()
		if failing {
			failing = false
			conn.FailConnect(errors.New("login authentication failed"))
		}
		h.conns <- conn
		return conn
	}

	done := make(chan error, 1)
	go func() { done <- h.sup.Run(ctx, tokens.Response{AccessToken: "a1", RefreshToken: "r1"}) }()

	<-h.conns
	h.nextConn(t)
	waitForState(t, h.sup, StateConnected)

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if indexOf(h.trace.snapshot(), "refresh r1") == -1 {
		t.Fatalf("expected refresh after connect failure")
	}
}

// silentConn завершает Connect ошибкой, не испуская disconnected.
type silentConn struct{ *chattest.Conn }

func (c silentConn) Connect(context.Context) error {
	return errors.New("dial tcp: connection refused")
}

func TestConnectErrorWithoutDisconnectedTriggersRefresh(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	silent := true
	h.sup.opts.Dial = func(sess Session) chat.Connection {
		h.trace.add("dial %s", sess.Token.AccessToken)
		conn := chattest.NewConn()
		h.conns <- conn
		if silent {
			silent = false
			return silentConn{conn}
		}
		return conn
	}

	done := make(chan error, 1)
	go func() { done <- h.sup.Run(ctx, tokens.Response{AccessToken: "a1", RefreshToken: "r1"}) }()

	<-h.conns
	h.nextConn(t)
	waitForState(t, h.sup, StateConnected)

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	steps := h.trace.snapshot()
	if indexOf(steps, "refresh r1") == -1 || indexOf(steps, "dial a2") == -1 {
		t.Fatalf("expected refresh and redial after connect error: %v", steps)
	}
}

func TestStateString(t *testing.T) {
	if StateRefreshing.String() != "refreshing" || State(99).String() != "unknown" {
		t.Fatalf("unexpected state names")
	}
}
