// Package service держит ровно одно живое соединение с чатом и
// пересобирает его после разрыва со свежей парой токенов.
package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"twitch-chat-bridge/chat"
	"twitch-chat-bridge/tokens"
)

// Session — неизменяемый контекст одной попытки обслуживания.
// После каждого обновления токенов создаётся новая сессия.
type Session struct {
	ID       uuid.UUID
	Username string
	Channels []string
	Token    tokens.Response
}

// Dialer создаёт новое, ещё не подключённое соединение для сессии.
type Dialer func(Session) chat.Connection

// Refresher обновляет и сохраняет пару токенов.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (tokens.Response, error)
	Persist(ctx context.Context, resp tokens.Response) (tokens.Response, error)
}

// EventBridge публикует события соединения.
type EventBridge interface {
	Register(conn chat.Connection)
	Unregister(conn chat.Connection) int
}

// CommandBridge пересылает команды в соединение.
type CommandBridge interface {
	Attach(ctx context.Context, conn chat.Connection) error
	Detach()
}

// Options — зависимости супервизора.
type Options struct {
	Username string
	Channels []string
	Dial     Dialer
	Tokens   Refresher
	Events   EventBridge
	Commands CommandBridge

	// RetryDelay — пауза перед обновлением, если соединение так и не открылось.
	RetryDelay time.Duration
}

// Supervisor управляет жизненным циклом соединения.
type Supervisor struct {
	opts  Options
	log   zerolog.Logger
	state atomic.Int32
}

// New создаёт супервизор в состоянии idle.
func New(opts Options, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		opts: opts,
		log:  log.With().Str("component", "supervisor").Logger(),
	}
}

// State возвращает текущее состояние.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Run обслуживает соединения, начиная с token, пока не отменён ctx
// или не сломалось обновление токенов.
func (s *Supervisor) Run(ctx context.Context, token tokens.Response) error {
	sess := s.newSession(token)

	for {
		opened, err := s.serve(ctx, sess)
		if ctx.Err() != nil {
			s.setState(StateIdle, sess)
			return ctx.Err()
		}
		if err != nil {
			s.setState(StateFailed, sess)
			return err
		}

		if !opened && s.opts.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				s.setState(StateIdle, sess)
				return ctx.Err()
			case <-time.After(s.opts.RetryDelay):
			}
		}

		next, err := s.refresh(ctx, sess)
		if err != nil {
			if ctx.Err() != nil {
				s.setState(StateIdle, sess)
				return ctx.Err()
			}
			s.setState(StateFailed, sess)
			return fmt.Errorf("reconnect: %w", err)
		}
		sess = next
	}
}

// serve подключает одно соединение и ждёт его разрыва. К моменту возврата
// все слушатели мостов сняты. opened — соединение успело открыться.
func (s *Supervisor) serve(ctx context.Context, sess Session) (bool, error) {
	s.setState(StateConnecting, sess)

	conn := s.opts.Dial(sess)
	s.opts.Events.Register(conn)
	if err := s.opts.Commands.Attach(ctx, conn); err != nil {
		s.opts.Events.Unregister(conn)
		return false, fmt.Errorf("attach commands: %w", err)
	}

	var opened atomic.Bool
	connectedID := conn.On(chat.KindConnected, func(chat.Event) {
		opened.Store(true)
		s.setState(StateConnected, sess)
	})

	disconnected := make(chan string, 1)
	var disconnectID chat.ListenerID
	disconnectID = conn.On(chat.KindDisconnected, func(ev chat.Event) {
		conn.Off(disconnectID)
		reason, _ := ev.Arg("reason")
		select {
		case disconnected <- fmt.Sprint(reason):
		default:
		}
	})

	connErr := make(chan error, 1)
	go func() {
		connErr <- conn.Connect(ctx)
	}()

	var (
		reason string
		err    error
	)
	select {
	case reason = <-disconnected:
		err = <-connErr
	case err = <-connErr:
		select {
		case reason = <-disconnected:
		default:
			// Connect вернулся, не испустив disconnected.
			reason = "connect returned"
		}
	case <-ctx.Done():
		_ = conn.Close()
		<-connErr
		s.teardown(conn, connectedID, disconnectID)
		return opened.Load(), ctx.Err()
	}

	s.setState(StateDisconnected, sess)
	s.teardown(conn, connectedID, disconnectID)

	event := s.log.Warn().Str("session", sess.ID.String()).Str("reason", reason)
	if err != nil {
		event = event.Err(err)
	}
	event.Msg("Chat connection lost")

	return opened.Load(), nil
}

// teardown снимает всё, что serve повесил на соединение.
func (s *Supervisor) teardown(conn chat.Connection, ids ...chat.ListenerID) {
	s.opts.Commands.Detach()
	s.opts.Events.Unregister(conn)
	for _, id := range ids {
		conn.Off(id)
	}
}

func (s *Supervisor) refresh(ctx context.Context, sess Session) (Session, error) {
	s.setState(StateRefreshing, sess)

	resp, err := s.opts.Tokens.Refresh(ctx, sess.Token.RefreshToken)
	if err != nil {
		return Session{}, err
	}
	resp, err = s.opts.Tokens.Persist(ctx, resp)
	if err != nil {
		return Session{}, err
	}
	return s.newSession(resp), nil
}

func (s *Supervisor) newSession(token tokens.Response) Session {
	return Session{
		ID:       uuid.New(),
		Username: s.opts.Username,
		Channels: append([]string(nil), s.opts.Channels...),
		Token:    token,
	}
}

func (s *Supervisor) setState(state State, sess Session) {
	prev := State(s.state.Swap(int32(state)))
	if prev == state {
		return
	}
	s.log.Info().
		Str("session", sess.ID.String()).
		Stringer("from", prev).
		Stringer("state", state).
		Msg("Supervisor state changed")
}
