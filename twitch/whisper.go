package twitch

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/nicklaw5/helix/v2"
)

// ErrWhisperRejected — Helix не принял личное сообщение.
var ErrWhisperRejected = errors.New("twitch: whisper rejected")

// helixAPI — часть *helix.Client, которой пользуется Whisperer.
type helixAPI interface {
	GetUsers(params *helix.UsersParams) (*helix.UsersResponse, error)
	SendUserWhisper(params *helix.SendUserWhisperParams) (*helix.SendUserWhisperResponse, error)
}

// Whisperer отправляет личные сообщения через Helix POST /whispers.
// По IRC Twitch шёпот больше не принимает.
type Whisperer struct {
	api  helixAPI
	from string

	mu  sync.Mutex
	ids map[string]string
}

// NewWhisperer создаёт отправителя от имени from с пользовательским токеном сессии.
func NewWhisperer(clientID, accessToken, from string) (*Whisperer, error) {
	client, err := helix.NewClient(&helix.Options{
		ClientID:        clientID,
		UserAccessToken: strings.TrimPrefix(accessToken, "oauth:"),
	})
	if err != nil {
		return nil, fmt.Errorf("twitch: helix client: %w", err)
	}
	return newWhisperer(client, from), nil
}

func newWhisperer(api helixAPI, from string) *Whisperer {
	return &Whisperer{
		api:  api,
		from: normalizeChannel(from),
		ids:  make(map[string]string),
	}
}

// Send отправляет message пользователю to.
func (w *Whisperer) Send(to, message string) error {
	to = normalizeChannel(to)
	ids, err := w.userIDs(w.from, to)
	if err != nil {
		return err
	}

	resp, err := w.api.SendUserWhisper(&helix.SendUserWhisperParams{
		FromUserID: ids[0],
		ToUserID:   ids[1],
		Message:    message,
	})
	if err != nil {
		return fmt.Errorf("twitch: send whisper to %s: %w", to, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: %d %s", ErrWhisperRejected, resp.StatusCode, resp.ErrorMessage)
	}
	return nil
}

// userIDs возвращает id пользователей в порядке logins. Неизвестные
// логины запрашиваются одним GetUsers и кэшируются.
func (w *Whisperer) userIDs(logins ...string) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var missing []string
	for _, login := range logins {
		if _, ok := w.ids[login]; !ok {
			missing = append(missing, login)
		}
	}

	if len(missing) > 0 {
		resp, err := w.api.GetUsers(&helix.UsersParams{Logins: missing})
		if err != nil {
			return nil, fmt.Errorf("twitch: get users %v: %w", missing, err)
		}
		if resp.StatusCode >= http.StatusMultipleChoices {
			return nil, fmt.Errorf("%w: get users: %d %s", ErrWhisperRejected, resp.StatusCode, resp.ErrorMessage)
		}
		for _, user := range resp.Data.Users {
			w.ids[strings.ToLower(user.Login)] = user.ID
		}
	}

	out := make([]string, len(logins))
	for i, login := range logins {
		id, ok := w.ids[login]
		if !ok {
			return nil, fmt.Errorf("%w: unknown user %q", ErrWhisperRejected, login)
		}
		out[i] = id
	}
	return out, nil
}
