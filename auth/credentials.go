package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrMissingClientID — в файле учётных данных нет client_id.
var ErrMissingClientID = errors.New("credentials: client_id is required")

// Credentials — учётные данные приложения Twitch из JSON файла.
type Credentials struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RedirectURI  string   `json:"redirect_uri"`
	Scopes       []string `json:"scopes"`
}

// LoadCredentials читает файл учётных данных.
func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("credentials: read file: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("credentials: decode json: %w", err)
	}

	creds.ClientID = strings.TrimSpace(creds.ClientID)
	creds.ClientSecret = strings.TrimSpace(creds.ClientSecret)
	creds.RedirectURI = strings.TrimSpace(creds.RedirectURI)
	if creds.ClientID == "" {
		return Credentials{}, fmt.Errorf("%w (%s)", ErrMissingClientID, path)
	}

	return creds, nil
}
