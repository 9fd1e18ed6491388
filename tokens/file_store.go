package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const TOKEN_FILE = ".secrets/twitch_tokens.json"

// FileStore хранит кэш токенов в JSON файле.
// Запись идёт во временный файл с последующим rename, права 0600.
type FileStore struct {
	Path string

	mu sync.Mutex
}

func (store *FileStore) tokenPath() string {
	if strings.TrimSpace(store.Path) == "" {
		return TOKEN_FILE
	}
	return store.Path
}

// Get читает значение ключа. Отсутствующий файл — пустой кэш.
func (store *FileStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	values, err := store.load()
	if err != nil {
		return "", false, err
	}
	value, ok := values[key]
	return value, ok, nil
}

func (store *FileStore) Set(ctx context.Context, key, value string) error {
	return store.update(ctx, map[string]string{key: value})
}

func (store *FileStore) SetPair(ctx context.Context, key1, value1, key2, value2 string) error {
	return store.update(ctx, map[string]string{key1: value1, key2: value2})
}

func (store *FileStore) update(ctx context.Context, changes map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	values, err := store.load()
	if err != nil {
		return err
	}
	for key, value := range changes {
		values[key] = value
	}
	return store.save(values)
}

func (store *FileStore) load() (map[string]string, error) {
	path := store.tokenPath()
	values := make(map[string]string)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file store: read file: %w", err)
	}
	if len(data) == 0 {
		return values, nil
	}

	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("file store: decode json: %w", err)
	}
	return values, nil
}

func (store *FileStore) save(values map[string]string) error {
	path := store.tokenPath()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("file store: create dir: %w", err)
	}

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("file store: encode json: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("file store: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("file store: chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("file store: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("file store: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file store: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("file store: rename: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
