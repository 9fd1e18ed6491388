package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultPath — путь к файлу конфигурации, если не указан -F.
const DefaultPath = "config.yaml"

// Config — итоговая конфигурация процесса: значения по умолчанию,
// перекрытые файлом, затем переменными окружения, затем флагами.
type Config struct {
	Redis      RedisConfig      `yaml:"redis" envPrefix:"REDIS_"`
	TMI        TMIConfig        `yaml:"tmi" envPrefix:"TMI_"`
	TokenStore TokenStoreConfig `yaml:"token_store" envPrefix:"TOKEN_STORE_"`
	Outbox     OutboxConfig     `yaml:"outbox" envPrefix:"OUTBOX_"`
	Log        LogConfig        `yaml:"log" envPrefix:"LOG_"`

	// AuthCode — одноразовый код авторизации, нужен только при первом запуске.
	AuthCode string `yaml:"auth_code" env:"AUTH_CODE"`

	// File — путь к прочитанному файлу; пусто, если файла не было.
	File string `yaml:"-"`
}

// RedisConfig содержит параметры брокера и префикс каналов.
type RedisConfig struct {
	Hostname      string `yaml:"hostname" env:"HOSTNAME"`
	Port          string `yaml:"port" env:"PORT"`
	Password      string `yaml:"password" env:"PASSWORD"`
	DB            int    `yaml:"db" env:"DB"`
	ChannelPrefix string `yaml:"channel_prefix" env:"CHANNEL_PREFIX"`
}

// TMIConfig содержит учётную запись бота и каналы Twitch.
type TMIConfig struct {
	Username  string   `yaml:"username" env:"USERNAME"`
	Channels  []string `yaml:"channels" env:"CHANNELS" envSeparator:","`
	CredsPath string   `yaml:"creds_path" env:"CREDS_PATH"`
}

// TokenStoreConfig выбирает, где кэшируется пара токенов.
type TokenStoreConfig struct {
	Backend     string `yaml:"backend" env:"BACKEND"`
	KeyPrefix   string `yaml:"key_prefix" env:"KEY_PREFIX"`
	PostgresDSN string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
	FilePath    string `yaml:"file_path" env:"FILE_PATH"`
}

// Бэкенды хранилища токенов.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendFile     = "file"
)

// OutboxConfig задаёт очередь публикации событий чата.
type OutboxConfig struct {
	Buffer         int           `yaml:"buffer" env:"BUFFER"`
	PublishTimeout time.Duration `yaml:"publish_timeout" env:"PUBLISH_TIMEOUT"`
	StatsLogEvery  time.Duration `yaml:"stats_log_every" env:"STATS_LOG_EVERY"`
}

// LogConfig задаёт уровень и оформление логов.
type LogConfig struct {
	Level   string `yaml:"level" env:"LEVEL"`
	NoColor bool   `yaml:"no_color" env:"NO_COLOR"`
}

// Option перекрывает значения после файла и окружения (флаги командной строки).
type Option func(*Config)

// WithAuthCode задаёт код авторизации из командной строки.
func WithAuthCode(code string) Option {
	return func(c *Config) {
		if code = strings.TrimSpace(code); code != "" {
			c.AuthCode = code
		}
	}
}

// Defaults возвращает значения по умолчанию.
func Defaults() Config {
	return Config{
		Redis: RedisConfig{
			Hostname:      "localhost",
			Port:          "6379",
			ChannelPrefix: "chatbridge",
		},
		TMI: TMIConfig{
			CredsPath: "./creds.json",
		},
		TokenStore: TokenStoreConfig{
			Backend:   BackendRedis,
			KeyPrefix: "chatbridge",
			FilePath:  ".secrets/twitch_tokens.json",
		},
		Outbox: OutboxConfig{
			Buffer:         1024,
			PublishTimeout: 5 * time.Second,
			StatsLogEvery:  5 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load собирает конфигурацию один раз при старте и валидирует её.
// Отсутствующий файл не ошибка: остаются значения по умолчанию.
func Load(path string, opts ...Option) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
		cfg.File = path
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: environment: %w", err)
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	cfg.TMI.Channels = normalizeChannels(cfg.TMI.Channels)
	cfg.TMI.Username = strings.TrimSpace(cfg.TMI.Username)
	cfg.TokenStore.Backend = strings.ToLower(strings.TrimSpace(cfg.TokenStore.Backend))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate проверяет обязательные поля.
func (c Config) Validate() error {
	if c.TMI.Username == "" {
		return fmt.Errorf("требуется tmi.username")
	}
	if len(c.TMI.Channels) == 0 {
		return fmt.Errorf("требуется tmi.channels")
	}
	if c.TMI.CredsPath == "" {
		return fmt.Errorf("требуется tmi.creds_path")
	}

	if c.Redis.Hostname == "" || c.Redis.Port == "" {
		return fmt.Errorf("требуются redis.hostname и redis.port")
	}
	if c.Redis.ChannelPrefix == "" {
		return fmt.Errorf("требуется redis.channel_prefix")
	}

	if c.TokenStore.KeyPrefix == "" {
		return fmt.Errorf("требуется token_store.key_prefix")
	}
	switch c.TokenStore.Backend {
	case BackendRedis:
	case BackendPostgres:
		if c.TokenStore.PostgresDSN == "" {
			return fmt.Errorf("для token_store.backend=postgres требуется token_store.postgres_dsn")
		}
	case BackendFile:
		if c.TokenStore.FilePath == "" {
			return fmt.Errorf("для token_store.backend=file требуется token_store.file_path")
		}
	default:
		return fmt.Errorf("неизвестный token_store.backend %q", c.TokenStore.Backend)
	}

	if c.Outbox.Buffer <= 0 {
		return fmt.Errorf("outbox.buffer должен быть больше нуля")
	}
	if c.Outbox.PublishTimeout <= 0 {
		return fmt.Errorf("outbox.publish_timeout должен быть больше нуля")
	}
	if c.Outbox.StatsLogEvery <= 0 {
		return fmt.Errorf("outbox.stats_log_every должен быть больше нуля")
	}

	return nil
}

// Channel возвращает канал, куда пересылаются команды say.
func (c TMIConfig) Channel() string {
	if len(c.Channels) == 0 {
		return ""
	}
	return c.Channels[0]
}

func normalizeChannels(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(p), "#"))
		if p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
