// Package logging собирает zerolog-логгер процесса.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"twitch-chat-bridge/config"
)

// New создаёт консольный логгер с уровнем из конфигурации.
// Колонка уровня раскрашивается, если не задан no_color.
func New(cfg config.LogConfig, out io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("logging: %w", err)
		}
		level = parsed
	}

	writer := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    cfg.NoColor,
		TimeFormat: time.RFC3339,
		FormatLevel: func(i interface{}) string {
			return formatLevel(i, cfg.NoColor)
		},
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Logger(), nil
}

func formatLevel(i interface{}, noColor bool) string {
	name, _ := i.(string)
	label := strings.ToUpper(name)
	if label == "" {
		label = "???"
	}
	label = fmt.Sprintf("%-5s", label)
	if noColor {
		return label
	}

	switch name {
	case zerolog.LevelTraceValue, zerolog.LevelDebugValue:
		return color.MagentaString(label)
	case zerolog.LevelInfoValue:
		return color.BlueString(label)
	case zerolog.LevelWarnValue:
		return color.YellowString(label)
	case zerolog.LevelErrorValue:
		return color.RedString(label)
	case zerolog.LevelFatalValue, zerolog.LevelPanicValue:
		return color.HiRedString(label)
	default:
		return label
	}
}
