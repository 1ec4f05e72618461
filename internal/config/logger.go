package config

import (
	"fmt"
	"io"
	"strings"

	"cosmossdk.io/log"
	"github.com/rs/zerolog"
)

// ParseLevel accepts zerolog level names; empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// NewLogger builds the root logger. Format is "plain" or "json".
func NewLogger(cfg LogConfig, w io.Writer) (log.Logger, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := []log.Option{log.LevelOption(lvl)}
	switch strings.ToLower(cfg.Format) {
	case "", "plain", "text":
		opts = append(opts, log.ColorOption(false))
	case "json":
		opts = append(opts, log.OutputJSONOption())
	default:
		return nil, fmt.Errorf("log.format must be plain or json, got %q", cfg.Format)
	}
	return log.NewLogger(w, opts...), nil
}
