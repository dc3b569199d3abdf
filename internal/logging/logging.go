package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config describes logger runtime configuration.
type Config struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	TimeFormat  string `mapstructure:"time_format"`
	Caller      bool   `mapstructure:"caller"`
	PrettyPrint bool   `mapstructure:"pretty"`
}

// NewLogger constructs a zerolog logger writing to stdout.
func NewLogger(cfg Config) zerolog.Logger {
	return NewLoggerTo(cfg, os.Stdout)
}

// NewLoggerTo constructs a zerolog logger writing to out.
func NewLoggerTo(cfg Config, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	builder := zerolog.New(logWriter(cfg, out)).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service", "tradeguard")
	if cfg.Caller {
		builder = builder.Caller()
	}

	return builder.Logger()
}

// ParseLevel maps a textual level to zerolog, falling back to info.
func ParseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return parsed
}

func logWriter(cfg Config, out io.Writer) io.Writer {
	if cfg.PrettyPrint || strings.EqualFold(cfg.Format, "console") {
		return zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: zerolog.TimeFieldFormat,
			NoColor:    out != os.Stdout,
		}
	}
	return out
}
