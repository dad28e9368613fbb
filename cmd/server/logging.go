package main

import (
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-oidc-session/internal/config"
)

// configureLogger installs the process wide logger: a coloured console in
// DEV, JSON lines everywhere else.
func configureLogger(c config.EnvConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	w := out
	if c.IsDevelopment() {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	logger := zerolog.New(w).With().Timestamp().Str("app", c.GetAppName()).Logger()

	log.Logger = logger
	zerolog.DefaultContextLogger = &logger
	return logger
}
