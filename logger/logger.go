// Package logger bootstraps the framework's zerolog logger.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Logger is the framework-wide logger. Components derive child loggers
// from it via Component.
var Logger zerolog.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init configures the global logger from LOG_LEVEL and LOG_FORMAT.
func Init() {
	InitWithWriter(os.Stdout)
}

// InitWithWriter is Init with an explicit sink, mainly for tests.
func InitWithWriter(w io.Writer) {
	level, err := zerolog.ParseLevel(envOr("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}

	if envOr("LOG_FORMAT", "console") == "json" {
		Logger = zerolog.New(w).With().Timestamp().Logger().Level(level)
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger().Level(level)
	}

	zlog.Logger = Logger
}

// Component returns a child logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
