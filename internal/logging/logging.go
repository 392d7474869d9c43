// Package logging provides category-tagged logging for the bot.
// All logging goes through the shared zerolog logger configured here.
package logging

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Category constants for consistent logging categories.
const (
	CategoryApp           = "App"
	CategoryBot           = "Bot"
	CategoryAudio         = "Audio"
	CategoryTranscription = "Transcription"
	CategorySpeaker       = "Speaker"
	CategoryRecording     = "Recording"
	CategoryControl       = "Control"
	CategoryChat          = "Chat"
	CategoryPlatform      = "Platform"
)

var (
	once sync.Once
	base zerolog.Logger
)

// Init initializes the global logger and applies the given level. The
// logger itself is built once; the level may be re-applied later, so a
// level loaded from configuration takes effect even when something logged
// during startup. An unrecognized level falls back to info.
func Init(level string) {
	once.Do(func() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		zerolog.TimeFieldFormat = time.RFC3339

		base = zerolog.New(os.Stdout).With().
			Timestamp().
			Str("service", "coralie-meeting-bot").
			Logger()
	})
	if level != "" {
		if parsed, err := zerolog.ParseLevel(level); err == nil {
			zerolog.SetGlobalLevel(parsed)
		}
	}
}

func logger() zerolog.Logger {
	Init("")
	return base
}

// Base returns the configured base logger instance.
func Base() zerolog.Logger {
	return logger()
}

// Debug logs a debug message.
func Debug(category, msg string, params ...interface{}) {
	l := logger()
	l.Debug().Str("category", category).Msg(format(msg, params))
}

// Info logs an info message.
func Info(category, msg string, params ...interface{}) {
	l := logger()
	l.Info().Str("category", category).Msg(format(msg, params))
}

// Warning logs a warning message.
func Warning(category, msg string, params ...interface{}) {
	l := logger()
	l.Warn().Str("category", category).Msg(format(msg, params))
}

// Error logs an error message.
func Error(category, msg string, params ...interface{}) {
	l := logger()
	l.Error().Str("category", category).Msg(format(msg, params))
}

// Fail logs a fatal-severity message without exiting; callers decide
// whether to terminate.
func Fail(category, msg string, params ...interface{}) {
	l := logger()
	l.Error().Str("category", category).Bool("fatal", true).Msg(format(msg, params))
}

func format(msg string, params []interface{}) string {
	if len(params) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, params...)
}
