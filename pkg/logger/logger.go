// Package logger provides the package-wide zerolog logger used by every
// broker component.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the package-wide logger instance.
var Log zerolog.Logger

func init() {
	Log = zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()

	if os.Getenv("APP_ENV") != "production" {
		Log = Log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// GetLogger returns the package-wide logger instance.
func GetLogger() zerolog.Logger {
	return Log
}
