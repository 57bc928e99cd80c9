// Package logger provides a configured zerolog logger.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New returns a zerolog.Logger writing to stderr so it never mixes with command output.
func New(serviceName, level string) zerolog.Logger {
	return NewWithWriter(os.Stderr, serviceName, level)
}

// NewWithWriter is New with an explicit destination
func NewWithWriter(w io.Writer, serviceName, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().
		Str("service", serviceName).
		Timestamp().
		Logger()
}
