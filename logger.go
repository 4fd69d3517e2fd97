package framed

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the interface for structured logging.
// It is designed to be compatible with *slog.Logger from the standard
// library; arguments are alternating key-value pairs. Applications can
// provide their own implementation or rely on the zerolog-backed default.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, args ...any)
	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, args ...any)
	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, args ...any)
	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, args ...any)
}

// NewZerologLogger returns a Logger that writes through the given
// zerolog.Logger.
func NewZerologLogger(l zerolog.Logger) Logger {
	return &zerologLogger{logger: l}
}

// defaultLogger returns the default zerolog-backed logger writing to stderr.
// Faults the library reports on its own behalf (accept-loop errors, handler
// panics) end up here unless a logger is injected.
func defaultLogger() Logger {
	return NewZerologLogger(zerolog.New(os.Stderr).With().Timestamp().Logger())
}

// zerologLogger adapts a zerolog.Logger to the Logger interface.
type zerologLogger struct {
	logger zerolog.Logger
}

func (z *zerologLogger) Debug(msg string, args ...any) {
	z.logger.Debug().Fields(argsToFields(args)).Msg(msg)
}

func (z *zerologLogger) Info(msg string, args ...any) {
	z.logger.Info().Fields(argsToFields(args)).Msg(msg)
}

func (z *zerologLogger) Warn(msg string, args ...any) {
	z.logger.Warn().Fields(argsToFields(args)).Msg(msg)
}

func (z *zerologLogger) Error(msg string, args ...any) {
	z.logger.Error().Fields(argsToFields(args)).Msg(msg)
}

// argsToFields converts slog-style alternating key-value pairs into a field
// map for zerolog. Non-string keys are stringified; a trailing key without a
// value is dropped.
func argsToFields(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}

	fields := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		fields[key] = args[i+1]
	}

	return fields
}
