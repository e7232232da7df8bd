// Package logger provides the structured logging interface used across the
// module, backed by zerolog. Adapters and primitives accept a Logger and fall
// back to NewNopLogger when none is given.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Field represents a key-value pair for structured log output.
type Field struct {
	Key   string
	Value any
}

// ErrorField returns the conventional "error" field for err.
func ErrorField(err error) Field {
	return Field{Key: "error", Value: err}
}

// Logger is an interface for structured logging. Loggers may be derived with
// With for component- or connection-scoped fields.
type Logger interface {
	// Debug logs a message at debug level with optional structured fields.
	Debug(msg string, fields ...Field)

	// Info logs a message at info level with optional structured fields.
	Info(msg string, fields ...Field)

	// Warn logs a message at warn level with optional structured fields.
	Warn(msg string, fields ...Field)

	// Error logs a message at error level with optional structured fields.
	Error(msg string, fields ...Field)

	// With returns a new Logger that includes the given fields in all
	// subsequent log entries. The original Logger is unchanged.
	//
	// Parameters:
	//   - fields: Key-value pairs to attach to the derived logger
	//
	// Returns:
	//   - A new Logger with the specified fields
	With(fields ...Field) Logger

	// Close flushes or releases resources held by the logger. It is safe to
	// call multiple times.
	Close() error
}

// zerologLogger is the zerolog-based implementation of Logger.
type zerologLogger struct {
	logger zerolog.Logger
	closer io.Closer
}

// NewZerologLogger builds a Logger that wraps l, adding a component name and a
// timestamp to every entry and filtering by level.
//
// Parameters:
//   - l: The zerolog.Logger to wrap
//   - component: Name added as the "component" field of every entry
//   - level: Minimum level to log (e.g. zerolog.InfoLevel)
//
// Returns:
//   - A Logger that writes through the given zerolog instance
func NewZerologLogger(l zerolog.Logger, component string, level zerolog.Level) Logger {
	return &zerologLogger{
		logger: l.With().Str("component", component).Timestamp().Logger().Level(level),
	}
}

// NewConsoleLogger builds a human-readable Logger writing to stderr, for the
// command line tool.
func NewConsoleLogger(component string, level zerolog.Level) Logger {
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	return NewZerologLogger(zerolog.New(w), component, level)
}

// NewWriterLogger builds a JSON Logger writing to w. If w is also an
// io.Closer, Close closes it.
func NewWriterLogger(w io.Writer, component string, level zerolog.Level) Logger {
	z := NewZerologLogger(zerolog.New(w), component, level).(*zerologLogger)
	if c, ok := w.(io.Closer); ok {
		z.closer = c
	}

	return z
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger {
	return &zerologLogger{logger: zerolog.Nop()}
}

// Debug implements Logger.
func (z *zerologLogger) Debug(msg string, fields ...Field) {
	z.logger.Debug().Fields(toMap(fields)).Msg(msg)
}

// Info implements Logger.
func (z *zerologLogger) Info(msg string, fields ...Field) {
	z.logger.Info().Fields(toMap(fields)).Msg(msg)
}

// Warn implements Logger.
func (z *zerologLogger) Warn(msg string, fields ...Field) {
	z.logger.Warn().Fields(toMap(fields)).Msg(msg)
}

// Error implements Logger.
func (z *zerologLogger) Error(msg string, fields ...Field) {
	z.logger.Error().Fields(toMap(fields)).Msg(msg)
}

// With implements Logger. Derived loggers never close the parent's writer.
func (z *zerologLogger) With(fields ...Field) Logger {
	return &zerologLogger{
		logger: z.logger.With().Fields(toMap(fields)).Logger(),
	}
}

// Close implements Logger.
func (z *zerologLogger) Close() error {
	if z.closer == nil {
		return nil
	}

	c := z.closer
	z.closer = nil
	return c.Close()
}

// toMap converts a slice of Field into a map for zerolog.
func toMap(fields []Field) map[string]any {
	if len(fields) == 0 {
		return nil
	}

	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}

	return m
}
