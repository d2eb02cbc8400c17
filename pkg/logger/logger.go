package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger. One instance is constructed at startup per
// process and threaded through constructors; packages never reach for a
// global.
type Logger struct {
	zerolog.Logger
}

// New builds the process logger: console-pretty in development, JSON to
// stdout everywhere else, debug level only in development and test.
func New(serviceName string, environment string) *Logger {
	var output io.Writer = os.Stdout
	level := zerolog.InfoLevel

	switch environment {
	case "development":
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		level = zerolog.DebugLevel
	case "test":
		level = zerolog.DebugLevel
	}

	l := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()

	return &Logger{Logger: l}
}

// with returns a child logger with one extra string field attached.
func (l *Logger) with(key, value string) *Logger {
	return &Logger{Logger: l.Logger.With().Str(key, value).Logger()}
}

// WithRequestID attaches the request id for every subsequent line.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.with("request_id", requestID)
}

// WithTenantID attaches the tenant id.
func (l *Logger) WithTenantID(tenantID string) *Logger {
	return l.with("tenant_id", tenantID)
}

// WithUserID attaches the acting user's id.
func (l *Logger) WithUserID(userID string) *Logger {
	return l.with("user_id", userID)
}

// WithCorrelationID attaches the broker correlation id.
func (l *Logger) WithCorrelationID(correlationID string) *Logger {
	return l.with("correlation_id", correlationID)
}

// WithComponent names the subsystem emitting the lines.
func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// WithError attaches an error for every subsequent line.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Logger: l.Logger.With().Err(err).Logger()}
}
