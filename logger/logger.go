// Package logger defines the logging interface used across go-ads and a
// default slog-backed implementation, so the protocol packages stay
// decoupled from any particular logging framework.
//
// Log levels, from least to most severe: DebugLevel, InfoLevel,
// WarnLevel, ErrorLevel, FatalLevel. FatalLevel terminates the process.
package logger

// LogLevel indicates the logging severity level.
type LogLevel = int8

const (
	// DebugLevel logs are voluminous and usually disabled in production.
	DebugLevel LogLevel = iota - 1
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel marks conditions worth noticing that need no immediate action.
	WarnLevel
	// ErrorLevel marks failures that require attention.
	ErrorLevel
	// FatalLevel logs a message, then calls os.Exit(1).
	FatalLevel
)

// Logger is the common structured logging interface. All methods accept
// alternating key-value pairs after the message. Implementations must be
// safe for concurrent use.
type Logger interface {
	// Debug logs a message at DebugLevel.
	Debug(msg string, keysAndValues ...any)
	// Info logs a message at InfoLevel.
	Info(msg string, keysAndValues ...any)
	// Warn logs a message at WarnLevel.
	Warn(msg string, keysAndValues ...any)
	// Error logs a message at ErrorLevel.
	Error(msg string, keysAndValues ...any)
	// Fatal logs a message at FatalLevel, then calls os.Exit(1) even if
	// FatalLevel is disabled.
	Fatal(msg string, keysAndValues ...any)
	// With returns a child logger with the given key-value pairs added to
	// every record. The child and parent do not affect each other.
	With(keyValues ...any) Logger
	// Level returns the minimum enabled level for this logger.
	Level() LogLevel
	// SetLevel sets the minimum enabled level for this logger.
	SetLevel(level LogLevel)
}
