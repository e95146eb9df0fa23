package logger

// std is the process-wide default logger. Packages that take no explicit
// Logger fall back to it through GetLogger.
var std = NewSlog(InfoLevel, false)

// GetLogger returns the default logger.
func GetLogger() Logger { return std }

// SetLogger replaces the default logger. Meant for program startup,
// before components capture the default; components that already hold a
// logger keep the one they captured.
func SetLogger(l Logger) {
	if l != nil {
		std = l
	}
}

// SetLevel sets the minimum enabled level of the default logger.
func SetLevel(level LogLevel) { std.SetLevel(level) }

// Debug logs a message at DebugLevel on the default logger.
func Debug(msg string, keysAndValues ...any) { std.Debug(msg, keysAndValues...) }

// Info logs a message at InfoLevel on the default logger.
func Info(msg string, keysAndValues ...any) { std.Info(msg, keysAndValues...) }

// Warn logs a message at WarnLevel on the default logger.
func Warn(msg string, keysAndValues ...any) { std.Warn(msg, keysAndValues...) }

// Error logs a message at ErrorLevel on the default logger.
func Error(msg string, keysAndValues ...any) { std.Error(msg, keysAndValues...) }

// Fatal logs a message at FatalLevel on the default logger, then exits.
func Fatal(msg string, keysAndValues ...any) { std.Fatal(msg, keysAndValues...) }

// With returns a child of the default logger with the given key-value
// pairs added to every record.
func With(keyValues ...any) Logger { return std.With(keyValues...) }
