package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/phsym/console-slog"
)

// SlogLogger adapts log/slog to the Logger interface. The level is held
// in a slog.LevelVar shared with child loggers, so SetLevel on any of
// them takes effect everywhere.
type SlogLogger struct {
	mu     sync.Mutex
	logger *slog.Logger
	level  *slog.LevelVar
	output io.Writer
}

// NewSlog returns a Logger writing to stdout. With ENV=development it
// renders colorized console output through console-slog, otherwise
// single-line JSON with the timestamp under the "ts" key.
func NewSlog(level LogLevel, addSource bool) Logger {
	inst := &SlogLogger{
		output: os.Stdout,
		level:  &slog.LevelVar{},
	}
	inst.level.Set(toSlogLevel(level))
	inst.logger = slog.New(inst.newHandler(addSource))

	return inst
}

func (l *SlogLogger) newHandler(addSource bool) slog.Handler {
	if os.Getenv("ENV") == "development" {
		return console.NewHandler(l.output, &console.HandlerOptions{
			AddSource: true,
			Level:     l.level,
		})
	}

	return slog.NewJSONHandler(l.output, &slog.HandlerOptions{
		AddSource: addSource,
		Level:     l.level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "ts"
			}
			return a
		},
	})
}

func (l *SlogLogger) Debug(msg string, keysAndValues ...any) {
	l.emit(slog.LevelDebug, msg, keysAndValues)
}

func (l *SlogLogger) Info(msg string, keysAndValues ...any) {
	l.emit(slog.LevelInfo, msg, keysAndValues)
}

func (l *SlogLogger) Warn(msg string, keysAndValues ...any) {
	l.emit(slog.LevelWarn, msg, keysAndValues)
}

func (l *SlogLogger) Error(msg string, keysAndValues ...any) {
	l.emit(slog.LevelError, msg, keysAndValues)
}

func (l *SlogLogger) Fatal(msg string, keysAndValues ...any) {
	l.emit(slog.LevelError, msg, keysAndValues)
	os.Exit(1)
}

func (l *SlogLogger) With(keyValues ...any) Logger {
	return &SlogLogger{
		logger: l.logger.With(keyValues...),
		level:  l.level,
		output: l.output,
	}
}

func (l *SlogLogger) Level() LogLevel {
	switch l.level.Level() {
	case slog.LevelDebug:
		return DebugLevel
	case slog.LevelInfo:
		return InfoLevel
	case slog.LevelWarn:
		return WarnLevel
	default:
		return ErrorLevel
	}
}

func (l *SlogLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.level.Set(toSlogLevel(level))
}

// emit builds the record with the caller's pc. It must be called
// directly by an exported logging method; the callers-skip count
// assumes exactly one intermediate frame.
func (l *SlogLogger) emit(level slog.Level, msg string, args []any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}

	var pcs [1]uintptr
	// skip [runtime.Callers, emit, emit's caller]
	runtime.Callers(3, pcs[:])

	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = l.logger.Handler().Handle(ctx, r)
}

func toSlogLevel(level LogLevel) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
