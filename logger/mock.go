package logger

import (
	"github.com/stretchr/testify/mock"
)

// MockLogger is a testify mock of the Logger interface for asserting on
// log calls in tests.
type MockLogger struct {
	mock.Mock
}

var _ Logger = (*MockLogger)(nil)

func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

// Quiet pre-registers all output methods, for tests that need a logger
// dependency but assert nothing about logging. Fatal stays unregistered
// so an unexpected Fatal still fails the test.
func (m *MockLogger) Quiet() *MockLogger {
	for _, method := range []string{"Debug", "Info", "Warn", "Error"} {
		m.On(method, mock.Anything, mock.Anything).Return()
	}

	return m
}

// record forwards one log call under its interface method name, keeping
// the key-value pairs as a single slice argument for matching.
func (m *MockLogger) record(method, msg string, keysAndValues []any) {
	m.MethodCalled(method, msg, keysAndValues)
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) { m.record("Debug", msg, keysAndValues) }
func (m *MockLogger) Info(msg string, keysAndValues ...any)  { m.record("Info", msg, keysAndValues) }
func (m *MockLogger) Warn(msg string, keysAndValues ...any)  { m.record("Warn", msg, keysAndValues) }
func (m *MockLogger) Error(msg string, keysAndValues ...any) { m.record("Error", msg, keysAndValues) }
func (m *MockLogger) Fatal(msg string, keysAndValues ...any) { m.record("Fatal", msg, keysAndValues) }

func (m *MockLogger) SetLevel(level LogLevel) {
	m.Called(level)
}

func (m *MockLogger) Level() LogLevel {
	args := m.Called()

	return args.Get(0).(LogLevel)
}

func (m *MockLogger) With(keyValues ...any) Logger {
	args := m.Called(keyValues...)

	return args.Get(0).(Logger)
}
