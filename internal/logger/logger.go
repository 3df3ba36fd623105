package logger

// Logger is the structured logging interface used throughout rollq.
// Fields are passed as alternating key, value pairs.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	// Error logs msg at error level with err attached under the "error" key.
	Error(msg string, err error, fields ...interface{})
}

// Closeable is implemented by loggers holding resources such as open files.
type Closeable interface {
	Close() error
}

// NoOpLogger discards everything. Queues fall back to it when no logger is given.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, ...interface{}) {}

func (NoOpLogger) Info(string, ...interface{}) {}

func (NoOpLogger) Warn(string, ...interface{}) {}

func (NoOpLogger) Error(string, error, ...interface{}) {}

var _ Logger = NoOpLogger{}
