package log

import "time"

// Logger is the structured logger used throughout the client. The
// library never writes to stdout or stderr on its own; callers supply a
// Logger or get a NoopLogger.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a Logger that adds fields to every entry.
	With(fields ...Field) Logger
}

// Field is a key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Strings(key string, value []string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration is rendered in milliseconds by the zerolog adapter.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value}
}

// Err creates an error field with key "error". A nil err is logged as
// null.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Component tags entries with the subsystem that wrote them.
func Component(name string) Field {
	return Field{Key: "component", Value: name}
}

// Any creates a field with any value. Types without a dedicated helper
// are rendered through zerolog's Interface.
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}
