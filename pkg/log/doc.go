// Package log provides the logging abstraction used by the DataProxy client.
//
// The client never writes to a global logger. Components receive a [Logger]
// and emit structured key/value fields through it, so embedding
// applications can route SDK logs into their own pipeline.
//
// # Usage
//
// Wrap an existing zerolog logger:
//
//	logger := log.NewZerologAdapterWithLogger(zerolog.New(os.Stderr))
//
// Or discard everything (the library default):
//
//	logger := log.NewNoopLogger()
//
// Components scope their entries with [Logger.With]:
//
//	poolLog := logger.With(log.Component("pool"))
//
// # Custom Loggers
//
// Implement the Logger interface to integrate with another logging library:
//
//	type MyLogger struct { ... }
//
//	func (l *MyLogger) Debug(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) Info(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) Warn(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) Error(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) With(fields ...log.Field) log.Logger { ... }
package log
