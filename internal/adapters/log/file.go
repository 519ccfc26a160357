// Package log builds zerolog loggers for the client: a rotating JSON file
// logger configured like the native SDK, and a console logger for the CLI.
package log

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	plog "github.com/songhahaha66/inlong/pkg/log"
)

// FileName is the log file created under the configured log path.
const FileName = "dataproxy.log"

// Native SDK log levels.
const (
	LevelError = 0
	LevelWarn  = 1
	LevelInfo  = 2
	LevelDebug = 3
	LevelTrace = 4
)

// Level maps a native SDK level number to a zerolog level. Out-of-range
// values clamp to the nearest end.
func Level(n int) zerolog.Level {
	switch {
	case n <= LevelError:
		return zerolog.ErrorLevel
	case n == LevelWarn:
		return zerolog.WarnLevel
	case n == LevelInfo:
		return zerolog.InfoLevel
	case n == LevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// FileConfig configures the file logger. MaxSize is in bytes and MaxFiles
// bounds the rotated backups kept beside the active file.
type FileConfig struct {
	Dir      string
	Level    int
	MaxSize  int64
	MaxFiles int
}

// megabytes converts a byte size to lumberjack's unit, rounding up.
func megabytes(n int64) int {
	const mb = 1 << 20
	if n <= 0 {
		return 0
	}
	return int((n + mb - 1) / mb)
}

// NewFileLogger creates a logger writing JSON lines to Dir/dataproxy.log,
// rotated once the file reaches MaxSize. The returned closer closes the
// active file; a later write reopens it.
func NewFileLogger(cfg FileConfig) (*plog.ZerologAdapter, io.Closer, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, nil, err
	}
	w := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, FileName),
		MaxSize:    megabytes(cfg.MaxSize),
		MaxBackups: cfg.MaxFiles,
	}
	zl := zerolog.New(w).
		Level(Level(cfg.Level)).
		With().
		Timestamp().
		Str("sdk", "inlong-dataproxy").
		Logger()
	return plog.NewZerologAdapterWithLogger(zl), w, nil
}

// NewConsoleLogger creates a human-readable logger on stderr.
func NewConsoleLogger(level int) *plog.ZerologAdapter {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(Level(level)).
		With().
		Timestamp().
		Logger()
	return plog.NewZerologAdapterWithLogger(zl)
}
