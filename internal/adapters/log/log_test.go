package log

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	plog "github.com/songhahaha66/inlong/pkg/log"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		in   int
		want zerolog.Level
	}{
		{-1, zerolog.ErrorLevel},
		{0, zerolog.ErrorLevel},
		{1, zerolog.WarnLevel},
		{2, zerolog.InfoLevel},
		{3, zerolog.DebugLevel},
		{4, zerolog.TraceLevel},
		{9, zerolog.TraceLevel},
	}
	for _, tt := range tests {
		if got := Level(tt.in); got != tt.want {
			t.Errorf("Level(%d) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMegabytes(t *testing.T) {
	tests := []struct {
		in   int64
		want int
	}{
		{0, 0},
		{-5, 0},
		{1, 1},
		{1 << 20, 1},
		{1<<20 + 1, 2},
		{100 << 20, 100},
	}
	for _, tt := range tests {
		if got := megabytes(tt.in); got != tt.want {
			t.Errorf("megabytes(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNewFileLogger_Rotates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger, closer, err := NewFileLogger(FileConfig{Dir: dir, Level: LevelInfo, MaxSize: 1, MaxFiles: 1})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	defer closer.Close()

	// Each line is about 600KB, so the 1MB limit rotates on every other write.
	big := strings.Repeat("x", 600<<10)
	for i := 0; i < 5; i++ {
		logger.Info("payload", plog.String("data", big))
	}

	// Old backups are removed in the background.
	var entries []os.DirEntry
	for deadline := time.Now().Add(2 * time.Second); ; time.Sleep(10 * time.Millisecond) {
		entries, err = os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) == 2 || time.Now().After(deadline) {
			break
		}
	}
	if len(entries) != 2 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("log dir holds %v, want the active file and one backup", names)
	}
	if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
		t.Errorf("active file missing: %v", err)
	}
}

func TestNewFileLogger_WritesAfterClose(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := NewFileLogger(FileConfig{Dir: dir, Level: LevelInfo, MaxSize: 1 << 20, MaxFiles: 2})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("first")
	closer.Close()
	logger.Info("second")
	closer.Close()

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "first") || !strings.Contains(string(data), "second") {
		t.Errorf("file = %q", data)
	}
}

func TestNewFileLogger(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := NewFileLogger(FileConfig{Dir: dir, Level: LevelInfo, MaxSize: 1 << 20, MaxFiles: 2})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}

	logger.Debug("hidden")
	logger.Info("batch sent", plog.String("group", "g"), plog.Int("messages", 3))
	closer.Close()

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") {
		t.Error("debug line written at info level")
	}
	if !strings.Contains(out, `"message":"batch sent"`) || !strings.Contains(out, `"messages":3`) {
		t.Errorf("unexpected log output: %s", out)
	}
	if n := bytes.Count(data, []byte("\n")); n != 1 {
		t.Errorf("wrote %d lines, want 1", n)
	}
}
