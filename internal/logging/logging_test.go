package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("warn")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if level != zapcore.WarnLevel {
		t.Fatalf("expected warn, got %v", level)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	logger, closeFile, err := NewLoggerWithFile(path, zapcore.InfoLevel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Sugar().Infow("order submitted", "order_id", "abc")
	logger.Sugar().Debugw("hidden")
	_ = logger.Sync()
	if err := closeFile(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"order_id":"abc"`) || !strings.Contains(out, `"ts"`) {
		t.Fatalf("unexpected log output %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered: %q", out)
	}
}
