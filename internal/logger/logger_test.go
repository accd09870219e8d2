package logger

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"none", LevelNone},
		{"off", LevelNone},
		{" Warn ", LevelWarn},
		{"invalid", LevelInfo}, // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := ParseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewLoggerFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "sockpong.log")

	logger, err := New(LevelInfo, logPath, "server")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	logger.Info("listening on %s", "/tmp/x.sock")
	logger.Debug("should not appear")
	logger.Close()

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	contentStr := string(content)
	if !strings.Contains(contentStr, "listening on /tmp/x.sock") {
		t.Errorf("Log file missing info message")
	}
	if strings.Contains(contentStr, "should not appear") {
		t.Errorf("Log file contains debug message when level is INFO")
	}
	if !strings.Contains(contentStr, "[server]") {
		t.Errorf("Log file missing prefix")
	}
}

func TestLoggerWithPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(LevelInfo, &buf, "server")

	logger.WithPrefix("conn_1").Info("idle timeout")

	if !strings.Contains(buf.String(), "[server:conn_1] idle timeout") {
		t.Errorf("missing combined prefix, got: %s", buf.String())
	}
}

func TestLoggerDisabled(t *testing.T) {
	logger, err := New(LevelNone, "", "test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(LevelInfo, &buf, "")

	logger.Debug("debug1")
	logger.SetLevel(LevelDebug)
	logger.Debug("debug2")

	if strings.Contains(buf.String(), "debug1") {
		t.Errorf("debug1 should not appear (level was INFO)")
	}
	if !strings.Contains(buf.String(), "debug2") {
		t.Errorf("debug2 should appear (level changed to DEBUG)")
	}
}

func TestConcurrentLinesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	root := NewWithWriter(LevelInfo, &buf, "server")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			child := root.WithPrefix(fmt.Sprintf("conn_%d", id))
			for j := 0; j < 50; j++ {
				child.Info("line %d", j)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 400 {
		t.Fatalf("expected 400 lines, got %d", len(lines))
	}
	for _, line := range lines {
		if !strings.Contains(line, "[INFO] [server:conn_") {
			t.Errorf("malformed line: %q", line)
		}
	}
}

func TestGlobalLogger(t *testing.T) {
	if Global() == nil {
		t.Errorf("Global() returned nil")
	}

	Debug("debug")
	Info("info")
	Warn("warn")
	Error("error")
}

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(LevelInfo, &buf, "admin")

	sl := slog.New(NewSlogHandler(l)).WithGroup("http")
	sl.Warn("request failed", "status", 500)
	sl.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "[WARN] [admin] request failed http.status=500") {
		t.Errorf("unexpected slog output: %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record should be filtered")
	}

	std := NewStdLogger(l, slog.LevelError)
	std.Print("accept failed")
	if !strings.Contains(buf.String(), "[ERROR] [admin] accept failed") {
		t.Errorf("std logger output missing: %q", buf.String())
	}
}
