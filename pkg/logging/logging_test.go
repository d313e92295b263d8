package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.name)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}

	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Config{Level: "warn"}, &buf)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("shown", "cells", 5)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "cells=5") {
		t.Errorf("warn record missing: %q", out)
	}

	SetLevel(slog.LevelDebug)
	logger.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("SetLevel did not lower the level")
	}
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "intcode.log")

	var buf bytes.Buffer
	logger, closer, err := New(Config{Level: "info", File: path}, &buf)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	logger.Info("machine halted", "steps", 42)
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		t.Fatalf("log file is not JSON: %v (%q)", err, data)
	}
	if rec["msg"] != "machine halted" || rec["steps"] != float64(42) {
		t.Errorf("log record = %v", rec)
	}
	if !strings.Contains(buf.String(), "machine halted") {
		t.Error("text handler did not receive the record")
	}
}
