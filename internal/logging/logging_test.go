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
		in       string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.expected {
			t.Errorf("ParseLevel(%q): expected %v, got %v", tt.in, tt.expected, got)
		}
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(&buf, Options{Level: "info", Format: "json"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer closer.Close()

	logger.Debug("hidden")
	logger.Info("Study aggregated", "study_uid", "1.2.3")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("Expected JSON record, got %q", lines[0])
	}
	if record["study_uid"] != "1.2.3" {
		t.Errorf("Expected study_uid 1.2.3, got %v", record["study_uid"])
	}
}

func TestNewWritesFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "aurapacs.log")
	logger, closer, err := New(&buf, Options{Format: "text", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("Upload stored", "sop_uid", "1.2.3.4")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected log file, got %v", err)
	}
	if !strings.Contains(string(data), "sop_uid=1.2.3.4") {
		t.Errorf("Expected record in file, got %q", data)
	}
	if !strings.Contains(buf.String(), "Upload stored") {
		t.Errorf("Expected record on stderr writer, got %q", buf.String())
	}
}

func TestNewUnsupportedFormat(t *testing.T) {
	if _, _, err := New(&bytes.Buffer{}, Options{Format: "xml"}); err == nil {
		t.Error("Expected error for unsupported format")
	}
}
