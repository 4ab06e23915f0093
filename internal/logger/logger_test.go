package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_JSONToFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "app.log")

	log, err := New(LogConfig{Level: "debug", Format: "json", Output: out})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	log.With("camera", "cam-1").Info("Camera live", "width", 640, "error", errors.New("boom"))
	log.Sync()

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("Failed to read log output: %v", err)
	}

	line := string(data)
	for _, want := range []string{`"msg":"Camera live"`, `"camera":"cam-1"`, `"width":640`, `"error":"boom"`} {
		if !strings.Contains(line, want) {
			t.Errorf("Expected log line to contain %s, got %s", want, line)
		}
	}
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	log, err := New(LogConfig{Level: "loud", Format: "text"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if log.Core().Enabled(-1) {
		t.Error("Debug level should be disabled when level is invalid")
	}
}

func TestConvertFields_SkipsNonStringKeys(t *testing.T) {
	fields := convertFields("ok", 1, 42, "value", "dangling")
	if len(fields) != 1 {
		t.Fatalf("Expected 1 field, got %d", len(fields))
	}
	if fields[0].Key != "ok" {
		t.Errorf("Expected key 'ok', got %s", fields[0].Key)
	}
}
