package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewWritesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "server.log")
	log, err := New(Config{File: file, Level: "debug", Console: &console})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Named("world").Debug("tick", zap.Uint64("tick", 7))
	_ = log.Sync()

	if !strings.Contains(console.String(), "tick") || !strings.Contains(console.String(), "world") {
		t.Fatalf("console missing entry: %q", console.String())
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(raw), &entry); err != nil {
		t.Fatalf("file entry not json: %v (%q)", err, raw)
	}
	if entry["msg"] != "tick" || entry["tick"] != float64(7) {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewLevelFilters(t *testing.T) {
	var console bytes.Buffer
	log, err := New(Config{Level: "warn", Console: &console})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Info("hidden")
	log.Warn("shown")
	if strings.Contains(console.String(), "hidden") || !strings.Contains(console.String(), "shown") {
		t.Fatalf("unexpected output: %q", console.String())
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatalf("expected nop logger")
	}
}
