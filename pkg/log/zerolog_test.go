package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNew_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "debug", "json")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	child := logger.With(String("component", "scheduler"))
	child.Info("dispatched",
		Stream("cam-1"),
		Uint64("seq", 7),
		Duration("latency", 15*time.Millisecond),
		Err(errors.New("boom")),
	)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if entry["component"] != "scheduler" {
		t.Errorf("component = %v, want scheduler", entry["component"])
	}
	if entry["stream"] != "cam-1" {
		t.Errorf("stream = %v, want cam-1", entry["stream"])
	}
	if entry["error"] != "boom" {
		t.Errorf("error = %v, want boom", entry["error"])
	}
	if entry["message"] != "dispatched" {
		t.Errorf("message = %v, want dispatched", entry["message"])
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message leaked at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn message missing: %s", out)
	}
}

func TestNew_InvalidSettings(t *testing.T) {
	if _, err := New(nil, "loud", "json"); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New(nil, "info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestNoopLogger_With(t *testing.T) {
	var l Logger = NewNoopLogger()
	l = l.With(String("k", "v"))
	l.Info("discarded")
}

func TestSetLevel_ReachesChildren(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "info", "json")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	child := logger.With(String("component", "pool"))

	child.Debug("before")
	lvl, _ := ParseLevel("debug")
	logger.SetLevel(lvl)
	child.Debug("after")

	out := buf.String()
	if strings.Contains(out, "before") || !strings.Contains(out, "after") {
		t.Errorf("child did not follow SetLevel: %s", out)
	}
	if logger.Level() != lvl {
		t.Errorf("Level() = %v, want %v", logger.Level(), lvl)
	}
}
