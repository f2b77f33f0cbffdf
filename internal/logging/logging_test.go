package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNew_RenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info")
	log.Info("ride accepted", "ride_id", "r1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["message"] != "ride accepted" {
		t.Errorf("expected message key, got %v", entry)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Errorf("expected timestamp key, got %v", entry)
	}
	if entry["ride_id"] != "r1" {
		t.Errorf("expected ride_id attr, got %v", entry["ride_id"])
	}
}

func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line should be filtered at warn level, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
