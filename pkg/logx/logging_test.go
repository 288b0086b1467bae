package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestNopLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	zero.Info("ignored", String("k", "v"))
	Nop().Error("ignored", Err(errors.New("boom")))
}

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Debug("hello", Int("n", 3), Bool("ok", true), Float64("every_seconds", 0.05))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if m["message"] != "hello" {
		t.Fatalf("message = %v, want hello", m["message"])
	}
	if m["comp"] != "test" {
		t.Fatalf("comp = %v, want test", m["comp"])
	}
	if m["n"] != float64(3) {
		t.Fatalf("n = %v, want 3", m["n"])
	}
	if m["every_seconds"] != 0.05 {
		t.Fatalf("every_seconds = %v, want 0.05", m["every_seconds"])
	}
}

func TestEnabledRespectsLevel(t *testing.T) {
	t.Parallel()
	log := NewWriter(&bytes.Buffer{}, "warn")
	if log.Enabled(LevelDebug) {
		t.Fatal("debug should be disabled at warn level")
	}
	if !log.Enabled(LevelError) {
		t.Fatal("error should be enabled at warn level")
	}
}

func TestParseLevelDefault(t *testing.T) {
	t.Parallel()
	if got := parseLevel("nonsense", LevelInfo); got != LevelInfo {
		t.Fatalf("parseLevel fallback = %v, want info", got)
	}
	if got := parseLevel(" warning ", LevelInfo); got != LevelWarn {
		t.Fatalf("parseLevel(warning) = %v, want warn", got)
	}
}
