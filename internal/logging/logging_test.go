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
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_ConsoleRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := New(Config{Level: "warn", Console: &buf})
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()

	logger.Info("hidden")
	logger.Warn("shown", "sender", "+1555")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "sender=+1555") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestNew_FileGetsJSON(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "schoolcomm.log")

	logger, closeFn, err := New(Config{Level: "info", File: path, Console: &console})
	if err != nil {
		t.Fatal(err)
	}
	logger.With("component", "dispatch").Info("delivered", "to", "+1555")
	if err := closeFn(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		t.Fatalf("file line is not JSON: %v (%s)", err, data)
	}
	if rec["msg"] != "delivered" || rec["component"] != "dispatch" || rec["to"] != "+1555" {
		t.Errorf("unexpected record: %v", rec)
	}
	if !strings.Contains(console.String(), "component=dispatch") {
		t.Errorf("console missing attrs: %s", console.String())
	}
}

func TestFanout_GroupsApplyToAll(t *testing.T) {
	var a, b bytes.Buffer
	h := Fanout(
		slog.NewTextHandler(&a, nil),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	logger := slog.New(h).WithGroup("req")
	logger.Info("hello", "id", 1)

	if !strings.Contains(a.String(), "req.id=1") {
		t.Errorf("group missing: %s", a.String())
	}
	if b.Len() != 0 {
		t.Errorf("error-level handler should not receive info: %s", b.String())
	}
}
