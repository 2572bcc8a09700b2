package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConfigure_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Configure(Options{Level: "debug", JSON: true, Output: &buf})
	t.Cleanup(func() { Configure(Options{}) })

	L().Debug("session opened", "cursor", int64(1500))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not json: %q (%v)", buf.String(), err)
	}
	if line["msg"] != "session opened" || line["cursor"] != float64(1500) {
		t.Fatalf("line = %v", line)
	}
}
