package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/graftdebug/graft/internal/logging"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}

	for raw, want := range tests {
		if got := logging.ParseLevel(raw); got != want {
			t.Errorf("ParseLevel(%q)=%v, want %v", raw, got, want)
		}
	}
}

func TestNewEnvOverridesOptions(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	log := logging.New(&buf, logging.Options{Level: "error", Format: "text"}, map[string]string{
		logging.EnvLevel:  "debug",
		logging.EnvFormat: "json",
	})

	log.Debug("saved trace", "key", "job1/reg_stp_3_vid_7.tr")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %q: %v", buf.String(), err)
	}

	if rec["msg"] != "saved trace" || rec["key"] != "job1/reg_stp_3_vid_7.tr" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestNewFiltersByLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	log := logging.New(&buf, logging.Options{Level: "warn"}, nil)
	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestValidators(t *testing.T) {
	t.Parallel()

	if !logging.ValidLevel("Info") || logging.ValidLevel("loud") {
		t.Fatal("ValidLevel")
	}

	if !logging.ValidFormat("JSON") || logging.ValidFormat("yaml") {
		t.Fatal("ValidFormat")
	}
}
