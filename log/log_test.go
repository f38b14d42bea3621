package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestTerminalHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	lg := NewLogger(NewTerminalHandlerWithLevel(&buf, LevelDebug, false))
	lg.Info("x", "function installed", "name", "identity", "size", 9)

	out := buf.String()
	if !strings.Contains(out, "INFO ") {
		t.Fatalf("missing level tag: %q", out)
	}
	if !strings.Contains(out, "function installed") {
		t.Fatalf("missing message: %q", out)
	}
	if !strings.Contains(out, "name=identity") || !strings.Contains(out, "size=9") {
		t.Fatalf("missing attributes: %q", out)
	}
}

func TestTerminalHandlerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	lg := NewLogger(NewTerminalHandlerWithLevel(&buf, slog.LevelWarn, false))
	lg.Debug("x", "hidden")
	lg.Warn("x", "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record leaked: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn record dropped: %q", out)
	}
}

func TestModuleGating(t *testing.T) {
	var buf bytes.Buffer
	old := Root()
	SetDefault(NewLogger(NewTerminalHandler(&buf, false)))
	defer SetDefault(old)

	DisableModule(ArenaMonitoring)
	Trace(ArenaMonitoring, "gated out")
	if strings.Contains(buf.String(), "gated out") {
		t.Fatalf("disabled module logged: %q", buf.String())
	}

	EnableModule(ArenaMonitoring)
	defer DisableModule(ArenaMonitoring)
	Trace(ArenaMonitoring, "gated in")
	if !strings.Contains(buf.String(), "gated in") {
		t.Fatalf("enabled module silent: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	if lvl, err := ParseLevel("trace"); err != nil || lvl != LevelTrace {
		t.Fatalf("trace: %v %v", lvl, err)
	}
	if lvl, err := ParseLevel("CRITICAL"); err != nil || lvl != LevelCrit {
		t.Fatalf("critical: %v %v", lvl, err)
	}
	if _, err := ParseLevel("nope"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
