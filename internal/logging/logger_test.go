package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// newCapturedLogger builds an uncolored logger writing into buf, shaped like
// the loggers the server hands to each component.
func newCapturedLogger(buf *bytes.Buffer, level Level) *Logger {
	l := New(&Config{Level: level, Colored: false, ShowTime: false})
	l.output = buf
	return l
}

func TestParseLevelConfigValues(t *testing.T) {
	// The values an operator can put under logging.level in config.yaml.
	cases := map[string]Level{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"fatal":   LevelFatal,
		"DEBUG":   LevelDebug,
		"":        LevelInfo,
		"trace":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestComponentPrefixInOutput(t *testing.T) {
	var buf bytes.Buffer
	log := newCapturedLogger(&buf, LevelInfo).WithComponent("Dispatcher")

	log.Info("started %d workers", 4)

	out := buf.String()
	if !strings.Contains(out, "[Dispatcher]") {
		t.Errorf("expected component prefix, got %q", out)
	}
	if !strings.Contains(out, "started 4 workers") {
		t.Errorf("expected formatted message, got %q", out)
	}
}

func TestLevelFiltersPipelineNoise(t *testing.T) {
	var buf bytes.Buffer
	log := newCapturedLogger(&buf, LevelWarn)

	log.Debug("stage timing detail")
	log.Info("turn completed")
	log.Warn("sheet fetch slow")
	log.Error("send failed")

	out := buf.String()
	if strings.Contains(out, "stage timing") || strings.Contains(out, "turn completed") {
		t.Errorf("below-threshold lines leaked through: %q", out)
	}
	if !strings.Contains(out, "sheet fetch slow") || !strings.Contains(out, "send failed") {
		t.Errorf("warn/error lines missing: %q", out)
	}
}

func TestWithFieldScopesTaskIdentity(t *testing.T) {
	var buf bytes.Buffer
	base := newCapturedLogger(&buf, LevelInfo)
	tlog := base.WithField("task", "a1b2c3")

	tlog.Warn("message %d attempt %d failed", 7, 1)
	if !strings.Contains(buf.String(), "task=a1b2c3") {
		t.Errorf("expected task field on the line, got %q", buf.String())
	}

	buf.Reset()
	base.Info("queue depth %d", 0)
	if strings.Contains(buf.String(), "task=") {
		t.Errorf("field leaked back into the parent logger: %q", buf.String())
	}
}

func TestWithFieldsAccumulate(t *testing.T) {
	var buf bytes.Buffer
	log := newCapturedLogger(&buf, LevelInfo).
		WithField("business", 42).
		WithFields(map[string]interface{}{"turn": "t-9"})

	log.Info("reply sent")

	out := buf.String()
	if !strings.Contains(out, "business=42") || !strings.Contains(out, "turn=t-9") {
		t.Errorf("expected both fields, got %q", out)
	}
}

func TestFileOutputStripsColor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "helachat.log")

	var buf bytes.Buffer
	log := New(&Config{Level: LevelInfo, Colored: true, ShowTime: false, FilePath: path})
	log.output = &buf
	defer log.Close()

	log.Info("webhook verified")

	if !strings.Contains(buf.String(), "\033[") {
		t.Error("expected ANSI colors on console output")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(data), "\033[") {
		t.Errorf("file output must be color-free, got %q", data)
	}
	if !strings.Contains(string(data), "webhook verified") {
		t.Errorf("message missing from log file: %q", data)
	}
}

func TestSetLevelAdjustsGlobal(t *testing.T) {
	prev := Global()
	defer SetGlobal(prev)

	var buf bytes.Buffer
	SetGlobal(newCapturedLogger(&buf, LevelInfo))

	// serve applies the configured level after installing the logger.
	SetLevel(ParseLevel("error"))

	Info("config loaded")
	Error("database locked")

	out := buf.String()
	if strings.Contains(out, "config loaded") {
		t.Errorf("info line logged after raising the level: %q", out)
	}
	if !strings.Contains(out, "database locked") {
		t.Errorf("error line missing: %q", out)
	}
}

func TestEnableVerboseLowersGlobalLevel(t *testing.T) {
	prev := Global()
	defer SetGlobal(prev)

	var buf bytes.Buffer
	SetGlobal(newCapturedLogger(&buf, LevelInfo))

	EnableVerbose()
	Debug("stage detail")

	if !strings.Contains(buf.String(), "stage detail") {
		t.Errorf("expected debug output after EnableVerbose, got %q", buf.String())
	}
}

func TestSQLHelperCompactsQuery(t *testing.T) {
	var buf bytes.Buffer
	log := newCapturedLogger(&buf, LevelDebug)

	log.SQL(`SELECT id, status
		FROM   messages
		WHERE  business_id = ?`, 42)

	out := buf.String()
	if !strings.Contains(out, "SELECT id, status FROM messages WHERE business_id = ?") {
		t.Errorf("expected whitespace-collapsed query, got %q", out)
	}
	if !strings.Contains(out, "args=[42]") {
		t.Errorf("expected query args field, got %q", out)
	}
}

func TestStripANSI(t *testing.T) {
	in := "\033[32mINFO\033[0m [Agent] turn done"
	if got := stripANSI(in); got != "INFO [Agent] turn done" {
		t.Errorf("stripANSI = %q", got)
	}
}
