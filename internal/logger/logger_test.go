package logger

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestWritersWithDir(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir}
	if !cfg.Enabled() {
		t.Fatalf("config with dir should be enabled")
	}
	outW, errW, err := cfg.Writers("http")
	if err != nil {
		t.Fatalf("writers: %v", err)
	}
	if outW == nil || errW == nil {
		t.Fatalf("expected both writers when Dir is set")
	}
	_, _ = outW.Write([]byte("out\n"))
	_, _ = errW.Write([]byte("err\n"))
	closeIf(outW)
	closeIf(errW)
	for _, p := range []string{"http.stdout.log", "http.stderr.log"} {
		if _, err := os.Stat(filepath.Join(dir, p)); err != nil {
			t.Fatalf("%s not created: %v", p, err)
		}
	}
}

func TestWritersExplicitPathsAndDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{StdoutPath: filepath.Join(dir, "o.log")}
	outW, errW, _ := cfg.Writers("ignored")
	defer closeIf(outW)
	if errW != nil {
		t.Fatalf("stderr writer should be nil without a destination")
	}
	l, ok := outW.(*lj.Logger)
	if !ok {
		t.Fatalf("expected lumberjack writer, got %T", outW)
	}
	if l.MaxSize != DefaultMaxSizeMB || l.MaxBackups != DefaultMaxBackups || l.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("defaults not applied: %+v", l)
	}
}

func TestWritersDisabled(t *testing.T) {
	var cfg Config
	if cfg.Enabled() {
		t.Fatalf("zero config should be disabled")
	}
	outW, errW, _ := cfg.Writers("x")
	if outW != nil || errW != nil {
		t.Fatalf("expected nil writers")
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug || ParseLevel("warning") != slog.LevelWarn ||
		ParseLevel("error") != slog.LevelError || ParseLevel("") != slog.LevelInfo {
		t.Fatalf("unexpected level mapping")
	}
}

func TestColorTextHandlerPrefixesLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewColorTextHandler(&buf, nil)).With("service", "mysql")
	log.Warn("stopped unexpectedly")
	log.WithGroup("exit").Error("crashed", "code", 3)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("want 2 lines, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[0], "\033[33mWARN\033[0m ") {
		t.Fatalf("missing raw color prefix: %q", lines[0])
	}
	if !strings.Contains(lines[0], `msg="stopped unexpectedly"`) || !strings.Contains(lines[0], "service=mysql") {
		t.Fatalf("unexpected record: %q", lines[0])
	}
	if strings.Contains(lines[0], `\x1b`) {
		t.Fatalf("escape sequence was quoted: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "\033[31mERROR\033[0m ") || !strings.Contains(lines[1], "exit.code=3") {
		t.Fatalf("unexpected record: %q", lines[1])
	}
}

func TestColorTextHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered: %q", buf.String())
	}
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetd.log")
	log := New(SlogConfig{Level: "info", Format: "json", File: path})
	log.Info("hello", "k", 1)
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), `"msg":"hello"`) {
		t.Fatalf("unexpected log file: %s", b)
	}
}
