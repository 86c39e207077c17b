package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loykin/fleetd"
)

func TestInitToStdout(t *testing.T) {
	out, err := newRoot(&calls{}, nil)("init", "--profile", "managed")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, `environment = "managed"`) {
		t.Fatalf("output:\n%s", out)
	}
}

func TestInitWritesLoadableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleetd.toml")
	run := newRoot(&calls{}, nil)
	if _, err := run("init", "--profile", "workers", "--data-dir", dir, "-o", path); err != nil {
		t.Fatalf("init: %v", err)
	}
	c, err := fleetd.LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !c.MLTaskQueue.Consumer {
		t.Fatalf("workers profile should enable the consumer")
	}
	if _, err := run("init", "-o", path); err == nil || !strings.Contains(err.Error(), "--force") {
		t.Fatalf("existing file should need --force, got %v", err)
	}
	if _, err := run("init", "-o", path, "--force"); err != nil {
		t.Fatalf("init --force: %v", err)
	}
	if data, _ := os.ReadFile(path); !strings.Contains(string(data), `environment = "local"`) {
		t.Fatalf("file not overwritten:\n%s", data)
	}
	if _, err := run("init", "--profile", "cron"); err == nil {
		t.Fatalf("unknown profile should fail")
	}
}
