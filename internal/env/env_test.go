package env

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func lookup(list []string, key string) (string, bool) {
	for _, kv := range list {
		if strings.HasPrefix(kv, key+"=") {
			return strings.TrimPrefix(kv, key+"="), true
		}
	}
	return "", false
}

func TestMergePrecedenceAndExpansion(t *testing.T) {
	t.Setenv("FLEETD_TEST_BASE", "os")
	e := New()
	e.SetPairs([]string{"FLEETD_TEST_BASE=global", "DATA_DIR=/var/lib/fleetd", "=bad", "novalue"})
	e.Set("STORAGE", "${DATA_DIR}/storage")
	out := e.Merge("FLEETD_SERVICE=http", "FLEETD_TEST_BASE=service")

	if v, _ := lookup(out, "FLEETD_TEST_BASE"); v != "service" {
		t.Fatalf("per-service value should win, got %q", v)
	}
	if v, _ := lookup(out, "STORAGE"); v != "/var/lib/fleetd/storage" {
		t.Fatalf("expansion failed: %q", v)
	}
	if _, ok := lookup(out, ""); ok {
		t.Fatalf("empty key leaked")
	}
}

func TestLoadFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "fleetd.env")
	data := "# comment\nexport A=1\nB=\"two\"\n\nbroken\n"
	if err := os.WriteFile(p, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	e := New()
	if err := e.LoadFile(p); err != nil {
		t.Fatalf("load: %v", err)
	}
	out := e.Merge()
	if v, _ := lookup(out, "A"); v != "1" {
		t.Fatalf("A = %q", v)
	}
	if v, _ := lookup(out, "B"); v != "two" {
		t.Fatalf("B = %q", v)
	}
	if err := e.LoadFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("missing file should fail")
	}
}
