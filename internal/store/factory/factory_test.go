package factory

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNewFromDSNSQLite(t *testing.T) {
	for _, dsn := range []string{
		filepath.Join(t.TempDir(), "a.db"),
		"sqlite://" + filepath.Join(t.TempDir(), "b.db"),
	} {
		s, err := NewFromDSN(dsn)
		if err != nil {
			t.Fatalf("%s: %v", dsn, err)
		}
		if err := s.EnsureSchema(context.Background()); err != nil {
			t.Fatalf("%s schema: %v", dsn, err)
		}
		_ = s.Close()
	}
}

func TestNewFromDSNRejects(t *testing.T) {
	if _, err := NewFromDSN("  "); err == nil {
		t.Fatalf("empty DSN should fail")
	}
	if _, err := NewFromDSN("mongodb://localhost"); err == nil {
		t.Fatalf("unsupported scheme should fail")
	}
}
