package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/loykin/fleetd/pkg/client"
)

func statusAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]client.ServiceStatus{
			{Name: "http", Needed: true, State: "running", Port: 47334, PID: 101},
			{Name: "mongodb", State: "idle", Port: 47336},
			{Name: "jobs", Needed: true, State: "stopped", Restarts: 3, LastExit: "signal: killed"},
		})
	})
	mux.HandleFunc("GET /api/status/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"service not configured: ` + r.PathValue("name") + `"}`))
	})
	mux.HandleFunc("POST /api/reconcile", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"repaired":2}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestStatusCommandTable(t *testing.T) {
	srv := statusAPI(t)
	out, err := newRoot(&calls{}, nil)("status", "--url", srv.URL+"/api")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "http") || !strings.Contains(out, "101") || !strings.Contains(out, "signal: killed") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if strings.Contains(out, "mongodb") {
		t.Fatalf("idle services that are not needed should be hidden:\n%s", out)
	}
}

func TestStatusCommandJSONAndErrors(t *testing.T) {
	srv := statusAPI(t)
	run := newRoot(&calls{}, nil)
	out, err := run("status", "--url", srv.URL+"/api", "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var sts []client.ServiceStatus
	if err := json.Unmarshal([]byte(out), &sts); err != nil || len(sts) != 3 {
		t.Fatalf("json output %q: %v", out, err)
	}
	if _, err := run("status", "ftp", "--url", srv.URL+"/api"); err == nil || !strings.Contains(err.Error(), "ftp") {
		t.Fatalf("want not found error, got %v", err)
	}
}

func TestReconcileCommand(t *testing.T) {
	srv := statusAPI(t)
	out, err := newRoot(&calls{}, nil)("reconcile", "--url", srv.URL+"/api")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !strings.Contains(out, "repaired 2") {
		t.Fatalf("output = %q", out)
	}
}

func TestHashPasswordCommand(t *testing.T) {
	out, err := newRoot(&calls{}, nil)("hash-password", "pw")
	if err != nil {
		t.Fatalf("hash-password: %v", err)
	}
	h := strings.TrimSpace(out)
	if bcrypt.CompareHashAndPassword([]byte(h), []byte("pw")) != nil {
		t.Fatalf("hash %q does not verify", h)
	}
	if _, err := newRoot(&calls{}, nil)("hash-password", ""); err == nil {
		t.Fatalf("empty password should fail")
	}
}
