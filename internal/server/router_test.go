package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/fleetd/internal/auth"
	"github.com/loykin/fleetd/internal/config"
	"github.com/loykin/fleetd/internal/service"
	ftls "github.com/loykin/fleetd/internal/tls"
)

type fakeFleet struct{ sts []service.Status }

func (f fakeFleet) Snapshot() []service.Status { return f.sts }

func (f fakeFleet) Status(name string) (service.Status, bool) {
	for _, s := range f.sts {
		if string(s.Name) == name {
			return s, true
		}
	}
	return service.Status{}, false
}

type fakeRecon struct {
	n   int
	err error
}

func (f fakeRecon) SweepOnce(context.Context) (int, error) { return f.n, f.err }

func setupRouter(t *testing.T, base string, recon Reconciler, metrics http.Handler) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fleet := fakeFleet{sts: []service.Status{
		{Name: service.HTTP, Needed: true, State: "running", Port: 47334, PID: 42},
		{Name: service.Jobs, Needed: true, State: "stopped", Restarts: 3, LastExit: "signal: killed"},
	}}
	return NewRouter(fleet, recon, metrics, base).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestStatusAll(t *testing.T) {
	h := setupRouter(t, "/api", nil, nil)
	rec := doReq(t, h, http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var sts []service.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &sts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sts) != 2 || sts[1].Restarts != 3 {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestStatusByName(t *testing.T) {
	h := setupRouter(t, "", nil, nil)
	rec := doReq(t, h, http.MethodGet, "/status/http")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"pid":42`) {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := doReq(t, h, http.MethodGet, "/status/mcp"); rec.Code != http.StatusNotFound {
		t.Fatalf("unconfigured service: expected 404, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodGet, "/status/ftp"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown service: expected 404, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodGet, "/status/a..b"); rec.Code != http.StatusBadRequest {
		t.Fatalf("unsafe name: expected 400, got %d", rec.Code)
	}
}

func TestReconcile(t *testing.T) {
	h := setupRouter(t, "/api", fakeRecon{n: 2}, nil)
	rec := doReq(t, h, http.MethodPost, "/api/reconcile")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"repaired":2`) {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}

	h = setupRouter(t, "/api", fakeRecon{err: errors.New("db down")}, nil)
	if rec := doReq(t, h, http.MethodPost, "/api/reconcile"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	h = setupRouter(t, "/api", nil, nil)
	if rec := doReq(t, h, http.MethodPost, "/api/reconcile"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestMetricsMounted(t *testing.T) {
	m := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("fleetd_up 1\n")) })
	h := setupRouter(t, "/api", nil, m)
	rec := doReq(t, h, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "fleetd_up") {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := doReq(t, setupRouter(t, "", nil, nil), http.MethodGet, "/metrics"); rec.Code != http.StatusNotFound {
		t.Fatalf("metrics should be absent, got %d", rec.Code)
	}
}

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		if got := sanitizeBase(c.in); got != c.want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestIsSafeName(t *testing.T) {
	for _, s := range []string{"http", "ml_task_queue", "a.b-c"} {
		if !isSafeName(s) {
			t.Fatalf("expected valid name %q", s)
		}
	}
	for _, s := range []string{"", "..", "a/b", "x*"} {
		if isSafeName(s) {
			t.Fatalf("expected invalid name %q", s)
		}
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestNewServerServesTLS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tlsConf, err := ftls.Setup(config.TLSConfig{Enabled: true, Dir: t.TempDir(), AutoGenerate: true})
	if err != nil {
		t.Fatalf("tls: %v", err)
	}
	addr := freeAddr(t)
	srv := NewServer(addr, NewRouter(fakeFleet{}, nil, nil, "/api"), tlsConf, nil)
	defer func() { _ = srv.Close() }()

	client := &http.Client{
		Timeout: 2 * time.Second,
		// #nosec G402 self-signed test certificate
		Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}},
	}
	var resp *http.Response
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err = client.Get("https://" + addr + "/api/status")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.TLS == nil {
		t.Fatalf("status %d tls=%v", resp.StatusCode, resp.TLS != nil)
	}
}

func TestAuthGuardsAPIButNotMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, err := auth.New(config.AuthConfig{Enabled: true, Tokens: []string{"t0k"}})
	if err != nil {
		t.Fatal(err)
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("m")) })
	h := NewRouter(fakeFleet{}, fakeRecon{n: 1}, metrics, "/api").WithAuth(a.Gin()).Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/reconcile", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("reconcile without token: %d", w.Code)
	}
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/reconcile", nil)
	req.Header.Set("Authorization", "Bearer t0k")
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("reconcile with token: %d", w.Code)
	}
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
}
