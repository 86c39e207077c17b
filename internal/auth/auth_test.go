package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/loykin/fleetd/internal/config"
)

func TestNewDisabled(t *testing.T) {
	a, err := New(config.AuthConfig{Tokens: []string{"x"}})
	if err != nil || a != nil {
		t.Fatalf("disabled: %v %v", a, err)
	}
}

func TestNewErrors(t *testing.T) {
	if _, err := New(config.AuthConfig{Enabled: true}); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("want ErrNoCredentials, got %v", err)
	}
	if _, err := New(config.AuthConfig{Enabled: true, Users: map[string]string{"ops": "plaintext"}}); err == nil {
		t.Fatalf("plaintext password should be rejected")
	}
}

func TestCheck(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	a, err := New(config.AuthConfig{
		Enabled: true,
		Tokens:  []string{"tok-1"},
		Users:   map[string]string{"ops": string(hash)},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cases := []struct {
		name string
		set  func(r *http.Request)
		who  string
		ok   bool
	}{
		{"none", func(*http.Request) {}, "", false},
		{"token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer tok-1") }, "token", true},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer tok-2") }, "", false},
		{"basic", func(r *http.Request) { r.SetBasicAuth("ops", "s3cret") }, "ops", true},
		{"basic wrong", func(r *http.Request) { r.SetBasicAuth("ops", "nope") }, "", false},
		{"basic unknown", func(r *http.Request) { r.SetBasicAuth("root", "s3cret") }, "", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		tc.set(r)
		who, ok := a.Check(r)
		if ok != tc.ok || who != tc.who {
			t.Fatalf("%s: got %q %v", tc.name, who, ok)
		}
	}
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, err := New(config.AuthConfig{Enabled: true, Tokens: []string{"tok"}})
	if err != nil {
		t.Fatal(err)
	}
	g := gin.New()
	g.Use(a.Gin())
	g.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(PrincipalKey)) })

	w := httptest.NewRecorder()
	g.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusUnauthorized || w.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("unauthenticated: %d", w.Code)
	}

	w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("Authorization", "Bearer tok")
	g.ServeHTTP(w, r)
	if w.Code != http.StatusOK || w.Body.String() != "token" {
		t.Fatalf("authenticated: %d %s", w.Code, w.Body.String())
	}
}

func TestHashPassword(t *testing.T) {
	h, err := HashPassword("pw")
	if err != nil {
		t.Fatal(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(h), []byte("pw")) != nil {
		t.Fatalf("hash does not verify")
	}
}
