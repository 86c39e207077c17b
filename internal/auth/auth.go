// Package auth guards the status API with static bearer tokens or basic
// credentials checked against bcrypt hashes.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/loykin/fleetd/internal/config"
)

// PrincipalKey is the gin context key holding the authenticated name.
const PrincipalKey = "auth_principal"

var ErrNoCredentials = errors.New("auth enabled but no tokens or users configured")

// Authenticator checks one request.
type Authenticator struct {
	tokens [][]byte
	users  map[string][]byte
}

// New returns nil, nil when auth is disabled.
func New(c config.AuthConfig) (*Authenticator, error) {
	if !c.Enabled {
		return nil, nil
	}
	if len(c.Tokens) == 0 && len(c.Users) == 0 {
		return nil, ErrNoCredentials
	}
	a := &Authenticator{users: make(map[string][]byte, len(c.Users))}
	for _, t := range c.Tokens {
		if t != "" {
			a.tokens = append(a.tokens, []byte(t))
		}
	}
	for name, hash := range c.Users {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("user %s: password must be a bcrypt hash", name)
		}
		a.users[name] = []byte(hash)
	}
	return a, nil
}

// HashPassword returns a bcrypt hash suitable for [server.auth.users].
func HashPassword(pw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(h), err
}

// Check returns the principal of r, or false.
func (a *Authenticator) Check(r *http.Request) (string, bool) {
	if user, pw, ok := r.BasicAuth(); ok {
		hash, known := a.users[user]
		if known && bcrypt.CompareHashAndPassword(hash, []byte(pw)) == nil {
			return user, true
		}
		return "", false
	}
	h := r.Header.Get("Authorization")
	tok, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || tok == "" {
		return "", false
	}
	for _, t := range a.tokens {
		if subtle.ConstantTimeCompare(t, []byte(tok)) == 1 {
			return "token", true
		}
	}
	return "", false
}

// Gin returns middleware rejecting unauthenticated requests with 401.
func (a *Authenticator) Gin() gin.HandlerFunc {
	return func(c *gin.Context) {
		who, ok := a.Check(c.Request)
		if !ok {
			c.Header("WWW-Authenticate", `Basic realm="fleetd"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(PrincipalKey, who)
		c.Next()
	}
}
