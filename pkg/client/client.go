// Package client talks to a running fleetd status API.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// DefaultBaseURL matches a status server started with listen = "127.0.0.1:8080".
const DefaultBaseURL = "http://127.0.0.1:8080/api"

// ErrNotFound is returned for an unknown or unconfigured service.
var ErrNotFound = errors.New("not found")

// Client queries the supervisor over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	auth    func(*http.Request)
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger
	CACert   string // PEM bundle used to verify a self-signed server
	Insecure bool   // skip TLS verification

	// Token is sent as a bearer token; Username/Password as basic auth.
	Token    string
	Username string
	Password string
}

// New creates a client. A bad CA file is reported here rather than on the
// first request.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.CACert != "" || config.Insecure {
		tc, err := clientTLS(config)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tc
	}
	c := &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
	}
	switch {
	case config.Token != "":
		c.auth = func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+config.Token) }
	case config.Username != "":
		c.auth = func(r *http.Request) { r.SetBasicAuth(config.Username, config.Password) }
	}
	return c, nil
}

func clientTLS(config Config) (*tls.Config, error) {
	// #nosec G402 InsecureSkipVerify only when explicitly requested
	tc := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: config.Insecure}
	if config.CACert != "" {
		pem, err := os.ReadFile(config.CACert)
		if err != nil {
			return nil, fmt.Errorf("read ca cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", config.CACert)
		}
		tc.RootCAs = pool
	}
	return tc, nil
}

// IsReachable checks if the supervisor is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Status(ctx)
	if err != nil {
		c.logger.Debug("supervisor unreachable", "url", c.baseURL, "error", err)
	}
	return err == nil
}

// Status returns every service.
func (c *Client) Status(ctx context.Context) ([]ServiceStatus, error) {
	var out []ServiceStatus
	err := c.do(ctx, http.MethodGet, "/status", &out)
	return out, err
}

// ServiceStatus returns one service.
func (c *Client) ServiceStatus(ctx context.Context, name string) (ServiceStatus, error) {
	var out ServiceStatus
	err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(name), &out)
	return out, err
}

// Reconcile runs one orphan sweep and returns the number of repaired records.
func (c *Client) Reconcile(ctx context.Context) (int, error) {
	var out ReconcileResult
	err := c.do(ctx, http.MethodPost, "/reconcile", &out)
	return out.Repaired, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.auth != nil {
		c.auth(req)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return errorFrom(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func errorFrom(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	var er ErrorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
}
