// Package tls builds the server side TLS configuration for the status API.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/fleetd/internal/config"
)

const (
	certName = "tls.crt"
	keyName  = "tls.key"
)

// ErrNoCertificate is returned when TLS is enabled without any source of a
// certificate.
var ErrNoCertificate = errors.New("tls enabled but no certificate configured")

func parseVersion(v string) (uint16, error) {
	switch v {
	case "", "1.3", "tls1.3", "TLS1.3":
		return tls.VersionTLS13, nil
	case "1.2", "tls1.2", "TLS1.2":
		return tls.VersionTLS12, nil
	}
	return 0, fmt.Errorf("unsupported tls version %q", v)
}

// Setup returns nil, nil when TLS is disabled.
func Setup(c config.TLSConfig) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, err := parseVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}
	certPath, keyPath := c.CertFile, c.KeyFile
	if certPath == "" || keyPath == "" {
		if c.Dir == "" {
			return nil, ErrNoCertificate
		}
		certPath = filepath.Join(c.Dir, certName)
		keyPath = filepath.Join(c.Dir, keyName)
		if c.AutoGenerate && !exists(certPath, keyPath) {
			if err := generate(c, certPath, keyPath); err != nil {
				return nil, fmt.Errorf("generate certificate: %w", err)
			}
		}
	}
	// Load once up front so a bad pair fails at startup.
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	// #nosec G402 min version is configurable down to 1.2
	return &tls.Config{
		MinVersion:     minVer,
		GetCertificate: reloading(certPath, keyPath),
	}, nil
}

// reloading re-reads the pair on every handshake so rotated files are
// picked up without a restart.
func reloading(certPath, keyPath string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func generate(c config.TLSConfig, certPath, keyPath string) error {
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return err
	}
	hosts := c.Hosts
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}
	days := c.ValidDays
	if days <= 0 {
		days = 365
	}
	return GenerateSelfSigned(CertConfig{
		CommonName: hosts[0],
		Hosts:      hosts,
		NotAfter:   time.Now().AddDate(0, 0, days),
		CertPath:   certPath,
		KeyPath:    keyPath,
	})
}
