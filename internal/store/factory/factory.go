package factory

import (
	"errors"
	"strings"

	"github.com/loykin/fleetd/internal/store"
	pg "github.com/loykin/fleetd/internal/store/postgres"
	sq "github.com/loykin/fleetd/internal/store/sqlite"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - sqlite:  "sqlite:///<path>" or bare filepath
//   - postgres: "postgres://..." or "postgresql://..."
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		return sq.New(strings.TrimPrefix(d, "sqlite://"))
	}
	if strings.Contains(d, "://") {
		return nil, errors.New("unsupported store DSN: " + d)
	}
	return sq.New(d)
}
