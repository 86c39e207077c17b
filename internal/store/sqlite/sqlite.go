package sqlite

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/fleetd/internal/store"
)

// New opens a SQLite training record store at path (modernc.org/sqlite, CGO-free).
func New(path string) (*store.SQL, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	if !strings.HasPrefix(p, ":") && !strings.HasPrefix(p, "file:") {
		if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// one connection keeps pragmas and ":memory:" databases consistent
	db.SetMaxOpenConns(1)
	_, _ = db.Exec("PRAGMA busy_timeout=3000;")
	return store.NewSQL(db, store.DialectSQLite), nil
}
