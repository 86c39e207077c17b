package postgres

import (
	"database/sql"
	"errors"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/fleetd/internal/store"
)

// New opens a Postgres training record store through the pgx stdlib driver.
func New(dsn string) (*store.SQL, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return nil, errors.New("empty postgres dsn")
	}
	db, err := sql.Open("pgx", d)
	if err != nil {
		return nil, err
	}
	return store.NewSQL(db, store.DialectPostgres), nil
}
