package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Dialect selects placeholder and DDL flavour.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQL implements Store on database/sql for SQLite and Postgres.
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQL wraps an opened database.
func NewSQL(db *sql.DB, d Dialect) *SQL { return &SQL{db: db, dialect: d} }

func (s *SQL) DB() *sql.DB { return s.db }

func (s *SQL) Close() error { return s.db.Close() }

// q rewrites '?' placeholders to $n for Postgres.
func (s *SQL) q(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQL) EnsureSchema(ctx context.Context) error {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	ts := "TIMESTAMP"
	if s.dialect == DialectPostgres {
		id = "BIGSERIAL PRIMARY KEY"
		ts = "TIMESTAMPTZ"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS training_records(
			id ` + id + `,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			process_id INTEGER NOT NULL DEFAULT 0,
			error_detail TEXT NULL,
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL,
			deleted_at ` + ts + ` NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_training_records_status ON training_records(status);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

const recordCols = `id, name, status, process_id, error_detail, created_at, updated_at, deleted_at`

func (s *SQL) Create(ctx context.Context, name string) (TrainingRecord, error) {
	now := time.Now().UTC()
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO training_records(name, status, process_id, created_at, updated_at)
		VALUES(?, ?, 0, ?, ?) RETURNING id;`),
		name, string(StatusQueued), now, now).Scan(&id)
	if err != nil {
		return TrainingRecord{}, err
	}
	return s.Get(ctx, id)
}

func (s *SQL) Get(ctx context.Context, id int64) (TrainingRecord, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+recordCols+` FROM training_records WHERE id = ?;`), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TrainingRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *SQL) QueryNonTerminal(ctx context.Context) ([]TrainingRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+recordCols+` FROM training_records
		WHERE status NOT IN (?, ?) AND deleted_at IS NULL
		ORDER BY id;`), string(StatusComplete), string(StatusError))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []TrainingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQL) SetError(ctx context.Context, id int64, msg string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE training_records
		SET status = ?,
			error_detail = COALESCE(NULLIF(error_detail, ''), ?),
			updated_at = ?
		WHERE id = ? AND status <> ?;`),
		string(StatusError), msg, time.Now().UTC(), id, string(StatusComplete))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQL) ClaimNext(ctx context.Context, pid int) (TrainingRecord, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TrainingRecord{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, s.q(`
		SELECT id FROM training_records
		WHERE status = ? AND deleted_at IS NULL
		ORDER BY id LIMIT 1;`), string(StatusQueued)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return TrainingRecord{}, false, nil
	}
	if err != nil {
		return TrainingRecord{}, false, err
	}
	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE training_records SET status = ?, process_id = ?, updated_at = ?
		WHERE id = ? AND status = ?;`),
		string(StatusTraining), pid, time.Now().UTC(), id, string(StatusQueued))
	if err != nil {
		return TrainingRecord{}, false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return TrainingRecord{}, false, nil
	}
	if err := tx.Commit(); err != nil {
		return TrainingRecord{}, false, err
	}
	rec, err := s.Get(ctx, id)
	return rec, err == nil, err
}

func (s *SQL) Complete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		UPDATE training_records SET status = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?);`),
		string(StatusComplete), time.Now().UTC(), id, string(StatusComplete), string(StatusError))
	return err
}

func (s *SQL) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE training_records SET deleted_at = ? WHERE id = ?;`),
		time.Now().UTC(), id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(r scanner) (TrainingRecord, error) {
	var (
		rec    TrainingRecord
		status string
	)
	if err := r.Scan(&rec.ID, &rec.Name, &status, &rec.ProcessID, &rec.ErrorDetail,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.DeletedAt); err != nil {
		return TrainingRecord{}, err
	}
	rec.Status = Status(status)
	return rec, nil
}
