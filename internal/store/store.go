package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Status of a training attempt.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusGenerating Status = "generating"
	StatusTraining   Status = "training"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Terminal reports whether s can no longer change through normal progress.
func (s Status) Terminal() bool { return s == StatusComplete || s == StatusError }

// Messages written when reconciliation repairs a record.
const (
	MsgOrphaned = "The training process was terminated for unknown reasons"
	MsgUnknown  = "Unknown error"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("training record not found")

// TrainingRecord is one model training attempt.
type TrainingRecord struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Status      Status         `json:"status"`
	ProcessID   int            `json:"process_id"`
	ErrorDetail sql.NullString `json:"error_detail"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   sql.NullTime   `json:"deleted_at"`
}

// Store persists training records.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Create(ctx context.Context, name string) (TrainingRecord, error)
	Get(ctx context.Context, id int64) (TrainingRecord, error)
	// QueryNonTerminal lists live records whose status is not complete or error.
	QueryNonTerminal(ctx context.Context) ([]TrainingRecord, error)
	// SetError moves a record to error, writing msg only when no detail is set.
	// Complete records are left untouched; the result reports whether a row changed.
	SetError(ctx context.Context, id int64, msg string) (bool, error)
	// ClaimNext moves the oldest queued record to training under pid.
	ClaimNext(ctx context.Context, pid int) (TrainingRecord, bool, error)
	Complete(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	Close() error
}
