package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"user-stream-ingestor/internal/user/domain"
)

// Writer persists validated user records. Upsert must be idempotent per record id.
type Writer interface {
	Upsert(ctx context.Context, rec *domain.Record) error
}

// Reader serves the operator read path (row count, latest rows).
type Reader interface {
	Count(ctx context.Context) (int64, error)
	Latest(ctx context.Context, limit int) ([]*domain.Record, error)
	GetByID(ctx context.Context, id string) (*domain.Record, error)
}

// Repository is the full destination table surface.
type Repository interface {
	Writer
	Reader
}

// DB is the subset of *pgxpool.Pool used by this package. The pool is safe for concurrent use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Destination names the namespace (Postgres schema) and table that hold user records.
type Destination struct {
	Namespace string
	Table     string
	Schema    *domain.Schema
}

// Validate checks the destination is fully specified.
func (d Destination) Validate() error {
	if d.Namespace == "" {
		return fmt.Errorf("destination namespace is empty")
	}
	if d.Table == "" {
		return fmt.Errorf("destination table is empty")
	}
	if d.Schema == nil {
		return fmt.Errorf("destination schema is nil")
	}
	return nil
}

// String returns namespace.table for log lines.
func (d Destination) String() string {
	return d.Namespace + "." + d.Table
}

func (d Destination) qualifiedTable() string {
	return pgx.Identifier{d.Namespace, d.Table}.Sanitize()
}

func (d Destination) columnList() string {
	names := d.Schema.Names()
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = pgx.Identifier{n}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

// WriteError wraps a storage failure for a single record. It never aborts a batch on its own.
type WriteError struct {
	ID  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write record %q: %v", e.ID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsRecordRejected reports whether err is the destination refusing this record's data
// (SQLSTATE class 22 data exception or 23 integrity violation). Such a failure says nothing
// about destination availability and recurs on every retry of the same record.
func IsRecordRejected(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	switch pgErr.Code[:2] {
	case "22", "23":
		return true
	}
	return false
}

// ProvisionError is fatal: consumption must not start without a provisioned destination.
type ProvisionError struct {
	Destination string
	Step        string
	Err         error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision destination %s: %s: %v", e.Destination, e.Step, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }
