package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"user-stream-ingestor/internal/user/domain"
)

// PostgresRepository upserts user records into one destination table.
type PostgresRepository struct {
	db           DB
	dest         Destination
	writeTimeout time.Duration

	upsertSQL string
	selectSQL string
}

// NewPostgresRepository returns a repository writing to dest through db (usually a *pgxpool.Pool).
// writeTimeout bounds each Upsert; zero means the caller's context alone applies.
func NewPostgresRepository(db DB, dest Destination, writeTimeout time.Duration) (*PostgresRepository, error) {
	if err := dest.Validate(); err != nil {
		return nil, err
	}
	return &PostgresRepository{
		db:           db,
		dest:         dest,
		writeTimeout: writeTimeout,
		upsertSQL:    buildUpsert(dest),
		selectSQL:    fmt.Sprintf("SELECT %s FROM %s", dest.columnList(), dest.qualifiedTable()),
	}, nil
}

// buildUpsert renders INSERT ... ON CONFLICT (pk) DO UPDATE for every non-key column.
func buildUpsert(dest Destination) string {
	names := dest.Schema.Names()
	pk := dest.Schema.PrimaryKey()
	placeholders := make([]string, len(names))
	var sets []string
	for i, n := range names {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if n == pk {
			continue
		}
		col := pgx.Identifier{n}.Sanitize()
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	conflict := "DO NOTHING"
	if len(sets) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		dest.qualifiedTable(), dest.columnList(), strings.Join(placeholders, ", "),
		pgx.Identifier{pk}.Sanitize(), conflict)
}

// Upsert inserts or replaces the row keyed by rec.ID(). Re-applying the same record is a no-op in effect.
func (r *PostgresRepository) Upsert(ctx context.Context, rec *domain.Record) error {
	if rec == nil || rec.ID() == "" {
		return &WriteError{Err: errors.New("record has no primary key")}
	}
	if r.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.writeTimeout)
		defer cancel()
	}
	values := rec.Values()
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	if _, err := r.db.Exec(ctx, r.upsertSQL, args...); err != nil {
		return &WriteError{ID: rec.ID(), Err: err}
	}
	return nil
}

// Count returns the number of rows in the destination table.
func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM "+r.dest.qualifiedTable()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", r.dest, err)
	}
	return n, nil
}

// Latest returns up to limit rows ordered by registration date, newest first.
func (r *PostgresRepository) Latest(ctx context.Context, limit int) ([]*domain.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	order := pgx.Identifier{r.dest.Schema.PrimaryKey()}.Sanitize()
	if r.dest.Schema.Has(domain.FieldRegisteredDate) {
		order = pgx.Identifier{domain.FieldRegisteredDate}.Sanitize() + " DESC NULLS LAST, " + order
	}
	rows, err := r.db.Query(ctx, r.selectSQL+" ORDER BY "+order+" LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.dest, err)
	}
	defer rows.Close()

	var out []*domain.Record
	for rows.Next() {
		rec, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", r.dest, err)
	}
	return out, nil
}

// GetByID returns the record for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Record, error) {
	pk := pgx.Identifier{r.dest.Schema.PrimaryKey()}.Sanitize()
	rec, err := r.scan(r.db.QueryRow(ctx, r.selectSQL+" WHERE "+pk+" = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func (r *PostgresRepository) scan(row pgx.Row) (*domain.Record, error) {
	names := r.dest.Schema.Names()
	values := make([]*string, len(names))
	dest := make([]any, len(names))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := row.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scan %s: %w", r.dest, err)
	}
	raw := make(map[string]*string, len(names))
	for i, n := range names {
		raw[n] = values[i]
	}
	rec, err := r.dest.Schema.Validate(raw)
	if err != nil {
		return nil, fmt.Errorf("stored row in %s: %w", r.dest, err)
	}
	return rec, nil
}
