package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool used by PostgresStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps checkpoints in the ingest_checkpoints table created by the embedded migrations.
type PostgresStore struct {
	db DB
}

// NewPostgresStore returns a store backed by db.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Load(ctx context.Context, location, topic string, partition int) (Checkpoint, bool, error) {
	cp := Checkpoint{Location: location, Topic: topic, Partition: partition}
	err := s.db.QueryRow(ctx, `
		SELECT next_offset, owner, updated_at
		FROM ingest_checkpoints
		WHERE location = $1 AND topic = $2 AND partition = $3`,
		location, topic, partition,
	).Scan(&cp.NextOffset, &cp.Owner, &cp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("load checkpoint %s: %w", cp.Key(), err)
	}
	return cp, true, nil
}

// Commit upserts cp. The update only applies when it does not lower next_offset, so a stale
// writer cannot move progress backwards.
func (s *PostgresStore) Commit(ctx context.Context, cp Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO ingest_checkpoints (location, topic, partition, next_offset, owner, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (location, topic, partition) DO UPDATE
		SET next_offset = EXCLUDED.next_offset, owner = EXCLUDED.owner, updated_at = EXCLUDED.updated_at
		WHERE ingest_checkpoints.next_offset <= EXCLUDED.next_offset`,
		cp.Location, cp.Topic, cp.Partition, cp.NextOffset, cp.Owner, cp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("commit checkpoint %s: %w", cp.Key(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("commit checkpoint %s at %d: %w", cp.Key(), cp.NextOffset, ErrRegression)
	}
	return nil
}
