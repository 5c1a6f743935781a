// Package checkpoint persists per-partition consumption progress.
//
// A Checkpoint records the next offset to read for a (location, topic, partition).
// Stores reject commits that would move a checkpoint backwards.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRegression is returned when a commit would move a checkpoint backwards.
var ErrRegression = errors.New("checkpoint: offset regression")

// Checkpoint is the durable progress marker of one partition.
type Checkpoint struct {
	// Location is the durable side-location identifier grouping checkpoints of one pipeline.
	Location  string
	Topic     string
	Partition int
	// NextOffset is the first offset not yet processed (last processed + 1).
	NextOffset int64
	// Owner identifies the worker that committed it.
	Owner     string
	UpdatedAt time.Time
}

// Key returns location/topic/partition for log lines and map keys.
func (c Checkpoint) Key() string {
	return fmt.Sprintf("%s/%s/%d", c.Location, c.Topic, c.Partition)
}

// Store loads and commits checkpoints. Implementations must be safe for concurrent use
// by one worker per partition.
type Store interface {
	// Load returns the checkpoint and true, or false when none was committed yet.
	Load(ctx context.Context, location, topic string, partition int) (Checkpoint, bool, error)
	// Commit stores cp. Committing an equal offset is a no-op; a lower offset returns ErrRegression.
	Commit(ctx context.Context, cp Checkpoint) error
}
