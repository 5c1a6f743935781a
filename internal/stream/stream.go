// Package stream defines the inbound channel contract used by the pipeline and its Kafka implementation.
package stream

import (
	"context"
	"fmt"
	"time"
)

// Special start offsets understood by Source.Subscribe.
const (
	FirstOffset int64 = -2
	LastOffset  int64 = -1
)

// Message is one raw payload read from a topic partition.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// Source discovers partitions and opens one subscription per partition.
type Source interface {
	Partitions(ctx context.Context, topic string) ([]int, error)
	// Subscribe opens a reader positioned at startOffset, which is an absolute offset,
	// FirstOffset or LastOffset.
	Subscribe(ctx context.Context, topic string, partition int, startOffset int64) (Subscription, error)
}

// Subscription reads one partition in offset order. It is not safe for concurrent use.
type Subscription interface {
	// Poll returns up to max messages, waiting at most timeout. An empty result with a nil
	// error means no messages arrived in time. When ctx is cancelled after some messages were
	// read, those messages are returned with a nil error.
	Poll(ctx context.Context, max int, timeout time.Duration) ([]Message, error)
	Close() error
}

// ChannelError reports a failure talking to the inbound channel.
type ChannelError struct {
	Op        string
	Topic     string
	Partition int
	Err       error
}

func (e *ChannelError) Error() string {
	if e.Partition < 0 {
		return fmt.Sprintf("channel %s topic %q: %v", e.Op, e.Topic, e.Err)
	}
	return fmt.Sprintf("channel %s topic %q partition %d: %v", e.Op, e.Topic, e.Partition, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }
