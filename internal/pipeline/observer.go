package pipeline

import (
	"context"
	"time"

	"user-stream-ingestor/internal/checkpoint"
	"user-stream-ingestor/internal/stream"
	"user-stream-ingestor/internal/user/domain"
)

// Observer watches the validated record stream and batch outcomes.
// Observers are side-effect free with respect to the destination: the Writer is the only sink.
// Callbacks run on the partition worker goroutine and must not block for long.
type Observer interface {
	RecordWritten(ctx context.Context, msg stream.Message, rec *domain.Record, took time.Duration)
	DecodeFailed(ctx context.Context, msg stream.Message, err error)
	WriteFailed(ctx context.Context, msg stream.Message, rec *domain.Record, err error)
	BatchCommitted(ctx context.Context, cp checkpoint.Checkpoint, size int)
}

// Observers fans callbacks out to each member in order.
type Observers []Observer

func (o Observers) RecordWritten(ctx context.Context, msg stream.Message, rec *domain.Record, took time.Duration) {
	for _, ob := range o {
		ob.RecordWritten(ctx, msg, rec, took)
	}
}

func (o Observers) DecodeFailed(ctx context.Context, msg stream.Message, err error) {
	for _, ob := range o {
		ob.DecodeFailed(ctx, msg, err)
	}
}

func (o Observers) WriteFailed(ctx context.Context, msg stream.Message, rec *domain.Record, err error) {
	for _, ob := range o {
		ob.WriteFailed(ctx, msg, rec, err)
	}
}

func (o Observers) BatchCommitted(ctx context.Context, cp checkpoint.Checkpoint, size int) {
	for _, ob := range o {
		ob.BatchCommitted(ctx, cp, size)
	}
}
