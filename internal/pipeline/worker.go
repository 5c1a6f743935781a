package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"user-stream-ingestor/internal/checkpoint"
	"user-stream-ingestor/internal/stream"
	"user-stream-ingestor/internal/user/decoder"
	"user-stream-ingestor/internal/user/repository"
)

// payloadExcerptLen bounds the payload bytes logged for a decode failure.
const payloadExcerptLen = 256

// worker consumes one partition. Its fields are owned by the worker goroutine.
type worker struct {
	d         *Driver
	partition int
	start     int64
	// failures counts consecutive write failures across batches.
	failures int
}

func newWorker(d *Driver, partition int, start int64) *worker {
	return &worker{d: d, partition: partition, start: start}
}

// run polls and processes batches until ctx is done (nil) or a fatal error occurs.
func (w *worker) run(ctx context.Context) error {
	opts := w.d.opts
	sub, err := retryChannel(ctx, opts, "subscribe", func() (stream.Subscription, error) {
		return w.d.deps.Source.Subscribe(ctx, opts.Topic, w.partition, w.start)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("partition %d: %w", w.partition, err)
	}
	defer func() {
		if cerr := sub.Close(); cerr != nil {
			log.Printf("pipeline: partition %d close: %v", w.partition, cerr)
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := retryChannel(ctx, opts, "fetch", func() ([]stream.Message, error) {
			return sub.Poll(ctx, opts.BatchSize, opts.PollTimeout)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("partition %d: %w", w.partition, err)
		}
		if len(msgs) == 0 {
			continue
		}
		if err := w.processBatch(ctx, msgs); err != nil {
			return fmt.Errorf("partition %d: %w", w.partition, err)
		}
	}
}

// processBatch decodes and writes msgs in offset order, then commits the checkpoint past the
// last attempted message. A stop signal ends the batch after the record in flight.
func (w *worker) processBatch(ctx context.Context, msgs []stream.Message) error {
	opts := w.d.opts
	spanCtx, span := w.d.deps.Tracer.Start(ctx, "pipeline.batch", trace.WithAttributes(
		attribute.String("messaging.destination.name", opts.Topic),
		attribute.Int("messaging.destination.partition.id", w.partition),
		attribute.Int("messaging.batch.message_count", len(msgs)),
	))
	defer span.End()
	// In-flight writes and the commit outlive a stop signal.
	workCtx := context.WithoutCancel(spanCtx)

	attempted := 0
	for _, msg := range msgs {
		w.handle(workCtx, msg)
		attempted++
		if opts.MaxConsecutiveWriteFailures > 0 && w.failures >= opts.MaxConsecutiveWriteFailures {
			span.SetStatus(codes.Error, ErrDestinationDown.Error())
			log.Printf("pipeline: partition %d: %d consecutive write failures, giving up without commit", w.partition, w.failures)
			return ErrDestinationDown
		}
		if ctx.Err() != nil {
			break
		}
	}

	last := msgs[attempted-1]
	cp := checkpoint.Checkpoint{
		Location:   opts.Location,
		Topic:      opts.Topic,
		Partition:  w.partition,
		NextOffset: last.Offset + 1,
		Owner:      opts.Owner,
	}
	_, err := retryChannel(workCtx, opts, "commit", func() (struct{}, error) {
		cctx, cancel := context.WithTimeout(workCtx, opts.CommitTimeout)
		defer cancel()
		return struct{}{}, w.d.deps.Checkpoints.Commit(cctx, cp)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkpoint commit failed")
		return fmt.Errorf("commit %s at %d: %w", cp.Key(), cp.NextOffset, err)
	}
	w.d.deps.Observer.BatchCommitted(workCtx, cp, attempted)
	return nil
}

// handle decodes and writes one message. Failures are logged and observed, never returned.
func (w *worker) handle(ctx context.Context, msg stream.Message) {
	rec, err := w.d.deps.Decoder.Decode(msg.Value)
	if err != nil {
		log.Printf("pipeline: decode failed topic=%s partition=%d offset=%d: %v payload=%q",
			msg.Topic, msg.Partition, msg.Offset, err, decoder.Excerpt(msg.Value, payloadExcerptLen))
		w.d.deps.Observer.DecodeFailed(ctx, msg, err)
		return
	}

	ctx, span := w.d.deps.Tracer.Start(ctx, "pipeline.upsert", trace.WithAttributes(
		attribute.String("user.id", rec.ID()),
		attribute.Int64("messaging.kafka.offset", msg.Offset),
	))
	defer span.End()

	started := time.Now()
	if err := w.d.deps.Writer.Upsert(ctx, rec); err != nil {
		if repository.IsRecordRejected(err) {
			// The destination answered; only this record is bad.
			w.failures = 0
		} else {
			w.failures++
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		log.Printf("pipeline: write failed id=%s partition=%d offset=%d: %v", rec.ID(), msg.Partition, msg.Offset, err)
		w.d.deps.Observer.WriteFailed(ctx, msg, rec, err)
		return
	}
	w.failures = 0
	w.d.deps.Observer.RecordWritten(ctx, msg, rec, time.Since(started))
}

// retryChannel runs fn with exponential backoff, bounded by opts.ChannelMaxRetries retries.
// Cancellation of ctx, checkpoint regressions and missing checkpoints are not retried.
func retryChannel[T any](ctx context.Context, opts Options, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.ChannelRetryInitialInterval
	b.MaxInterval = opts.ChannelRetryMaxInterval

	v, err := backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || errors.Is(err, checkpoint.ErrRegression) || errors.Is(err, ErrNoCheckpoint) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(opts.ChannelMaxRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Printf("pipeline: %s failed, retrying in %s: %v", op, next, err)
		}),
	)
	if err != nil && ctx.Err() == nil {
		return v, fmt.Errorf("%s: %w", op, err)
	}
	return v, err
}
