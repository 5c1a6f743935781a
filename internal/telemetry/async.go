// Package telemetry decouples pipeline observers from the partition workers.
package telemetry

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"user-stream-ingestor/internal/checkpoint"
	"user-stream-ingestor/internal/pipeline"
	"user-stream-ingestor/internal/stream"
	"user-stream-ingestor/internal/user/domain"
)

// emitTimeout is the max time a queued callback may run before the next is started.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long Close waits for queued callbacks before giving up.
// Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// AsyncObserver hands callbacks to a single background goroutine so slow exporters never
// stall a partition worker. When the queue is full, callbacks are dropped and counted.
type AsyncObserver struct {
	next    pipeline.Observer
	queue   chan func()
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewAsyncObserver starts the dispatch goroutine. buffer <= 0 defaults to 1024.
func NewAsyncObserver(next pipeline.Observer, buffer int) *AsyncObserver {
	if buffer <= 0 {
		buffer = 1024
	}
	a := &AsyncObserver{
		next:  next,
		queue: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *AsyncObserver) loop() {
	defer close(a.done)
	for fn := range a.queue {
		fn()
	}
}

// enqueue detaches ctx from cancellation so a stopping worker does not abort its callbacks.
func (a *AsyncObserver) enqueue(ctx context.Context, fn func(ctx context.Context)) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	ctx = context.WithoutCancel(ctx)
	select {
	case a.queue <- func() {
		cctx, cancel := context.WithTimeout(ctx, emitTimeout)
		defer cancel()
		fn(cctx)
	}:
	default:
		if n := a.dropped.Add(1); n == 1 || n%1000 == 0 {
			log.Printf("telemetry: observer queue full, %d callbacks dropped", n)
		}
	}
}

// Dropped returns the number of callbacks discarded because the queue was full.
func (a *AsyncObserver) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting callbacks and waits up to ShutdownDrainDuration for queued ones.
func (a *AsyncObserver) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	select {
	case <-a.done:
	case <-time.After(ShutdownDrainDuration):
		log.Printf("telemetry: observer drain timed out after %s", ShutdownDrainDuration)
	}
}

func (a *AsyncObserver) RecordWritten(ctx context.Context, msg stream.Message, rec *domain.Record, took time.Duration) {
	a.enqueue(ctx, func(ctx context.Context) { a.next.RecordWritten(ctx, msg, rec, took) })
}

func (a *AsyncObserver) DecodeFailed(ctx context.Context, msg stream.Message, err error) {
	a.enqueue(ctx, func(ctx context.Context) { a.next.DecodeFailed(ctx, msg, err) })
}

func (a *AsyncObserver) WriteFailed(ctx context.Context, msg stream.Message, rec *domain.Record, err error) {
	a.enqueue(ctx, func(ctx context.Context) { a.next.WriteFailed(ctx, msg, rec, err) })
}

func (a *AsyncObserver) BatchCommitted(ctx context.Context, cp checkpoint.Checkpoint, size int) {
	a.enqueue(ctx, func(ctx context.Context) { a.next.BatchCommitted(ctx, cp, size) })
}
