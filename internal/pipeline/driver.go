// Package pipeline drives micro-batch consumption: fetch from the channel, decode, upsert, commit.
//
// One worker runs per partition. The destination is provisioned once before any worker starts.
// A batch's checkpoint is committed only after every message in it was attempted, so delivery is
// at-least-once and relies on idempotent upserts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"user-stream-ingestor/internal/checkpoint"
	"user-stream-ingestor/internal/stream"
	"user-stream-ingestor/internal/user/domain"
	"user-stream-ingestor/internal/user/repository"
)

// StartPolicy selects where a partition without a checkpoint starts.
type StartPolicy string

const (
	StartEarliest StartPolicy = "earliest"
	StartLatest   StartPolicy = "latest"
	// StartResume requires a stored checkpoint for every partition.
	StartResume StartPolicy = "resume-from-checkpoint"
)

// ParseStartPolicy validates s.
func ParseStartPolicy(s string) (StartPolicy, error) {
	switch p := StartPolicy(s); p {
	case StartEarliest, StartLatest, StartResume:
		return p, nil
	}
	return "", fmt.Errorf("starting offsets must be earliest, latest or resume-from-checkpoint, got %q", s)
}

var (
	// ErrDestinationDown is returned when consecutive write failures reach the configured threshold.
	ErrDestinationDown = errors.New("destination unavailable: consecutive write failures reached threshold")
	// ErrNoCheckpoint is returned under StartResume for a partition that never committed.
	ErrNoCheckpoint = errors.New("no stored checkpoint to resume from")
)

// Provisioner prepares a dependency before consumption starts.
type Provisioner interface {
	EnsureDestination(ctx context.Context) error
}

// ProvisionFunc adapts a function to Provisioner.
type ProvisionFunc func(ctx context.Context) error

func (f ProvisionFunc) EnsureDestination(ctx context.Context) error { return f(ctx) }

// Decoder turns a payload into a validated record.
type Decoder interface {
	Decode(payload []byte) (*domain.Record, error)
}

// Options tunes the driver. Zero values take the defaults noted per field.
type Options struct {
	Topic string
	// Location groups this pipeline's checkpoints in the store.
	Location    string
	StartPolicy StartPolicy
	// Owner tags committed checkpoints; usually a per-process id.
	Owner string
	// BatchSize caps messages per micro-batch (default 500).
	BatchSize int
	// PollTimeout bounds the wait for one batch (default 1s).
	PollTimeout time.Duration
	// CommitTimeout bounds one checkpoint commit (default 10s).
	CommitTimeout time.Duration
	// MaxConsecutiveWriteFailures escalates to FAILED when reached; 0 disables.
	MaxConsecutiveWriteFailures int
	// ChannelMaxRetries bounds retries of channel and commit errors (default 5).
	ChannelMaxRetries uint
	// ChannelRetryInitialInterval is the first backoff delay (default 200ms).
	ChannelRetryInitialInterval time.Duration
	// ChannelRetryMaxInterval caps the backoff delay (default 10s).
	ChannelRetryMaxInterval time.Duration
}

func (o *Options) setDefaults() {
	if o.StartPolicy == "" {
		o.StartPolicy = StartEarliest
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = time.Second
	}
	if o.CommitTimeout <= 0 {
		o.CommitTimeout = 10 * time.Second
	}
	if o.ChannelMaxRetries == 0 {
		o.ChannelMaxRetries = 5
	}
	if o.ChannelRetryInitialInterval <= 0 {
		o.ChannelRetryInitialInterval = 200 * time.Millisecond
	}
	if o.ChannelRetryMaxInterval <= 0 {
		o.ChannelRetryMaxInterval = 10 * time.Second
	}
}

// Deps are the collaborators the driver owns for its lifetime. All are required except
// Observer, Tracer and OnStateChange.
type Deps struct {
	Source       stream.Source
	Decoder      Decoder
	Writer       repository.Writer
	Checkpoints  checkpoint.Store
	Provisioners []Provisioner
	Observer     Observer
	Tracer       trace.Tracer
	// OnStateChange is called synchronously on every transition.
	OnStateChange func(State)
}

// Driver runs the pipeline state machine.
type Driver struct {
	opts  Options
	deps  Deps
	state atomic.Int32
}

// NewDriver validates opts and deps and returns a Driver in STARTING.
func NewDriver(opts Options, deps Deps) (*Driver, error) {
	opts.setDefaults()
	if opts.Topic == "" {
		return nil, errors.New("pipeline: topic is required")
	}
	if _, err := ParseStartPolicy(string(opts.StartPolicy)); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if deps.Source == nil || deps.Decoder == nil || deps.Writer == nil || deps.Checkpoints == nil {
		return nil, errors.New("pipeline: source, decoder, writer and checkpoint store are required")
	}
	if len(deps.Provisioners) == 0 {
		return nil, errors.New("pipeline: at least one provisioner is required")
	}
	if deps.Observer == nil {
		deps.Observer = Observers(nil)
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("user-stream-ingestor/pipeline")
	}
	d := &Driver{opts: opts, deps: deps}
	d.state.Store(int32(StateStarting))
	return d, nil
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	return State(d.state.Load())
}

func (d *Driver) setState(s State) {
	d.state.Store(int32(s))
	log.Printf("pipeline: state %s", s)
	if d.deps.OnStateChange != nil {
		d.deps.OnStateChange(s)
	}
}

// Run provisions, then consumes until ctx is cancelled (STOPPED, nil error) or a worker
// fails (FAILED, non-nil error). Run must be called once.
func (d *Driver) Run(ctx context.Context) error {
	if d.State() != StateStarting {
		return fmt.Errorf("pipeline: Run called in state %s", d.State())
	}

	d.setState(StateProvisioning)
	for _, p := range d.deps.Provisioners {
		if err := p.EnsureDestination(ctx); err != nil {
			if ctx.Err() != nil {
				d.setState(StateStopped)
				return nil
			}
			d.setState(StateFailed)
			return fmt.Errorf("destination not provisioned: %w", err)
		}
	}
	if ctx.Err() != nil {
		d.setState(StateStopped)
		return nil
	}

	partitions, err := retryChannel(ctx, d.opts, "discover partitions", func() ([]int, error) {
		return d.deps.Source.Partitions(ctx, d.opts.Topic)
	})
	if err != nil {
		if ctx.Err() != nil {
			d.setState(StateStopped)
			return nil
		}
		d.setState(StateFailed)
		return err
	}

	workers := make([]*worker, 0, len(partitions))
	for _, p := range partitions {
		start, err := d.startOffset(ctx, p)
		if err != nil {
			d.setState(StateFailed)
			return err
		}
		workers = append(workers, newWorker(d, p, start))
	}

	d.setState(StateConsuming)
	log.Printf("pipeline: consuming topic %s partitions %v", d.opts.Topic, partitions)

	// The first failing worker cancels gctx, which stops its siblings.
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error { return w.run(gctx) })
	}

	if firstErr := g.Wait(); firstErr != nil {
		d.setState(StateFailed)
		return firstErr
	}
	d.setState(StateStopped)
	return nil
}

// startOffset resolves where partition p begins. A stored checkpoint always wins.
func (d *Driver) startOffset(ctx context.Context, p int) (int64, error) {
	cp, ok, err := d.deps.Checkpoints.Load(ctx, d.opts.Location, d.opts.Topic, p)
	if err != nil {
		return 0, fmt.Errorf("checkpoint store: %w", err)
	}
	if ok {
		log.Printf("pipeline: partition %d resumes at offset %d", p, cp.NextOffset)
		return cp.NextOffset, nil
	}
	switch d.opts.StartPolicy {
	case StartLatest:
		return stream.LastOffset, nil
	case StartResume:
		return 0, fmt.Errorf("partition %d of %s at %q: %w", p, d.opts.Topic, d.opts.Location, ErrNoCheckpoint)
	default:
		return stream.FirstOffset, nil
	}
}
