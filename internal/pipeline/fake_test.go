package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"user-stream-ingestor/internal/checkpoint"
	"user-stream-ingestor/internal/stream"
	"user-stream-ingestor/internal/user/domain"
	"user-stream-ingestor/internal/user/repository"
)

const testTopic = "users_data"

// fakeSource serves fixed messages per partition. Offsets equal slice indexes.
type fakeSource struct {
	mu         sync.Mutex
	partitions map[int][]stream.Message
	partErr    error
	partCalls  int
	// pollErrs fails that many polls per subscription before serving messages.
	pollErrs int
	starts   map[int]int64
}

func newFakeSource(partitions map[int][][]byte) *fakeSource {
	s := &fakeSource{partitions: make(map[int][]stream.Message), starts: make(map[int]int64)}
	for p, payloads := range partitions {
		msgs := make([]stream.Message, len(payloads))
		for i, v := range payloads {
			msgs[i] = stream.Message{Topic: testTopic, Partition: p, Offset: int64(i), Value: v, Time: time.Now()}
		}
		s.partitions[p] = msgs
	}
	return s
}

func (s *fakeSource) Partitions(ctx context.Context, topic string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partCalls++
	if s.partErr != nil {
		return nil, &stream.ChannelError{Op: "discover", Topic: topic, Partition: -1, Err: s.partErr}
	}
	ids := make([]int, 0, len(s.partitions))
	for p := 0; len(ids) < len(s.partitions); p++ {
		if _, ok := s.partitions[p]; ok {
			ids = append(ids, p)
		}
	}
	return ids, nil
}

func (s *fakeSource) Subscribe(ctx context.Context, topic string, partition int, startOffset int64) (stream.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, ok := s.partitions[partition]
	if !ok {
		return nil, fmt.Errorf("unknown partition %d", partition)
	}
	s.starts[partition] = startOffset
	pos := int(startOffset)
	switch startOffset {
	case stream.FirstOffset:
		pos = 0
	case stream.LastOffset:
		pos = len(msgs)
	}
	return &fakeSub{msgs: msgs, pos: pos, failures: s.pollErrs}, nil
}

func (s *fakeSource) start(partition int) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	off, ok := s.starts[partition]
	return off, ok
}

func (s *fakeSource) subscribed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.starts)
}

type fakeSub struct {
	msgs     []stream.Message
	pos      int
	failures int
}

func (f *fakeSub) Poll(ctx context.Context, max int, timeout time.Duration) ([]stream.Message, error) {
	if f.failures > 0 {
		f.failures--
		return nil, &stream.ChannelError{Op: "fetch", Topic: testTopic, Partition: 0, Err: errors.New("connection reset")}
	}
	if f.pos >= len(f.msgs) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(timeout):
			return nil, nil
		}
	}
	end := f.pos + max
	if end > len(f.msgs) {
		end = len(f.msgs)
	}
	out := f.msgs[f.pos:end]
	f.pos = end
	return out, nil
}

func (f *fakeSub) Close() error { return nil }

// fakeWriter stores records by id. fail, when set, decides per record whether the write fails.
type fakeWriter struct {
	mu     sync.Mutex
	rows   map[string]*domain.Record
	writes []string
	fail   func(id string) bool
	// failErr, when set, is returned for failing writes instead of a generic error.
	failErr error
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{rows: make(map[string]*domain.Record)}
}

func (w *fakeWriter) Upsert(ctx context.Context, rec *domain.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil && w.fail(rec.ID()) {
		if w.failErr != nil {
			return &repository.WriteError{ID: rec.ID(), Err: w.failErr}
		}
		return errors.New("constraint violation")
	}
	w.rows[rec.ID()] = rec
	w.writes = append(w.writes, rec.ID())
	return nil
}

func (w *fakeWriter) row(id string) (*domain.Record, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rows[id]
	return r, ok
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rows)
}

// countingObserver tallies callbacks. onWritten, when set, runs after each successful write.
type countingObserver struct {
	mu        sync.Mutex
	written   int
	decodeErr int
	writeErr  int
	batches   []int
	onWritten func(msg stream.Message)
}

func (o *countingObserver) RecordWritten(ctx context.Context, msg stream.Message, rec *domain.Record, took time.Duration) {
	o.mu.Lock()
	o.written++
	fn := o.onWritten
	o.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (o *countingObserver) DecodeFailed(ctx context.Context, msg stream.Message, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decodeErr++
}

func (o *countingObserver) WriteFailed(ctx context.Context, msg stream.Message, rec *domain.Record, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writeErr++
}

func (o *countingObserver) BatchCommitted(ctx context.Context, cp checkpoint.Checkpoint, size int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches = append(o.batches, size)
}

func (o *countingObserver) snapshot() (written, decodeErr, writeErr int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.written, o.decodeErr, o.writeErr
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func userPayload(id, firstName string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"first_name":%q,"last_name":"Doe","email":"%s@example.com"}`, id, firstName, id))
}
