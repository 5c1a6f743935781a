package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"user-stream-ingestor/internal/checkpoint"
	"user-stream-ingestor/internal/pipeline"
	"user-stream-ingestor/internal/stream"
)

var _ pipeline.Observer = (*Observer)(nil)

func TestObserver_Counters(t *testing.T) {
	o := NewObserver()
	ctx := context.Background()
	msg := stream.Message{Topic: "metrics_test_topic", Partition: 2}

	written := testutil.ToFloat64(RecordsTotal.WithLabelValues(msg.Topic, ResultWritten))
	decodeErrs := testutil.ToFloat64(ErrorsTotal.WithLabelValues("decode"))
	writeErrs := testutil.ToFloat64(ErrorsTotal.WithLabelValues("write"))

	o.RecordWritten(ctx, msg, nil, 3*time.Millisecond)
	o.RecordWritten(ctx, msg, nil, 5*time.Millisecond)
	o.DecodeFailed(ctx, msg, errors.New("bad"))
	o.WriteFailed(ctx, msg, nil, errors.New("down"))

	if got := testutil.ToFloat64(RecordsTotal.WithLabelValues(msg.Topic, ResultWritten)) - written; got != 2 {
		t.Errorf("written delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(RecordsTotal.WithLabelValues(msg.Topic, ResultDecodeFailed)); got != 1 {
		t.Errorf("decode_failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(RecordsTotal.WithLabelValues(msg.Topic, ResultWriteFailed)); got != 1 {
		t.Errorf("write_failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ErrorsTotal.WithLabelValues("decode")) - decodeErrs; got != 1 {
		t.Errorf("decode errors delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ErrorsTotal.WithLabelValues("write")) - writeErrs; got != 1 {
		t.Errorf("write errors delta = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(WriteLatency); n == 0 {
		t.Error("WriteLatency should have samples")
	}
}

func TestObserver_BatchCommitted(t *testing.T) {
	o := NewObserver()
	cp := checkpoint.Checkpoint{Topic: "metrics_commit_topic", Partition: 4, NextOffset: 1200}
	o.BatchCommitted(context.Background(), cp, 500)
	o.BatchCommitted(context.Background(), checkpoint.Checkpoint{Topic: cp.Topic, Partition: 4, NextOffset: 1700}, 500)

	if got := testutil.ToFloat64(BatchesTotal.WithLabelValues(cp.Topic)); got != 2 {
		t.Errorf("batches = %v, want 2", got)
	}
	if got := testutil.ToFloat64(LastCommittedOffset.WithLabelValues(cp.Topic, "4")); got != 1700 {
		t.Errorf("last_committed_offset = %v, want 1700", got)
	}
}

func TestSetState(t *testing.T) {
	SetState(pipeline.StateConsuming)
	if got := testutil.ToFloat64(PipelineState); got != float64(pipeline.StateConsuming) {
		t.Errorf("pipeline_state = %v, want %d", got, pipeline.StateConsuming)
	}
	SetState(pipeline.StateFailed)
	if got := testutil.ToFloat64(PipelineState); got != 4 {
		t.Errorf("pipeline_state = %v, want 4", got)
	}
}
