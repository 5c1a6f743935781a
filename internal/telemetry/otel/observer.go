package otel

import (
	"context"
	"errors"
	"strconv"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"user-stream-ingestor/internal/checkpoint"
	"user-stream-ingestor/internal/stream"
	"user-stream-ingestor/internal/user/decoder"
	"user-stream-ingestor/internal/user/domain"
)

// Event names set on emitted log records.
const (
	EventRecordWritten  = "ingest.record.written"
	EventDecodeFailed   = "ingest.record.decode_failed"
	EventWriteFailed    = "ingest.record.write_failed"
	EventBatchCommitted = "ingest.batch.committed"
)

// excerptLen bounds the payload bytes put in a decode failure record.
const excerptLen = 256

// recordEmitter is the part of otellog.Logger the observer needs.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// RecordObserver mirrors pipeline outcomes as OTel log records. It never touches the destination.
type RecordObserver struct {
	logger recordEmitter
	// Written enables one debug record per persisted user; off by default because of volume.
	Written bool
}

// NewRecordObserver returns an observer that emits through provider. A nil provider yields a
// RecordObserver that drops everything.
func NewRecordObserver(provider *sdklog.LoggerProvider) *RecordObserver {
	if provider == nil {
		return &RecordObserver{}
	}
	return &RecordObserver{logger: provider.Logger("user-stream-ingestor/pipeline")}
}

// NewRecordObserverWithEmitter is NewRecordObserver over an arbitrary emitter.
func NewRecordObserverWithEmitter(e recordEmitter) *RecordObserver {
	return &RecordObserver{logger: e}
}

func (o *RecordObserver) emit(ctx context.Context, rec otellog.Record) {
	if o.logger == nil {
		return
	}
	if rec.Timestamp().IsZero() {
		rec.SetTimestamp(time.Now().UTC())
	}
	o.logger.Emit(ctx, rec)
}

func messageAttrs(msg stream.Message) []otellog.KeyValue {
	return []otellog.KeyValue{
		otellog.String("topic", msg.Topic),
		otellog.Int("partition", msg.Partition),
		otellog.Int64("offset", msg.Offset),
	}
}

func (o *RecordObserver) RecordWritten(ctx context.Context, msg stream.Message, rec *domain.Record, took time.Duration) {
	if !o.Written {
		return
	}
	var r otellog.Record
	r.SetEventName(EventRecordWritten)
	r.SetSeverity(otellog.SeverityDebug)
	r.SetBody(otellog.StringValue("user record persisted"))
	r.AddAttributes(messageAttrs(msg)...)
	r.AddAttributes(
		otellog.String("user_id", rec.ID()),
		otellog.Int64("write_latency_us", took.Microseconds()),
	)
	o.emit(ctx, r)
}

func (o *RecordObserver) DecodeFailed(ctx context.Context, msg stream.Message, err error) {
	var r otellog.Record
	r.SetEventName(EventDecodeFailed)
	r.SetSeverity(otellog.SeverityError)
	r.SetBody(otellog.StringValue(err.Error()))
	r.AddAttributes(messageAttrs(msg)...)
	var de *decoder.DecodeError
	if errors.As(err, &de) {
		r.AddAttributes(otellog.String("kind", string(de.Kind)))
	}
	r.AddAttributes(otellog.String("payload_excerpt", decoder.Excerpt(msg.Value, excerptLen)))
	o.emit(ctx, r)
}

func (o *RecordObserver) WriteFailed(ctx context.Context, msg stream.Message, rec *domain.Record, err error) {
	var r otellog.Record
	r.SetEventName(EventWriteFailed)
	r.SetSeverity(otellog.SeverityError)
	r.SetBody(otellog.StringValue(err.Error()))
	r.AddAttributes(messageAttrs(msg)...)
	r.AddAttributes(otellog.String("user_id", rec.ID()))
	o.emit(ctx, r)
}

func (o *RecordObserver) BatchCommitted(ctx context.Context, cp checkpoint.Checkpoint, size int) {
	var r otellog.Record
	r.SetEventName(EventBatchCommitted)
	r.SetSeverity(otellog.SeverityInfo)
	r.SetBody(otellog.StringValue("checkpoint " + cp.Key() + " at " + strconv.FormatInt(cp.NextOffset, 10)))
	r.AddAttributes(
		otellog.String("location", cp.Location),
		otellog.String("topic", cp.Topic),
		otellog.Int("partition", cp.Partition),
		otellog.Int64("next_offset", cp.NextOffset),
		otellog.Int("batch_size", size),
		otellog.String("owner", cp.Owner),
	)
	o.emit(ctx, r)
}
