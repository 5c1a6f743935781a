// Package metrics exposes pipeline counters to Prometheus and feeds them from pipeline callbacks.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"user-stream-ingestor/internal/checkpoint"
	"user-stream-ingestor/internal/pipeline"
	"user-stream-ingestor/internal/stream"
	"user-stream-ingestor/internal/user/domain"
)

const namespace = "user_ingestor"

// Record results.
const (
	ResultWritten      = "written"
	ResultDecodeFailed = "decode_failed"
	ResultWriteFailed  = "write_failed"
)

var (
	RecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Total records processed by result.",
		},
		[]string{"topic", "result"},
	)
	BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total micro-batches committed per topic.",
		},
		[]string{"topic"},
	)
	WriteLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_latency_seconds",
			Help:      "Upsert latency of persisted records.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"topic"},
	)
	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total per-record errors by stage.",
		},
		[]string{"stage"},
	)
	LastCommittedOffset = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_committed_offset",
			Help:      "Next offset to read per topic/partition, as last committed.",
		},
		[]string{"topic", "partition"},
	)
	PipelineState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_state",
			Help:      "Pipeline state: 0 starting, 1 provisioning, 2 consuming, 3 stopped, 4 failed.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RecordsTotal,
		BatchesTotal,
		WriteLatency,
		ErrorsTotal,
		LastCommittedOffset,
		PipelineState,
	)
}

// Observer updates the package collectors from pipeline callbacks.
type Observer struct{}

// NewObserver returns an Observer.
func NewObserver() *Observer { return &Observer{} }

func (*Observer) RecordWritten(_ context.Context, msg stream.Message, _ *domain.Record, took time.Duration) {
	RecordsTotal.WithLabelValues(msg.Topic, ResultWritten).Inc()
	WriteLatency.WithLabelValues(msg.Topic).Observe(took.Seconds())
}

func (*Observer) DecodeFailed(_ context.Context, msg stream.Message, _ error) {
	RecordsTotal.WithLabelValues(msg.Topic, ResultDecodeFailed).Inc()
	ErrorsTotal.WithLabelValues("decode").Inc()
}

func (*Observer) WriteFailed(_ context.Context, msg stream.Message, _ *domain.Record, _ error) {
	RecordsTotal.WithLabelValues(msg.Topic, ResultWriteFailed).Inc()
	ErrorsTotal.WithLabelValues("write").Inc()
}

func (*Observer) BatchCommitted(_ context.Context, cp checkpoint.Checkpoint, _ int) {
	BatchesTotal.WithLabelValues(cp.Topic).Inc()
	LastCommittedOffset.WithLabelValues(cp.Topic, strconv.Itoa(cp.Partition)).Set(float64(cp.NextOffset))
}

// SetState records s; suitable as a pipeline OnStateChange hook.
func SetState(s pipeline.State) {
	PipelineState.Set(float64(s))
}
