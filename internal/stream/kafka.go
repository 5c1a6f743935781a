package stream

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSource reads partitions directly, without a consumer group; progress lives in the checkpoint store.
type KafkaSource struct {
	brokers []string
	dialer  *kafka.Dialer
	// MaxBytes caps a single fetch response.
	MaxBytes int
	// MaxWait bounds how long the broker holds a fetch open waiting for data.
	MaxWait time.Duration
}

// NewKafkaSource returns a Source for brokers. dialTimeout bounds each broker connection attempt.
func NewKafkaSource(brokers []string, dialTimeout time.Duration) *KafkaSource {
	return &KafkaSource{
		brokers:  brokers,
		dialer:   &kafka.Dialer{Timeout: dialTimeout, DualStack: true},
		MaxBytes: 10e6, // 10MB
		MaxWait:  500 * time.Millisecond,
	}
}

// Partitions returns the sorted partition ids of topic, trying each broker in turn.
func (s *KafkaSource) Partitions(ctx context.Context, topic string) ([]int, error) {
	if len(s.brokers) == 0 {
		return nil, &ChannelError{Op: "discover", Topic: topic, Partition: -1, Err: errors.New("no brokers configured")}
	}
	var lastErr error
	for _, broker := range s.brokers {
		conn, err := s.dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		parts, err := conn.ReadPartitions(topic)
		_ = conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		ids := make([]int, 0, len(parts))
		for _, p := range parts {
			if p.Topic == topic {
				ids = append(ids, p.ID)
			}
		}
		if len(ids) == 0 {
			lastErr = kafka.UnknownTopicOrPartition
			continue
		}
		sort.Ints(ids)
		return ids, nil
	}
	return nil, &ChannelError{Op: "discover", Topic: topic, Partition: -1, Err: lastErr}
}

// Subscribe opens a partition reader at startOffset.
func (s *KafkaSource) Subscribe(ctx context.Context, topic string, partition int, startOffset int64) (Subscription, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   s.brokers,
		Topic:     topic,
		Partition: partition,
		Dialer:    s.dialer,
		MinBytes:  1,
		MaxBytes:  s.MaxBytes,
		MaxWait:   s.MaxWait,
	})
	if err := reader.SetOffset(startOffset); err != nil {
		_ = reader.Close()
		return nil, &ChannelError{Op: "subscribe", Topic: topic, Partition: partition, Err: err}
	}
	return &kafkaSubscription{reader: reader, topic: topic, partition: partition}, nil
}

type kafkaSubscription struct {
	reader    *kafka.Reader
	topic     string
	partition int
}

func (k *kafkaSubscription) Poll(ctx context.Context, max int, timeout time.Duration) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out []Message
	for len(out) < max {
		m, err := k.reader.FetchMessage(pollCtx)
		if err != nil {
			if pollCtx.Err() != nil {
				if ctx.Err() != nil && len(out) == 0 {
					return nil, ctx.Err()
				}
				return out, nil
			}
			if len(out) > 0 {
				// Hand back what was read; the error resurfaces on the next poll.
				return out, nil
			}
			return nil, &ChannelError{Op: "fetch", Topic: k.topic, Partition: k.partition, Err: err}
		}
		out = append(out, Message{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
			Key:       m.Key,
			Value:     m.Value,
			Time:      m.Time,
		})
	}
	return out, nil
}

func (k *kafkaSubscription) Close() error {
	return k.reader.Close()
}
