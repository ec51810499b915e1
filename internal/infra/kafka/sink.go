package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vietddude/redeliver/internal/core/domain"
	"github.com/vietddude/redeliver/internal/metrics"
	"github.com/vietddude/redeliver/internal/transport"
)

// Config holds Kafka producer configuration.
type Config struct {
	Brokers []string `yaml:"brokers"`
	// Topics maps a dispatch address to a topic. Addresses without an entry use
	// the address itself as topic name.
	Topics map[string]string `yaml:"topics"`
}

// Sink dispatches messages to Kafka topics. Kafka has no deferred delivery, so
// delayed operations are rejected.
type Sink struct {
	producer sarama.SyncProducer
	topics   map[string]string
}

// New connects a synchronous producer to the brokers.
func New(cfg Config) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka sink: at least one broker is required")
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka sink: create sync producer: %w", err)
	}
	return NewFromProducer(producer, cfg.Topics), nil
}

// NewFromProducer wraps an existing producer.
func NewFromProducer(producer sarama.SyncProducer, topics map[string]string) *Sink {
	if topics == nil {
		topics = map[string]string{}
	}
	return &Sink{producer: producer, topics: topics}
}

// DefaultConfig returns an idempotent producer config acknowledged by all replicas.
func DefaultConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 6
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// SupportsDelayedDelivery implements transport.DelayedDeliverySupporter.
func (s *Sink) SupportsDelayedDelivery() bool { return false }

// Topic returns the topic an address maps to.
func (s *Sink) Topic(address string) string {
	if topic, ok := s.topics[address]; ok && topic != "" {
		return topic
	}
	return address
}

// Dispatch implements transport.Dispatcher.
func (s *Sink) Dispatch(
	ctx context.Context,
	ops []domain.TransportOperation,
	txn *domain.TransportTransaction,
) error {
	now, err := transport.Split(ops, txn)
	if err != nil {
		return err
	}
	if len(now) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(now))
	for _, op := range now {
		if op.IsDelayed() {
			return fmt.Errorf("kafka sink: %s: %w", op.Destination, transport.ErrDelayedDeliveryNotSupported)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic:   s.Topic(op.Destination),
			Key:     sarama.StringEncoder(op.Message.MessageID),
			Value:   sarama.ByteEncoder(op.Message.Body),
			Headers: toRecordHeaders(op.Message.Headers),
		})
	}

	start := time.Now()
	err = s.producer.SendMessages(msgs)
	metrics.DispatchLatency.WithLabelValues("kafka").Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("kafka sink: send: %w", err)
	}
	return nil
}

// Close releases the producer.
func (s *Sink) Close() error {
	return s.producer.Close()
}

func toRecordHeaders(headers domain.Headers) []sarama.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	out := make([]sarama.RecordHeader, 0, len(headers))
	for k, v := range headers {
		out = append(out, sarama.RecordHeader{
			Key:   []byte(k),
			Value: []byte(v),
		})
	}
	return out
}
