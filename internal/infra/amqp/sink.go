package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/vietddude/redeliver/internal/core/domain"
	"github.com/vietddude/redeliver/internal/metrics"
	"github.com/vietddude/redeliver/internal/transport"
)

// Config holds RabbitMQ publisher configuration.
type Config struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	// RoutingKeys maps a dispatch address to a routing key. Addresses without
	// an entry use the address itself as routing key.
	RoutingKeys map[string]string `yaml:"routing_keys"`
}

// Channel is the subset of *amqp.Channel the sink publishes through.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// ErrNacked is returned when the broker rejects a publish.
var ErrNacked = errors.New("amqp sink: publish nacked by broker")

// Sink publishes messages to a RabbitMQ exchange with publisher confirms.
// Deferred delivery is not available.
type Sink struct {
	mu       sync.Mutex
	ch       Channel
	confirms <-chan amqp.Confirmation
	conn     *amqp.Connection
	exchange string
	keys     map[string]string
}

// Dial connects to the broker and puts a fresh channel in confirm mode.
func Dial(cfg Config) (*Sink, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp sink: url is required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp sink: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp sink: open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp sink: enable confirms: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	s := NewFromChannel(ch, confirms, cfg)
	s.conn = conn
	return s, nil
}

// NewFromChannel wraps a channel already in confirm mode.
func NewFromChannel(ch Channel, confirms <-chan amqp.Confirmation, cfg Config) *Sink {
	keys := cfg.RoutingKeys
	if keys == nil {
		keys = map[string]string{}
	}
	return &Sink{ch: ch, confirms: confirms, exchange: cfg.Exchange, keys: keys}
}

// SupportsDelayedDelivery implements transport.DelayedDeliverySupporter.
func (s *Sink) SupportsDelayedDelivery() bool { return false }

// RoutingKey returns the routing key an address maps to.
func (s *Sink) RoutingKey(address string) string {
	if key, ok := s.keys[address]; ok && key != "" {
		return key
	}
	return address
}

// Dispatch implements transport.Dispatcher. Each message is confirmed before
// the next one is published.
func (s *Sink) Dispatch(
	ctx context.Context,
	ops []domain.TransportOperation,
	txn *domain.TransportTransaction,
) error {
	now, err := transport.Split(ops, txn)
	if err != nil {
		return err
	}
	for _, op := range now {
		if op.IsDelayed() {
			return fmt.Errorf("amqp sink: %s: %w", op.Destination, transport.ErrDelayedDeliveryNotSupported)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range now {
		start := time.Now()
		err := s.publish(ctx, op)
		metrics.DispatchLatency.WithLabelValues("amqp").Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) publish(ctx context.Context, op domain.TransportOperation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := amqp.Publishing{
		Headers:      toTable(op.Message.Headers),
		MessageId:    op.Message.MessageID,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         op.Message.Body,
	}
	if ct, ok := op.Message.Headers[domain.HeaderContentType]; ok {
		msg.ContentType = ct
	}
	if err := s.ch.Publish(s.exchange, s.RoutingKey(op.Destination), false, false, msg); err != nil {
		return fmt.Errorf("amqp sink: publish to %s: %w", op.Destination, err)
	}

	select {
	case c, ok := <-s.confirms:
		if !ok {
			return errors.New("amqp sink: channel closed before confirm")
		}
		if !c.Ack {
			return fmt.Errorf("%w (tag %d)", ErrNacked, c.DeliveryTag)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the channel and the connection it was dialed on.
func (s *Sink) Close() error {
	err := s.ch.Close()
	if s.conn != nil {
		if cerr := s.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func toTable(headers domain.Headers) amqp.Table {
	if len(headers) == 0 {
		return nil
	}
	t := make(amqp.Table, len(headers))
	for k, v := range headers {
		t[k] = v
	}
	return t
}
